package transfer

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const maxFileInfoSize = 64 * 1024

// Content описание локального файла для отправки
type Content struct {
	Path     string
	Name     string
	MimeType string
	Size     int64
}

// Upload загружает файл на HTTP сервер передачи файлов
type Upload struct {
	state
	opts      Options
	serverURL string
	login     string
	password  string
	content   Content
	thumbnail []byte
}

// NewUpload создает загрузку. thumbnail может быть nil.
func NewUpload(opts Options, serverURL, login, password string, content Content, thumbnail []byte) *Upload {
	opts.normalize()
	if content.Name == "" {
		content.Name = filepath.Base(content.Path)
	}
	u := &Upload{
		opts:      opts,
		serverURL: serverURL,
		login:     login,
		password:  password,
		content:   content,
		thumbnail: thumbnail,
	}
	u.total.Store(content.Size)
	return u
}

// Content возвращает описание отправляемого файла
func (u *Upload) Content() Content {
	return u.content
}

// Start отправляет multipart POST (tid, Thumbnail, File) и возвращает ответ сервера
// с описанием файла. Отмена дает ErrCancelled.
func (u *Upload) Start(ctx context.Context) ([]byte, error) {
	f, err := os.Open(u.content.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", u.content.Path)
	}
	defer f.Close()

	if u.content.Size == 0 {
		if st, err := f.Stat(); err == nil {
			u.content.Size = st.Size()
			u.total.Store(st.Size())
		}
	}

	ctx, cancel := u.begin(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(u.writeBody(mw, f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.serverURL, pr)
	if err != nil {
		pr.Close()
		return nil, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if u.login != "" {
		req.SetBasicAuth(u.login, u.password)
	}

	u.opts.Logger.Debug("Загрузка файла",
		slog.String("name", u.content.Name),
		slog.Int64("size", u.content.Size),
		slog.String("server", u.serverURL))

	resp, err := u.opts.Client.Do(req)
	if err != nil {
		pr.Close()
		return nil, u.result(errors.Wrap(err, "upload request failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, u.result(errors.Errorf("upload rejected with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileInfoSize))
	if err != nil {
		return nil, u.result(errors.Wrap(err, "read upload response"))
	}
	return body, u.result(nil)
}

func (u *Upload) writeBody(mw *multipart.Writer, f io.Reader) error {
	if err := mw.WriteField("tid", uuid.NewString()); err != nil {
		return err
	}

	if len(u.thumbnail) > 0 {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="Thumbnail"; filename="thumb_`+u.content.Name+`"`)
		hdr.Set("Content-Type", "image/jpeg")
		w, err := mw.CreatePart(hdr)
		if err != nil {
			return err
		}
		if _, err := w.Write(u.thumbnail); err != nil {
			return err
		}
	}

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="File"; filename="`+u.content.Name+`"`)
	hdr.Set("Content-Type", u.content.MimeType)
	hdr.Set("Content-Length", strconv.FormatInt(u.content.Size, 10))
	w, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	if err := u.copyChunks(w, f, &u.opts, "upload"); err != nil {
		return err
	}
	return mw.Close()
}
