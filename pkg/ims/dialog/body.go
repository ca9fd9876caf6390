package dialog

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Body представляет согласованное содержимое диалога (SDP, CPIM, resource-lists ...).
// Ядро не интерпретирует содержимое, только хранит его вместе с MIME типом.
type Body struct {
	contentType string
	content     []byte
}

// NewBody создает тело с указанным типом содержимого
func NewBody(contentType string, content []byte) Body {
	return Body{contentType: contentType, content: content}
}

// ContentType возвращает MIME тип содержимого
func (b Body) ContentType() string {
	return b.contentType
}

// Content возвращает байты содержимого
func (b Body) Content() []byte {
	return b.content
}

// IsEmpty возвращает true, если содержимое отсутствует
func (b Body) IsEmpty() bool {
	return len(b.content) == 0
}

// Clone создает независимую копию тела
func (b Body) Clone() Body {
	content := make([]byte, len(b.content))
	copy(content, b.content)
	return Body{contentType: b.contentType, content: content}
}

// Part описывает одну часть multipart тела
type Part struct {
	ContentType string
	// Disposition опциональное значение Content-Disposition (например "recipient-list")
	Disposition string
	Content     []byte
}

// DefaultBoundary граница multipart тела по умолчанию
const DefaultBoundary = "boundary1"

// NewMultipartBody собирает multipart/mixed тело из частей.
func NewMultipartBody(boundary string, parts ...Part) (Body, error) {
	if boundary == "" {
		boundary = DefaultBoundary
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return Body{}, errors.Wrap(err, "invalid multipart boundary")
	}

	for _, p := range parts {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Type", p.ContentType)
		hdr.Set("Content-Length", strconv.Itoa(len(p.Content)))
		if p.Disposition != "" {
			hdr.Set("Content-Disposition", p.Disposition)
		}
		pw, err := w.CreatePart(hdr)
		if err != nil {
			return Body{}, errors.Wrap(err, "failed to create multipart part")
		}
		if _, err := pw.Write(p.Content); err != nil {
			return Body{}, errors.Wrap(err, "failed to write multipart part")
		}
	}
	if err := w.Close(); err != nil {
		return Body{}, errors.Wrap(err, "failed to close multipart body")
	}

	return NewBody("multipart/mixed;boundary="+boundary, buf.Bytes()), nil
}

// Parts разбирает тело на части. Для не-multipart тела возвращается одна часть.
func (b Body) Parts() ([]Part, error) {
	mediaType, params, err := mime.ParseMediaType(b.contentType)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid content type %q", b.contentType)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return []Part{{ContentType: b.contentType, Content: b.content}}, nil
	}

	r := multipart.NewReader(bytes.NewReader(b.content), params["boundary"])
	var parts []Part
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read multipart part")
		}
		content, err := io.ReadAll(p)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read multipart content")
		}
		parts = append(parts, Part{
			ContentType: p.Header.Get("Content-Type"),
			Disposition: p.Header.Get("Content-Disposition"),
			Content:     content,
		})
	}
	return parts, nil
}

// Part возвращает первую часть с указанным MIME типом (без учета параметров)
func (b Body) Part(mediaType string) (Part, bool) {
	parts, err := b.Parts()
	if err != nil {
		return Part{}, false
	}
	for _, p := range parts {
		mt, _, err := mime.ParseMediaType(p.ContentType)
		if err != nil {
			continue
		}
		if strings.EqualFold(mt, mediaType) {
			return p, true
		}
	}
	return Part{}, false
}
