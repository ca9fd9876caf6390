package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	maxThumbnailSize = 1024 * 1024
	maxNameAttempts  = 1000
)

// Download скачивает файл по описанию FileInfo в каталог загрузок
type Download struct {
	state
	opts Options
	info FileInfo
	dir  string
}

// NewDownload создает скачивание
func NewDownload(opts Options, info FileInfo, dir string) *Download {
	opts.normalize()
	d := &Download{opts: opts, info: info, dir: dir}
	d.total.Store(info.Size)
	return d
}

// Info возвращает описание скачиваемого файла
func (d *Download) Info() FileInfo {
	return d.info
}

// Start скачивает файл и возвращает путь к нему. Существующие файлы не
// перезаписываются. Частично записанный файл удаляется при ошибке и отмене.
func (d *Download) Start(ctx context.Context) (string, error) {
	ctx, cancel := d.begin(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.info.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "build download request")
	}

	d.opts.Logger.Debug("Скачивание файла", slog.String("url", d.info.URL), slog.Int64("size", d.info.Size))

	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return "", d.result(errors.Wrap(err, "download request failed"))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", d.result(errors.Errorf("download failed with status %d", resp.StatusCode))
	}

	f, out, err := createUnique(d.dir, fileName(d.info))
	if err != nil {
		return "", err
	}

	err = d.copyChunks(f, resp.Body, &d.opts, "download")
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "close %s", out)
	}
	switch {
	case err != nil:
		err = d.result(errors.Wrap(err, "download interrupted"))
	case d.info.Size > 0 && d.done.Load() != d.info.Size:
		err = errors.Errorf("downloaded %d bytes, expected %d", d.done.Load(), d.info.Size)
	default:
		err = d.result(nil)
	}
	if err != nil {
		if rmErr := os.Remove(out); rmErr != nil {
			d.opts.Logger.Warn("Не удалось удалить частичный файл", slog.String("path", out), slog.Any("error", rmErr))
		}
		return "", err
	}
	return out, nil
}

// DownloadThumbnail скачивает миниатюру в память
func (d *Download) DownloadThumbnail(ctx context.Context) ([]byte, error) {
	if d.info.Thumbnail == nil || d.info.Thumbnail.URL == "" {
		return nil, nil
	}
	ctx, cancel := d.begin(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.info.Thumbnail.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build thumbnail request")
	}
	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return nil, d.result(errors.Wrap(err, "thumbnail request failed"))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("thumbnail download failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxThumbnailSize))
	if err != nil {
		return nil, d.result(errors.Wrap(err, "read thumbnail"))
	}
	return data, nil
}

// createUnique создает новый файл в dir. При занятом имени к нему
// добавляется суффикс "-N" перед расширением.
func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", errors.Wrapf(err, "create %s", path)
		}
	}
	return nil, "", errors.Errorf("no free file name for %s in %s", name, dir)
}

// fileName возвращает безопасное имя файла для записи в каталог загрузок
func fileName(info FileInfo) string {
	name := filepath.Base(strings.ReplaceAll(info.Name, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		name = filepath.Base(strings.TrimRight(info.URL, "/"))
	}
	if name == "" || name == "." || name == "/" || name == ".." {
		name = "download"
	}
	return name
}
