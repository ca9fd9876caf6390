// Package transfer реализует HTTP передачу файлов: загрузку на сервер
// и скачивание с него с кооперативной отменой.
package transfer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/metrics"
)

// ErrCancelled возвращается, если передача отменена через Cancel
var ErrCancelled = errors.New("transfer: cancelled")

// Manager общая часть загрузки и скачивания
type Manager interface {
	// Cancel отменяет передачу. Не блокируется.
	Cancel()
	Cancelled() bool
	Progress() (done, total int64)
}

// ProgressFunc вызывается после каждого переданного блока
type ProgressFunc func(done, total int64)

// Options общие параметры передачи
type Options struct {
	Client    *http.Client
	ChunkSize int
	Progress  ProgressFunc
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

const defaultChunkSize = 32 * 1024

func (o *Options) normalize() {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 10 * time.Minute}
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// state флаг отмены и прогресс. Флаг отмены единственное поле,
// которое меняется из чужой горутины.
type state struct {
	cancelled atomic.Bool
	done      atomic.Int64
	total     atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *state) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

func (s *state) Cancelled() bool {
	return s.cancelled.Load()
}

func (s *state) Progress() (int64, int64) {
	return s.done.Load(), s.total.Load()
}

// begin создает контекст текущего HTTP запроса, который прерывается Cancel
func (s *state) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.cancelled.Load() {
		cancel()
	}
	return ctx, cancel
}

// result приводит ошибку к ErrCancelled, если передача отменена
func (s *state) result(err error) error {
	if s.cancelled.Load() {
		return ErrCancelled
	}
	return err
}

// copyChunks копирует src в dst блоками с проверкой отмены перед каждым блоком
func (s *state) copyChunks(dst io.Writer, src io.Reader, opts *Options, direction string) error {
	buf := make([]byte, opts.ChunkSize)
	for {
		if s.cancelled.Load() {
			return ErrCancelled
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			done := s.done.Add(int64(n))
			opts.Metrics.TransferBytes(direction, int64(n))
			if opts.Progress != nil {
				opts.Progress(done, s.total.Load())
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
