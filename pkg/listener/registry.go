// Package listener содержит реестр наблюдателей сессии.
//
// Реестр изолирует наблюдателей друг от друга: ошибка или паника одного
// наблюдателя логируется и не прерывает доставку остальным.
package listener

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// FailureHook вызывается для каждого сбоя наблюдателя (метрики)
type FailureHook func(event string)

// Registry хранит упорядоченный список наблюдателей типа L
type Registry[L comparable] struct {
	mu        sync.RWMutex
	listeners []L
	logger    *slog.Logger
	onFailure FailureHook
}

// Option настраивает реестр
type Option func(*options)

type options struct {
	logger    *slog.Logger
	onFailure FailureHook
}

// WithLogger задает логгер для сбоев наблюдателей
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFailureHook задает обработчик сбоев наблюдателей
func WithFailureHook(h FailureHook) Option {
	return func(o *options) { o.onFailure = h }
}

// New создает пустой реестр
func New[L comparable](opts ...Option) *Registry[L] {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return &Registry[L]{
		logger:    o.logger.With(slog.String("component", "listener")),
		onFailure: o.onFailure,
	}
}

// Register добавляет наблюдателя. Повторная регистрация игнорируется.
func (r *Registry[L]) Register(l L) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners {
		if existing == l {
			return
		}
	}
	r.listeners = append(r.listeners, l)
}

// Unregister удаляет наблюдателя
func (r *Registry[L]) Unregister(l L) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Len возвращает количество наблюдателей
func (r *Registry[L]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Snapshot возвращает копию списка наблюдателей
func (r *Registry[L]) Snapshot() []L {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]L, len(r.listeners))
	copy(out, r.listeners)
	return out
}

// Transfer переносит всех наблюдателей в dst и очищает текущий реестр
func (r *Registry[L]) Transfer(dst *Registry[L]) {
	r.mu.Lock()
	moved := r.listeners
	r.listeners = nil
	r.mu.Unlock()

	for _, l := range moved {
		dst.Register(l)
	}
}

// Notify вызывает fn для каждого наблюдателя из снимка списка.
// Блокировка на время вызовов не удерживается, поэтому наблюдатель
// может регистрировать и удалять наблюдателей изнутри обработчика.
func (r *Registry[L]) Notify(event string, fn func(L) error) {
	for _, l := range r.Snapshot() {
		if err := r.call(l, fn); err != nil {
			r.logger.Warn("Ошибка наблюдателя",
				slog.String("event", event),
				slog.String("listener", fmt.Sprintf("%T", l)),
				slog.Any("error", err))
			if r.onFailure != nil {
				r.onFailure(event)
			}
		}
	}
}

func (r *Registry[L]) call(l L, fn func(L) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()
	return fn(l)
}
