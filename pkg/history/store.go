// Package history описывает приемник истории сообщений и сессий.
// Ядро только записывает события, хранение остается за реализацией Store.
package history

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound возвращается, если запись отсутствует
var ErrNotFound = errors.New("history: record not found")

// SessionRecord описывает новую сессию для истории
type SessionRecord struct {
	SessionID      string    `json:"session_id"`
	ContributionID string    `json:"contribution_id,omitempty"`
	Contact        string    `json:"contact"`
	Kind           string    `json:"kind"`
	Direction      string    `json:"direction"`
	FirstMessageID string    `json:"first_message_id,omitempty"`
	FirstMessage   string    `json:"first_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store записывает историю. Ошибки логируются вызывающим и не повторяются.
type Store interface {
	RecordDeliveryStatus(ctx context.Context, msgID, status string) error
	RecordNewSession(ctx context.Context, rec SessionRecord) error
}

// Nop реализация Store, которая ничего не хранит
type Nop struct{}

func (Nop) RecordDeliveryStatus(context.Context, string, string) error { return nil }
func (Nop) RecordNewSession(context.Context, SessionRecord) error { return nil }
