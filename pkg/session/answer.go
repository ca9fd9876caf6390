package session

import (
	"context"
	"time"
)

// Answer решение пользователя по входящей сессии
type Answer int

const (
	AnswerAccepted Answer = iota
	AnswerRejected
	AnswerTimedOut
	AnswerCanceled
)

// String возвращает строковое представление решения
func (a Answer) String() string {
	switch a {
	case AnswerAccepted:
		return "accepted"
	case AnswerRejected:
		return "rejected"
	case AnswerTimedOut:
		return "timed-out"
	case AnswerCanceled:
		return "canceled"
	}
	return "unknown"
}

// Answerer источник решения пользователя
type Answerer interface {
	// WaitForAnswer блокируется до решения, таймаута или отмены контекста.
	// Отмена контекста дает AnswerCanceled.
	WaitForAnswer(ctx context.Context, timeout time.Duration) Answer
}

// ChannelAnswerer решение принимается вызовами Accept, Reject или Cancel.
// Учитывается только первый вызов.
type ChannelAnswerer struct {
	ch chan Answer
}

// NewChannelAnswerer создает ChannelAnswerer
func NewChannelAnswerer() *ChannelAnswerer {
	return &ChannelAnswerer{ch: make(chan Answer, 1)}
}

// Accept принимает сессию
func (a *ChannelAnswerer) Accept() { a.post(AnswerAccepted) }

// Reject отклоняет сессию
func (a *ChannelAnswerer) Reject() { a.post(AnswerRejected) }

// Cancel отмечает отмену сессии удаленной стороной
func (a *ChannelAnswerer) Cancel() { a.post(AnswerCanceled) }

func (a *ChannelAnswerer) post(ans Answer) {
	select {
	case a.ch <- ans:
	default:
	}
}

// WaitForAnswer реализует Answerer
func (a *ChannelAnswerer) WaitForAnswer(ctx context.Context, timeout time.Duration) Answer {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case ans := <-a.ch:
		return ans
	case <-expired:
		return AnswerTimedOut
	case <-ctx.Done():
		return AnswerCanceled
	}
}
