// Package transport описывает отправку SIP запросов для ядра сессий
// и реализует ее поверх клиентских транзакций sipgo.
package transport

import (
	"context"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// ErrTimeout возвращается, если финальный ответ не получен за отведенное время
var ErrTimeout = errors.New("transport: response timeout")

// Transport отправляет запросы. Разбор и сокеты остаются за реализацией.
type Transport interface {
	// SendAndWait отправляет запрос и ждет финальный ответ (>= 200).
	// Предварительные ответы пропускаются.
	SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration) (*sip.Response, error)
	// Send отправляет запрос без ожидания ответа (ACK)
	Send(ctx context.Context, req *sip.Request) error
}

// Responder отправляет ответы на входящий запрос.
// Ему удовлетворяет sip.ServerTransaction.
type Responder interface {
	Respond(res *sip.Response) error
}
