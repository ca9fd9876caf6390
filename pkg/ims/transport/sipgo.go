package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// SipgoTransport реализует Transport через клиент sipgo
type SipgoTransport struct {
	client *sipgo.Client
	logger *slog.Logger
}

// NewSipgoTransport создает транспорт поверх готового клиента sipgo
func NewSipgoTransport(client *sipgo.Client, logger *slog.Logger) *SipgoTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SipgoTransport{
		client: client,
		logger: logger.With(slog.String("component", "transport")),
	}
}

// SendAndWait отправляет запрос в новой клиентской транзакции и ждет финальный ответ
func (t *SipgoTransport) SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration) (*sip.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send %s", req.Method)
	}
	defer tx.Terminate()

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				continue
			}
			t.logger.Debug("Получен ответ",
				slog.String("method", string(req.Method)),
				slog.Int("status", resp.StatusCode),
				slog.String("call_id", req.CallID().Value()))
			if resp.StatusCode < 200 {
				continue
			}
			return resp, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, errors.Wrapf(err, "%s transaction failed", req.Method)
			}
			return nil, errors.Errorf("%s transaction terminated without final response", req.Method)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// Send отправляет запрос вне транзакции (ACK на 2xx)
func (t *SipgoTransport) Send(ctx context.Context, req *sip.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.client.WriteRequest(req); err != nil {
		return errors.Wrapf(err, "failed to write %s", req.Method)
	}
	return nil
}
