package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/arzzra/rcs_client/pkg/ims/dialog"
	"github.com/arzzra/rcs_client/pkg/ims/transport"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// Exchange описывает один обмен запрос-ответ с возможным повтором после вызова
type Exchange struct {
	Path      *dialog.Path
	Agent     *Agent
	Transport transport.Transport
	Timeout   time.Duration
	// Build собирает запрос с текущим CSeq диалога. Вызывается заново для повтора.
	Build func() (*sip.Request, error)
	// OnChallenge и OnFailure опциональные хуки для метрик
	OnChallenge func()
	OnFailure   func()
	Logger      *slog.Logger
}

// Send отправляет запрос. Если финальный ответ является вызовом 401/407,
// запрос собирается заново с увеличенным CSeq и авторизацией и отправляется
// ровно один раз. Вызов на повторный запрос дает ErrAuthenticationFailed.
// Любой другой финальный ответ возвращается без изменений.
func Send(ctx context.Context, ex Exchange) (*sip.Response, error) {
	logger := ex.Logger
	if logger == nil {
		logger = slog.Default()
	}

	req, err := ex.build()
	if err != nil {
		return nil, err
	}

	resp, err := ex.Transport.SendAndWait(ctx, req, ex.Timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send %s", req.Method)
	}
	if !IsChallenge(resp) {
		return resp, nil
	}

	if ex.OnChallenge != nil {
		ex.OnChallenge()
	}
	logger.Debug("Получен вызов аутентификации",
		slog.String("method", string(req.Method)),
		slog.Int("status", resp.StatusCode),
		slog.String("call_id", ex.Path.CallID()))

	if err := ex.Agent.Challenge(resp); err != nil {
		ex.failed()
		return nil, errors.Wrap(ErrAuthenticationFailed, err.Error())
	}
	ex.Path.SetAuthCache(ex.Agent.Realm(), ex.Agent.Nonce())
	ex.Path.IncrementCSeq()

	req, err = ex.build()
	if err != nil {
		return nil, err
	}
	resp, err = ex.Transport.SendAndWait(ctx, req, ex.Timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resend %s", req.Method)
	}
	if IsChallenge(resp) {
		ex.failed()
		logger.Warn("Повторный запрос снова получил вызов аутентификации",
			slog.String("method", string(req.Method)),
			slog.String("call_id", ex.Path.CallID()))
		return nil, ErrAuthenticationFailed
	}
	return resp, nil
}

// build собирает запрос и авторизует его, если вызов уже получен
func (ex Exchange) build() (*sip.Request, error) {
	req, err := ex.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	if ex.Agent.Challenged() {
		if err := ex.Agent.Authorize(req); err != nil {
			return nil, errors.Wrap(err, "failed to authorize request")
		}
	}
	return req, nil
}

func (ex Exchange) failed() {
	if ex.OnFailure != nil {
		ex.OnFailure()
	}
}
