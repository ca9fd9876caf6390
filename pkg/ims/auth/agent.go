// Package auth реализует digest аутентификацию исходящих запросов
// и протокол повтора запроса после вызова 401/407.
package auth

import (
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pkg/errors"
)

var (
	// ErrNotChallengedYet возвращается при попытке авторизовать запрос до получения вызова
	ErrNotChallengedYet = errors.New("auth: no challenge received yet")
	// ErrAuthenticationFailed возвращается, если повторный запрос снова получил вызов
	ErrAuthenticationFailed = errors.New("auth: authentication failed")
)

const (
	headerProxyAuthenticate  = "Proxy-Authenticate"
	headerWWWAuthenticate    = "WWW-Authenticate"
	headerProxyAuthorization = "Proxy-Authorization"
	headerAuthorization      = "Authorization"
)

// IsChallenge сообщает, является ли ответ вызовом аутентификации
func IsChallenge(resp *sip.Response) bool {
	return resp != nil && (resp.StatusCode == sip.StatusProxyAuthRequired || resp.StatusCode == sip.StatusUnauthorized)
}

// Agent хранит учетные данные и последний полученный вызов.
// Один агент обслуживает один обмен (диалог).
type Agent struct {
	username string
	password string

	mu    sync.Mutex
	chal  *digest.Challenge
	proxy bool
	count int
}

// NewAgent создает агента с учетными данными
func NewAgent(username, password string) *Agent {
	return &Agent{username: username, password: password}
}

// Challenge читает Proxy-Authenticate (407) или WWW-Authenticate (401) из ответа
func (a *Agent) Challenge(resp *sip.Response) error {
	var name string
	switch resp.StatusCode {
	case sip.StatusProxyAuthRequired:
		name = headerProxyAuthenticate
	case sip.StatusUnauthorized:
		name = headerWWWAuthenticate
	default:
		return errors.Errorf("response %d is not a challenge", resp.StatusCode)
	}

	h := resp.GetHeader(name)
	if h == nil {
		return errors.Errorf("%s header is missing", name)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", name)
	}

	a.mu.Lock()
	a.chal = chal
	a.proxy = name == headerProxyAuthenticate
	a.count = 0
	a.mu.Unlock()
	return nil
}

// Challenged сообщает, получен ли вызов
func (a *Agent) Challenged() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chal != nil
}

// Realm возвращает realm последнего вызова
func (a *Agent) Realm() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chal == nil {
		return ""
	}
	return a.chal.Realm
}

// Nonce возвращает nonce последнего вызова
func (a *Agent) Nonce() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chal == nil {
		return ""
	}
	return a.chal.Nonce
}

// Authorize добавляет к запросу Proxy-Authorization (или Authorization для 401).
// Счетчик nonce увеличивается при каждом вызове.
func (a *Agent) Authorize(req *sip.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chal == nil {
		return ErrNotChallengedYet
	}
	a.count++

	cred, err := digest.Digest(a.chal, digest.Options{
		Method:   string(req.Method),
		URI:      req.Recipient.String(),
		Username: a.username,
		Password: a.password,
		Count:    a.count,
	})
	if err != nil {
		return errors.Wrap(err, "failed to compute digest")
	}

	name := headerAuthorization
	if a.proxy {
		name = headerProxyAuthorization
	}
	req.RemoveHeader(name)
	req.AppendHeader(sip.NewHeader(name, cred.String()))
	return nil
}
