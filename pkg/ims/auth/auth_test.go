package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/rcs_client/pkg/ims/dialog"
	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChallenge = `Digest realm="ims.example.com", nonce="abc123", algorithm=MD5, qop="auth"`

// scriptedTransport возвращает заранее заданные коды ответов по порядку
type scriptedTransport struct {
	mu       sync.Mutex
	codes    []int
	requests []*sip.Request
	err      error
}

func (s *scriptedTransport) SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration) (*sip.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	code := s.codes[0]
	s.codes = s.codes[1:]
	resp := sip.NewResponseFromRequest(req, code, "", nil)
	if code == sip.StatusProxyAuthRequired {
		resp.AppendHeader(sip.NewHeader("Proxy-Authenticate", testChallenge))
	}
	if code == sip.StatusUnauthorized {
		resp.AppendHeader(sip.NewHeader("WWW-Authenticate", testChallenge))
	}
	return resp, nil
}

func (s *scriptedTransport) Send(ctx context.Context, req *sip.Request) error {
	return nil
}

func newExchange(t *testing.T, tr *scriptedTransport) Exchange {
	t.Helper()
	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:+33600000002@ims.example.com", &uri))
	var own sip.Uri
	require.NoError(t, sip.ParseUri("sip:+33600000001@ims.example.com", &own))
	p := dialog.NewOriginatingPath(&dialog.Profile{PublicURI: own, Contact: own}, uri, uri)

	return Exchange{
		Path:      p,
		Agent:     NewAgent("alice", "secret"),
		Transport: tr,
		Timeout:   time.Second,
		Build: func() (*sip.Request, error) {
			return p.NewMessage(dialog.NewBody("text/plain", []byte("hi"))), nil
		},
	}
}

func TestSendChallengeThenSuccess(t *testing.T) {
	tr := &scriptedTransport{codes: []int{sip.StatusProxyAuthRequired, sip.StatusOK}}
	ex := newExchange(t, tr)
	challenges := 0
	ex.OnChallenge = func() { challenges++ }

	resp, err := Send(context.Background(), ex)
	require.NoError(t, err)
	assert.Equal(t, sip.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, challenges)

	// Ровно одна повторная отправка с увеличенным CSeq и тем же Call-ID
	require.Len(t, tr.requests, 2)
	first, second := tr.requests[0], tr.requests[1]
	assert.Equal(t, uint32(1), first.CSeq().SeqNo)
	assert.Equal(t, uint32(2), second.CSeq().SeqNo)
	assert.Equal(t, first.CallID().Value(), second.CallID().Value())
	assert.Nil(t, first.GetHeader("Proxy-Authorization"))

	authz := second.GetHeader("Proxy-Authorization")
	require.NotNil(t, authz)
	assert.True(t, strings.HasPrefix(authz.Value(), "Digest "))
	assert.Contains(t, authz.Value(), `username="alice"`)
	assert.Contains(t, authz.Value(), `realm="ims.example.com"`)

	realm, nonce := ex.Path.AuthCache()
	assert.Equal(t, "ims.example.com", realm)
	assert.Equal(t, "abc123", nonce)
}

func TestSendChallengeTwiceFails(t *testing.T) {
	tr := &scriptedTransport{codes: []int{sip.StatusProxyAuthRequired, sip.StatusProxyAuthRequired, sip.StatusOK}}
	ex := newExchange(t, tr)
	failures := 0
	ex.OnFailure = func() { failures++ }

	_, err := Send(context.Background(), ex)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	// Третьей отправки нет
	assert.Len(t, tr.requests, 2)
	assert.Equal(t, 1, failures)
}

func TestSendReturnsNonChallengeResponseUnchanged(t *testing.T) {
	tr := &scriptedTransport{codes: []int{sip.StatusForbidden}}
	ex := newExchange(t, tr)

	resp, err := Send(context.Background(), ex)
	require.NoError(t, err)
	assert.Equal(t, sip.StatusForbidden, resp.StatusCode)
	assert.Len(t, tr.requests, 1)
}

func TestSendWWWAuthenticate(t *testing.T) {
	tr := &scriptedTransport{codes: []int{sip.StatusUnauthorized, sip.StatusAccepted}}
	ex := newExchange(t, tr)

	resp, err := Send(context.Background(), ex)
	require.NoError(t, err)
	assert.Equal(t, sip.StatusAccepted, resp.StatusCode)
	require.Len(t, tr.requests, 2)
	assert.NotNil(t, tr.requests[1].GetHeader("Authorization"))
	assert.Nil(t, tr.requests[1].GetHeader("Proxy-Authorization"))
}

func TestSendTransportError(t *testing.T) {
	boom := errors.New("network down")
	tr := &scriptedTransport{err: boom}
	ex := newExchange(t, tr)

	_, err := Send(context.Background(), ex)
	assert.ErrorIs(t, err, boom)
}

func TestAuthorizeBeforeChallenge(t *testing.T) {
	a := NewAgent("alice", "secret")
	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &uri))
	err := a.Authorize(sip.NewRequest(sip.MESSAGE, uri))
	assert.ErrorIs(t, err, ErrNotChallengedYet)
	assert.False(t, a.Challenged())
}

func TestChallengeRejectsNonChallengeResponse(t *testing.T) {
	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &uri))
	req := sip.NewRequest(sip.MESSAGE, uri)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.MESSAGE})
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)

	a := NewAgent("alice", "secret")
	assert.Error(t, a.Challenge(resp))
}
