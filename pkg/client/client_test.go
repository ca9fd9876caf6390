package client

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_client/pkg/config"
	"github.com/arzzra/rcs_client/pkg/history"
	"github.com/arzzra/rcs_client/pkg/session"
)

type nopTransport struct{}

func (nopTransport) SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration) (*sip.Response, error) {
	return sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil), nil
}

func (nopTransport) Send(ctx context.Context, req *sip.Request) error { return nil }

func testSettings(t *testing.T) config.Settings {
	s := config.Default()
	s.PublicURI = "sip:+33600000001@ims.example.com"
	s.ListenAddr = "127.0.0.1:0"
	s.MetricsAddr = ""
	s.DownloadDir = t.TempDir()
	return s
}

func TestClientRunStopsOnCancel(t *testing.T) {
	store := history.NewMemoryStore()
	c, err := New(context.Background(), testSettings(t), slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithTransport(nopTransport{}),
		WithHistory(store),
		WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer c.Close()

	assert.Same(t, store, c.History())
	assert.Equal(t, 0, c.Directory().Len())
	assert.Equal(t, "sip:+33600000001@ims.example.com", c.Settings().PublicURI)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{}, 1)
	runCtx := context.WithValue(ctx, sipgo.ListenReadyCtxKey, sipgo.ListenReadyCtxValue(ready))
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	chat, err := c.Directory().NewOneOneChat("sip:+33600000002@ims.example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Directory().Len())

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("client stopped before listening: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("sip server did not start listening")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, 0, c.Directory().Len())
	// Не запущенная сессия завершается при остановке клиента
	assert.Equal(t, session.StateAborted, chat.State())
}

func TestClientRejectsInvalidProfile(t *testing.T) {
	s := testSettings(t)
	s.PublicURI = ""
	_, err := New(context.Background(), s, nil, WithTransport(nopTransport{}))
	assert.Error(t, err)
}
