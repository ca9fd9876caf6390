package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStateMachineTransitions проверяет разрешенные и запрещенные переходы
func TestStateMachineTransitions(t *testing.T) {
	var seen []string
	m := newStateMachine(func(from, to State) {
		seen = append(seen, fmt.Sprintf("%s->%s", from, to))
	})
	ctx := context.Background()

	require.Error(t, m.Event(ctx, eventEstablish))
	require.NoError(t, m.Event(ctx, eventStart))
	require.Error(t, m.Event(ctx, eventTerminate))
	require.NoError(t, m.Event(ctx, eventEstablish))
	require.NoError(t, m.Event(ctx, eventTerminate))
	require.NoError(t, m.Event(ctx, eventTerminated))
	assert.Equal(t, string(StateTerminated), m.Current())

	for _, e := range []string{eventStart, eventAbort, eventFail, eventTerminated} {
		assert.Error(t, m.Event(ctx, e), "event %s from terminal state", e)
	}
	assert.Equal(t, []string{
		"created->pending",
		"pending->established",
		"established->terminating",
		"terminating->terminated",
	}, seen)
}

func TestStateMachineTerminalEvents(t *testing.T) {
	cases := []struct {
		name  string
		setup []string
		event string
		want  State
	}{
		{"abort created", nil, eventAbort, StateAborted},
		{"fail created", nil, eventFail, StateError},
		{"reject pending", []string{eventStart}, eventReject, StateRejected},
		{"abort established", []string{eventStart, eventEstablish}, eventAbort, StateAborted},
		{"remote bye", []string{eventStart, eventEstablish}, eventTerminated, StateTerminated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newStateMachine(nil)
			for _, e := range tc.setup {
				require.NoError(t, m.Event(context.Background(), e))
			}
			require.NoError(t, m.Event(context.Background(), tc.event))
			assert.Equal(t, string(tc.want), m.Current())
			assert.True(t, State(m.Current()).IsTerminal())
		})
	}

	m := newStateMachine(nil)
	assert.Error(t, m.Event(context.Background(), eventReject), "reject needs pending")
}

func TestChannelAnswerer(t *testing.T) {
	a := NewChannelAnswerer()
	a.Reject()
	a.Accept()
	assert.Equal(t, AnswerRejected, a.WaitForAnswer(context.Background(), time.Second))

	a = NewChannelAnswerer()
	assert.Equal(t, AnswerTimedOut, a.WaitForAnswer(context.Background(), 20*time.Millisecond))

	a = NewChannelAnswerer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, AnswerCanceled, a.WaitForAnswer(ctx, time.Second))

	a = NewChannelAnswerer()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		a.Cancel()
	}()
	assert.Equal(t, AnswerCanceled, a.WaitForAnswer(context.Background(), 0))
	wg.Wait()

	assert.Equal(t, "timed-out", AnswerTimedOut.String())
}

func TestChatSDP(t *testing.T) {
	data, err := buildChatSDP(newChatMedia("192.0.2.10", "s1", setupActive))
	require.NoError(t, err)
	assert.Contains(t, string(data), "m=message 9 TCP/MSRP *")
	assert.Contains(t, string(data), "a=accept-types:message/cpim")

	m, err := parseChatSDP(data)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", m.Host)
	assert.Equal(t, 9, m.Port)
	assert.Equal(t, "msrp://192.0.2.10:9/s1;tcp", m.Path)
	assert.Equal(t, setupActive, m.Setup)

	assert.Equal(t, setupPassive, answerSetup(setupActive))
	assert.Equal(t, setupActive, answerSetup(setupPassive))

	_, err = parseChatSDP([]byte("v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\n"))
	assert.Error(t, err)
	_, err = parseChatSDP([]byte("garbage"))
	assert.Error(t, err)
}

func TestResourceList(t *testing.T) {
	entry := replacesEntry("sip:bob@example.com", "c-1")
	assert.Equal(t, "sip:bob@example.com;method=INVITE?Session-Replaces=c-1", entry)

	data, err := buildResourceList([]string{entry, "sip:carol@example.com"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `xmlns="urn:ietf:params:xml:ns:resource-lists"`)

	uris, err := parseResourceList(data)
	require.NoError(t, err)
	assert.Equal(t, []string{entry, "sip:carol@example.com"}, uris)

	_, err = parseResourceList([]byte("<resource-lists"))
	assert.Error(t, err)
}

func TestSessionErrors(t *testing.T) {
	cause := errors.New("503 from proxy")
	err := newError(ErrorSessionInitiationFailed, cause, "invite to %s failed", "bob")
	assert.Equal(t, "[SESSION_INITIATION_FAILED] invite to bob failed: 503 from proxy", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, errors.Wrap(err, "outer"), &Error{Code: ErrorSessionInitiationFailed})
	assert.Equal(t, ErrorSessionInitiationFailed, CodeOf(errors.Wrap(err, "outer")))
	assert.Equal(t, ErrorCode(""), CodeOf(cause))

	unknown := asError(cause)
	assert.Equal(t, ErrorUnexpectedFailure, unknown.Code)
	assert.Same(t, err, asError(err))

	declined := &Error{Code: ErrorSessionInitiationDeclined, Message: "declined", StatusCode: 603}
	assert.Contains(t, declined.Error(), "(status 603)")
	assert.True(t, declined.Is(&Error{Code: ErrorSessionInitiationDeclined}))
	assert.False(t, declined.Is(cause))

	var ab *abortError
	require.True(t, errors.As(aborted(AbortByTimeout), &ab))
	assert.Equal(t, AbortByTimeout, ab.reason)
}

// TestShardedMapDeleteIf проверяет удаление только своей записи
func TestShardedMapDeleteIf(t *testing.T) {
	m := newShardedMap()
	a := &ChatSession{}
	b := &ChatSession{}

	m.Set("k", a)
	assert.False(t, m.DeleteIf("k", b))
	assert.Equal(t, 1, m.Count())
	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.True(t, m.DeleteIf("k", a))
	assert.Equal(t, 0, m.Count())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Set(fmt.Sprintf("%d-%d", n, j), a)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 800, m.Count())

	visited := 0
	m.ForEach(func(string, Session) { visited++ })
	assert.Equal(t, 800, visited)
}
