package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_client/pkg/config"
	"github.com/arzzra/rcs_client/pkg/cpim"
	"github.com/arzzra/rcs_client/pkg/transfer"
)

const (
	testChallenge = `Digest realm="ims.example.com", nonce="abc123", algorithm=MD5, qop="auth"`
	testContact   = "sip:+33600000002@ims.example.com"
	testThird     = "sip:+33600000003@ims.example.com"
)

// fakeTransport отвечает на запросы функцией reply и записывает их
type fakeTransport struct {
	mu       sync.Mutex
	requests []*sip.Request
	acks     []*sip.Request
	reply    func(ctx context.Context, req *sip.Request) (*sip.Response, error)
}

func (t *fakeTransport) SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration) (*sip.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	reply := t.reply
	t.mu.Unlock()
	if reply == nil {
		return okResponse(req), nil
	}
	return reply(ctx, req)
}

func (t *fakeTransport) Send(ctx context.Context, req *sip.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acks = append(t.acks, req)
	return nil
}

func (t *fakeTransport) setReply(fn func(ctx context.Context, req *sip.Request) (*sip.Response, error)) {
	t.mu.Lock()
	t.reply = fn
	t.mu.Unlock()
}

// sent возвращает запросы метода в порядке отправки
func (t *fakeTransport) sent(method sip.RequestMethod) []*sip.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*sip.Request
	for _, r := range t.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (t *fakeTransport) ackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.acks)
}

// okResponse отвечает 200, на INVITE с SDP ответом и тегом
func okResponse(req *sip.Request) *sip.Response {
	if req.Method != sip.INVITE {
		return sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	}
	answer, _ := buildChatSDP(newChatMedia("10.0.0.2", "remote-session", setupPassive))
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	if to := resp.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params.Add("tag", "remote-tag")
	}
	ct := sip.ContentTypeHeader(ContentTypeSDP)
	resp.AppendHeader(&ct)
	return resp
}

func codeResponse(req *sip.Request, code int) *sip.Response {
	resp := sip.NewResponseFromRequest(req, code, "", nil)
	if code == sip.StatusProxyAuthRequired {
		resp.AppendHeader(sip.NewHeader("Proxy-Authenticate", testChallenge))
	}
	return resp
}

// scripted отвечает на INVITE кодами по порядку, на остальное 200
func scripted(codes ...int) func(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	var mu sync.Mutex
	return func(ctx context.Context, req *sip.Request) (*sip.Response, error) {
		if req.Method != sip.INVITE {
			return okResponse(req), nil
		}
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return okResponse(req), nil
		}
		code := codes[0]
		codes = codes[1:]
		if code == sip.StatusOK {
			return okResponse(req), nil
		}
		return codeResponse(req, code), nil
	}
}

// fakeResponder записывает ответы на входящий запрос
type fakeResponder struct {
	mu        sync.Mutex
	responses []*sip.Response
}

func (r *fakeResponder) Respond(res *sip.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, res)
	return nil
}

func (r *fakeResponder) codes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, res := range r.responses {
		out = append(out, int(res.StatusCode))
	}
	return out
}

func (r *fakeResponder) last() *sip.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		return nil
	}
	return r.responses[len(r.responses)-1]
}

// recorder записывает уведомления слушателя
type recorder struct {
	mu       sync.Mutex
	events   []string
	errors   []*Error
	reasons  []AbortReason
	messages []*cpim.Message
	files    []transfer.FileInfo
	failures []string
	sessions []Session
}

func (r *recorder) add(event string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.sessions = append(r.sessions, s)
}

func (r *recorder) HandleSessionStarted(s Session) { r.add("started", s) }
func (r *recorder) HandleSessionTerminated(s Session) { r.add("terminated", s) }
func (r *recorder) HandleSessionTerminatedByRemote(s Session) {
	r.add("terminated_by_remote", s)
}
func (r *recorder) HandleAddParticipantSuccessful(s Session) { r.add("add_participant_ok", s) }
func (r *recorder) HandleTransferProgress(s Session, done, total int64) {}

func (r *recorder) HandleSessionAborted(s Session, reason AbortReason) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	r.add("aborted", s)
}

func (r *recorder) HandleError(s Session, err *Error) {
	r.mu.Lock()
	r.errors = append(r.errors, err)
	r.mu.Unlock()
	r.add("error", s)
}

func (r *recorder) HandleAddParticipantFailed(s Session, reason string) {
	r.mu.Lock()
	r.failures = append(r.failures, reason)
	r.mu.Unlock()
	r.add("add_participant_failed", s)
}

func (r *recorder) HandleReceiveMessage(s Session, msg *cpim.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.add("message", s)
}

func (r *recorder) HandleFileTransferred(s Session, info transfer.FileInfo) {
	r.mu.Lock()
	r.files = append(r.files, info)
	r.mu.Unlock()
	r.add("transferred", s)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) has(event string) bool {
	for _, e := range r.Events() {
		if e == event {
			return true
		}
	}
	return false
}

// terminalCount считает терминальные уведомления
func (r *recorder) terminalCount() int {
	n := 0
	for _, e := range r.Events() {
		switch e {
		case "terminated", "terminated_by_remote", "aborted", "error", "transferred":
			n++
		}
	}
	return n
}

func (r *recorder) firstError() *Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return nil
	}
	return r.errors[0]
}

// coreRecorder наблюдатель каталога, который подключает recorder к новым сессиям
type coreRecorder struct {
	NopCoreListener
	listener *recorder
	mu       sync.Mutex
	chats    []*ChatSession
	files    []*FileTransferSession
	extended int32
	onChat   func(*ChatSession)
	onFile   func(*FileTransferSession)
}

func (c *coreRecorder) HandleIncomingChatSession(s *ChatSession) {
	s.AddListener(c.listener)
	c.mu.Lock()
	c.chats = append(c.chats, s)
	c.mu.Unlock()
	if c.onChat != nil {
		c.onChat(s)
	}
}

func (c *coreRecorder) HandleIncomingFileTransfer(s *FileTransferSession) {
	s.AddListener(c.listener)
	c.mu.Lock()
	c.files = append(c.files, s)
	c.mu.Unlock()
	if c.onFile != nil {
		c.onFile(s)
	}
}

func (c *coreRecorder) HandleOneOneChatSessionExtended(group *GroupChatSession, oneOne *ChatSession) {
	atomic.AddInt32(&c.extended, 1)
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s := config.Default()
	s.PublicURI = "sip:+33600000001@ims.example.com"
	s.InstanceID = "urn:gsma:imei:35000000-000000-0"
	s.Username = "alice"
	s.Password = "secret"
	s.ConferenceFactoryURI = "sip:conference-factory@ims.example.com"
	s.RequestTimeout = 2 * time.Second
	s.InvitationTimeout = 2 * time.Second
	s.DownloadDir = t.TempDir()
	s.FtChunkSize = 1024
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustURI(t *testing.T, s string) sip.Uri {
	t.Helper()
	var uri sip.Uri
	require.NoError(t, sip.ParseUri(s, &uri))
	return uri
}

var inboundSeq atomic.Int64

// inboundRequest создает входящий запрос от testContact
func inboundRequest(t *testing.T, method sip.RequestMethod, callID, contentType string, body []byte) *sip.Request {
	t.Helper()
	own := mustURI(t, "sip:+33600000001@ims.example.com")
	remote := mustURI(t, testContact)

	req := sip.NewRequest(method, own)
	from := &sip.FromHeader{Address: remote, Params: sip.NewParams()}
	from.Params.Add("tag", fmt.Sprintf("rt%d", inboundSeq.Add(1)))
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: own, Params: sip.NewParams()})
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: method})
	contact := &sip.ContactHeader{Address: mustURI(t, "sip:+33600000002@10.0.0.2:5060"), Params: sip.NewParams()}
	contact.Params.Add("+sip.instance", `"<urn:gsma:imei:remote>"`)
	req.AppendHeader(contact)
	if contentType != "" {
		ct := sip.ContentTypeHeader(contentType)
		req.AppendHeader(&ct)
		req.SetBody(body)
	}
	return req
}

// bodyContains проверяет тело запроса без учета переводов строк
func bodyContains(req *sip.Request, s string) bool {
	return strings.Contains(string(req.Body()), s)
}
