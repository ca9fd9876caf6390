package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/cpim"
	"github.com/arzzra/rcs_client/pkg/imdn"
	"github.com/arzzra/rcs_client/pkg/ims/dialog"
	"github.com/arzzra/rcs_client/pkg/ims/transport"
)

// ErrSessionClosed возвращается командам завершенной сессии
var ErrSessionClosed = errors.New("session: closed")

const mailboxSize = 16

// Коды ответов SIP, используемые сессиями
const (
	statusRinging                = 180
	statusUnsupportedMediaType   = 415
	statusTemporarilyUnavailable = 480
	statusBusyHere               = 486
	statusNotAcceptableHere      = 488
	statusInternalServerError    = 500
	statusNotImplemented         = 501
	statusBusyEverywhere         = 600
	statusDecline                = 603
)

type commandOp int

const (
	opSend commandOp = iota
	opTerminate
	opInboundBye
	opInboundMessage
)

// command запрос к горутине сессии. result буферизован.
type command struct {
	op     commandOp
	msg    *cpim.Message
	req    *sip.Request
	resp   transport.Responder
	result chan error
}

// chatBase общее поведение чат сессий: INVITE, обмен сообщениями
// в установленном диалоге и завершение через BYE
type chatBase struct {
	base
	mailbox chan command
	first   *cpim.Message
	// skipHistory сессия уже записана в историю создателем
	skipHistory bool

	// Входящая сессия
	responder transport.Responder
	answerer  *ChannelAnswerer
}

func (c *chatBase) initChat() {
	c.mailbox = make(chan command, mailboxSize)
	c.answerer = NewChannelAnswerer()
}

// FirstMessage возвращает первое сообщение сессии
func (c *chatBase) FirstMessage() *cpim.Message {
	return c.first
}

// Accept принимает входящую сессию
func (c *chatBase) Accept() {
	c.answerer.Accept()
}

// Reject отклоняет входящую сессию
func (c *chatBase) Reject() {
	c.answerer.Reject()
}

// remoteCancel вызывается при получении CANCEL на входящий INVITE
func (c *chatBase) remoteCancel() {
	c.answerer.Cancel()
}

// SendMessage отправляет сообщение в установленной сессии. Вызов ставит
// команду в очередь горутины сессии и ждет результата отправки.
func (c *chatBase) SendMessage(ctx context.Context, msg *cpim.Message) error {
	return c.post(ctx, command{op: opSend, msg: msg})
}

// SendText отправляет текстовое сообщение и возвращает его Message-ID
func (c *chatBase) SendText(ctx context.Context, text string) (string, error) {
	msg := c.dir.newTextMessage(text)
	return msg.MessageID, c.SendMessage(ctx, msg)
}

// Terminate завершает сессию отправкой BYE
func (c *chatBase) Terminate(ctx context.Context) error {
	return c.post(ctx, command{op: opTerminate})
}

func (c *chatBase) post(ctx context.Context, cmd command) error {
	cmd.result = make(chan error, 1)
	select {
	case c.mailbox <- cmd:
	case <-c.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-c.done:
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver передает входящий запрос диалога горутине сессии и ждет ответа на него
func (c *chatBase) deliver(op commandOp, req *sip.Request, r transport.Responder) {
	if err := c.post(context.Background(), command{op: op, req: req, resp: r}); errors.Is(err, ErrSessionClosed) {
		resp := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil)
		if err := r.Respond(resp); err != nil {
			c.logger.Debug("Не удалось ответить на запрос закрытой сессии", slog.Any("error", err))
		}
	}
}

// invite отправляет INVITE и обрабатывает финальный ответ. При успехе
// сессия переходит в Established и отправляется ACK.
func (c *chatBase) invite(ctx context.Context, body dialog.Body, opts ...dialog.RequestOpt) error {
	if err := c.transition(eventStart); err != nil {
		return err
	}

	resp, err := c.exchange(ctx, func() (*sip.Request, error) {
		return c.path.NewInvite(body, opts...), nil
	})
	if err != nil {
		if CodeOf(err) != "" || ctx.Err() != nil {
			return err
		}
		if errors.Is(err, transport.ErrTimeout) {
			return newError(ErrorSessionInitiationFailed, err, "no final response to invite")
		}
		return newError(ErrorSessionInitiationFailed, err, "invite failed")
	}

	switch code := int(resp.StatusCode); {
	case code >= 200 && code < 300:
	case declined(code):
		return &Error{Code: ErrorSessionInitiationDeclined, Message: "invitation declined", StatusCode: code}
	default:
		return &Error{Code: ErrorSessionInitiationFailed, Message: "invitation failed: " + resp.Reason, StatusCode: code}
	}

	c.path.Confirm(resp)
	if err := c.dir.opts.Transport.Send(ctx, c.path.NewAck()); err != nil {
		c.logger.Warn("Не удалось отправить ACK", slog.Any("error", err))
	}

	remote, err := remoteMedia(c.path.RemoteContent())
	if err != nil {
		c.byeQuietly()
		return newError(ErrorSessionInitiationFailed, err, "invalid session answer")
	}
	c.logger.Debug("Сессия принята", slog.String("msrp_path", remote.Path))

	if err := c.transition(eventEstablish); err != nil {
		return err
	}
	c.notifyStarted()
	if !c.skipHistory {
		c.recordSession(c.firstRecord())
	}
	return nil
}

func declined(code int) bool {
	switch code {
	case statusBusyHere, statusDecline, statusBusyEverywhere:
		return true
	}
	return false
}

func (c *chatBase) firstRecord() *firstMessage {
	if c.first == nil {
		return nil
	}
	return &firstMessage{id: c.first.MessageID, text: string(c.first.Content)}
}

// offerBody собирает тело INVITE: SDP и, если задано, первое сообщение
func (c *chatBase) offerBody(extra ...dialog.Part) (dialog.Body, error) {
	sdpData, err := buildChatSDP(newChatMedia(c.dir.opts.Profile.Contact.Host, c.id, setupActive))
	if err != nil {
		return dialog.Body{}, newError(ErrorUnexpectedFailure, err, "failed to build offer")
	}
	parts := []dialog.Part{{ContentType: ContentTypeSDP, Content: sdpData}}
	if c.first != nil {
		parts = append(parts, dialog.Part{ContentType: cpim.MimeType, Content: c.first.Build()})
	}
	parts = append(parts, extra...)
	if len(parts) == 1 {
		return dialog.NewBody(ContentTypeSDP, sdpData), nil
	}
	body, err := dialog.NewMultipartBody(dialog.DefaultBoundary, parts...)
	if err != nil {
		return dialog.Body{}, newError(ErrorUnexpectedFailure, err, "failed to build multipart offer")
	}
	return body, nil
}

// remoteMedia извлекает параметры MSRP из тела SDP или multipart
func remoteMedia(body dialog.Body) (chatMedia, error) {
	if strings.HasPrefix(body.ContentType(), "multipart/") {
		part, ok := body.Part(ContentTypeSDP)
		if !ok {
			return chatMedia{}, errors.New("multipart body has no sdp part")
		}
		return parseChatSDP(part.Content)
	}
	return parseChatSDP(body.Content())
}

// serve обрабатывает команды установленной сессии до ее завершения
func (c *chatBase) serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.byeQuietly()
			return ctx.Err()
		case cmd := <-c.mailbox:
			if c.handle(ctx, cmd) {
				return nil
			}
		}
	}
}

// handle выполняет команду и сообщает, завершена ли сессия
func (c *chatBase) handle(ctx context.Context, cmd command) bool {
	switch cmd.op {
	case opSend:
		cmd.result <- c.sendMessage(ctx, cmd.msg)
		return false

	case opTerminate:
		if err := c.transition(eventTerminate); err != nil {
			cmd.result <- err
			return false
		}
		err := c.bye(ctx)
		if err != nil {
			c.logger.Warn("BYE не подтвержден", slog.Any("error", err))
		}
		c.terminated()
		cmd.result <- err
		return true

	case opInboundBye:
		c.respond(cmd.resp, cmd.req, sip.StatusOK, "OK", dialog.Body{})
		c.terminatedByRemote()
		cmd.result <- nil
		return true

	case opInboundMessage:
		c.receiveMessage(cmd.req, cmd.resp)
		cmd.result <- nil
		return false
	}
	cmd.result <- errors.Errorf("unknown command %d", cmd.op)
	return false
}

func (c *chatBase) sendMessage(ctx context.Context, msg *cpim.Message) error {
	body := dialog.NewBody(cpim.MimeType, msg.Build())
	c.path.IncrementCSeq()
	resp, err := c.exchange(ctx, func() (*sip.Request, error) {
		return c.path.NewMessage(body), nil
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("message rejected with %d %s", resp.StatusCode, resp.Reason)
	}
	c.logger.Debug("Сообщение отправлено", slog.String("msg_id", msg.MessageID))
	return nil
}

func (c *chatBase) receiveMessage(req *sip.Request, r transport.Responder) {
	msg, err := parseIncoming(req)
	if err != nil {
		c.respond(r, req, statusUnsupportedMediaType, "Unsupported Media Type", dialog.Body{})
		c.logger.Warn("Некорректное входящее сообщение", slog.Any("error", err))
		return
	}
	c.respond(r, req, sip.StatusOK, "OK", dialog.Body{})
	c.receive(msg, dialog.AssertedIdentity(req).String(), dialog.InstanceID(req))
}

// receive уведомляет слушателей и ставит в очередь отчет о доставке, если он запрошен
func (c *chatBase) receive(msg *cpim.Message, from, instanceID string) {
	c.listeners.Notify("receive_message", func(l Listener) error {
		l.HandleReceiveMessage(c.self, msg)
		return nil
	})
	notifier := c.dir.opts.Notifier
	if msg.MessageID == "" || !msg.WantsDelivery() || notifier == nil || !notifier.Activated() {
		return
	}
	notifier.Enqueue(imdn.DeliveryStatus{
		Contact:    from,
		MsgID:      msg.MessageID,
		Status:     imdn.StatusDelivered,
		InstanceID: instanceID,
	})
}

// bye отправляет BYE в новой транзакции диалога
func (c *chatBase) bye(ctx context.Context) error {
	c.path.IncrementCSeq()
	resp, err := c.exchange(ctx, func() (*sip.Request, error) {
		return c.path.NewRequest(sip.BYE), nil
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("bye answered with %d", resp.StatusCode)
	}
	return nil
}

// byeQuietly завершает диалог при прерывании, ошибка только логируется
func (c *chatBase) byeQuietly() {
	timeout := c.dir.opts.Settings.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.bye(ctx); err != nil {
		c.logger.Debug("BYE при прерывании не подтвержден", slog.Any("error", err))
	}
}

// parseIncoming извлекает CPIM из тела MESSAGE. Простой текст
// оборачивается в CPIM без запроса уведомлений.
func parseIncoming(req *sip.Request) (*cpim.Message, error) {
	ct := ""
	if h := req.ContentType(); h != nil {
		ct = strings.ToLower(h.Value())
	}
	switch {
	case strings.HasPrefix(ct, cpim.MimeType):
		return cpim.Parse(req.Body())
	case strings.HasPrefix(ct, "text/plain"):
		return &cpim.Message{ContentType: "text/plain", Content: req.Body()}, nil
	}
	return nil, errors.Errorf("unsupported content type %q", ct)
}

// ChatSession чат один-на-один
type ChatSession struct {
	chatBase
}

func (s *ChatSession) runOriginating(ctx context.Context) error {
	body, err := s.offerBody()
	if err != nil {
		return err
	}
	err = s.invite(ctx, body,
		dialog.WithContributionID(s.contributionID),
		dialog.WithAcceptContact(dialog.FeatureTagIM))
	if err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *ChatSession) runTerminating(ctx context.Context) error {
	if err := s.transition(eventStart); err != nil {
		return err
	}
	invite := s.path.Invite()
	s.respond(s.responder, invite, statusRinging, "Ringing", dialog.Body{})

	remote, err := remoteMedia(s.path.RemoteContent())
	if err != nil {
		s.respond(s.responder, invite, statusNotAcceptableHere, "Not Acceptable Here", dialog.Body{})
		return newError(ErrorSessionInitiationFailed, err, "invalid session offer")
	}
	if rc := s.path.RemoteContent(); strings.HasPrefix(rc.ContentType(), "multipart/") {
		if part, ok := rc.Part(cpim.MimeType); ok {
			if msg, err := cpim.Parse(part.Content); err == nil {
				s.first = msg
			}
		}
	}

	answer := AnswerAccepted
	if !s.dir.opts.Settings.ChatAutoAccept {
		answer = s.answerer.WaitForAnswer(ctx, s.dir.opts.Settings.InvitationTimeout)
	}
	s.logger.Debug("Решение по входящей сессии", slog.String("answer", answer.String()))

	switch answer {
	case AnswerRejected:
		s.respond(s.responder, invite, statusDecline, "Decline", dialog.Body{})
		return aborted(AbortByUser)
	case AnswerTimedOut:
		s.respond(s.responder, invite, statusTemporarilyUnavailable, "Temporarily Unavailable", dialog.Body{})
		return aborted(AbortByTimeout)
	case AnswerCanceled:
		s.respond(s.responder, invite, sip.StatusRequestTerminated, "Request Terminated", dialog.Body{})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return aborted(AbortByRemote)
	}

	sdpData, err := buildChatSDP(newChatMedia(s.dir.opts.Profile.Contact.Host, s.id, answerSetup(remote.Setup)))
	if err != nil {
		s.respond(s.responder, invite, statusInternalServerError, "Server Internal Error", dialog.Body{})
		return newError(ErrorUnexpectedFailure, err, "failed to build answer")
	}
	answerBody := dialog.NewBody(ContentTypeSDP, sdpData)
	s.path.SetLocalContent(answerBody)
	s.respond(s.responder, invite, sip.StatusOK, "OK", answerBody)

	if err := s.transition(eventEstablish); err != nil {
		return err
	}
	s.notifyStarted()
	s.recordSession(s.firstRecord())
	if s.first != nil {
		s.receive(s.first, dialog.AssertedIdentity(invite).String(), dialog.InstanceID(invite))
	}
	return s.serve(ctx)
}
