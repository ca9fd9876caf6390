package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/config"
	"github.com/arzzra/rcs_client/pkg/cpim"
	"github.com/arzzra/rcs_client/pkg/history"
	"github.com/arzzra/rcs_client/pkg/imdn"
	"github.com/arzzra/rcs_client/pkg/ims/dialog"
	"github.com/arzzra/rcs_client/pkg/ims/transport"
	"github.com/arzzra/rcs_client/pkg/listener"
	"github.com/arzzra/rcs_client/pkg/metrics"
	"github.com/arzzra/rcs_client/pkg/transfer"
)

// Options зависимости каталога сессий
type Options struct {
	Settings   config.Settings
	Profile    *dialog.Profile
	Transport  transport.Transport
	Notifier   *imdn.Manager
	History    history.Store
	Metrics    *metrics.Collector
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Directory каталог активных сессий. Создает сессии, ищет их по
// идентификатору, Call-ID и контакту и принимает входящие запросы
// (реализует transport.Handler).
type Directory struct {
	opts   Options
	logger *slog.Logger

	sessions *shardedMap
	byCallID *shardedMap
	core     *listener.Registry[CoreListener]
	seq      atomic.Uint64
}

var _ transport.Handler = (*Directory)(nil)

// NewDirectory создает каталог. Если профиль не задан, он строится из настроек.
func NewDirectory(opts Options) (*Directory, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	if opts.Profile == nil {
		profile, err := opts.Settings.Profile()
		if err != nil {
			return nil, errors.Wrap(err, "session: invalid profile settings")
		}
		opts.Profile = profile
	}
	if opts.Settings.RequestTimeout <= 0 {
		opts.Settings.RequestTimeout = 30 * time.Second
	}

	logger := opts.Logger.With(slog.String("component", "session"))
	return &Directory{
		opts:     opts,
		logger:   logger,
		sessions: newShardedMap(),
		byCallID: newShardedMap(),
		core: listener.New[CoreListener](
			listener.WithLogger(logger),
			listener.WithFailureHook(opts.Metrics.ListenerFailure)),
	}, nil
}

// AddCoreListener добавляет наблюдателя каталога
func (d *Directory) AddCoreListener(l CoreListener) {
	d.core.Register(l)
}

// RemoveCoreListener удаляет наблюдателя каталога
func (d *Directory) RemoveCoreListener(l CoreListener) {
	d.core.Unregister(l)
}

// Session возвращает сессию по идентификатору
func (d *Directory) Session(id string) (Session, bool) {
	return d.sessions.Get(id)
}

// SessionByCallID возвращает сессию по Call-ID диалога
func (d *Directory) SessionByCallID(callID string) (Session, bool) {
	return d.byCallID.Get(callID)
}

// Len возвращает количество сессий в каталоге
func (d *Directory) Len() int {
	return d.sessions.Count()
}

// ChatWithContact возвращает последний созданный чат один-на-один с контактом
func (d *Directory) ChatWithContact(contact string) (*ChatSession, bool) {
	key := contactKey(contact)
	var found *ChatSession
	d.sessions.ForEach(func(_ string, s Session) {
		chat, ok := s.(*ChatSession)
		if !ok || chat.State().IsTerminal() || contactKey(chat.Contact()) != key {
			return
		}
		if found == nil || chat.seq > found.seq {
			found = chat
		}
	})
	return found, found != nil
}

// chatForTransfer ищет чат для доставки описания файла: сначала по
// идентификатору, затем последний чат с тем же контактом
func (d *Directory) chatForTransfer(chatID, contact string) chatSender {
	if chatID != "" {
		if s, ok := d.sessions.Get(chatID); ok && !s.State().IsTerminal() {
			if chat, ok := s.(chatSender); ok {
				return chat
			}
		}
	}
	if chat, ok := d.ChatWithContact(contact); ok {
		return chat
	}
	return nil
}

// NewOneOneChat создает исходящий чат один-на-один. first может быть nil.
// Сессия зарегистрирована в каталоге, запуск через Start.
func (d *Directory) NewOneOneChat(contact string, first *cpim.Message) (*ChatSession, error) {
	return d.newOneOneChat(contact, first)
}

func (d *Directory) newOneOneChat(contact string, first *cpim.Message) (*ChatSession, error) {
	target, err := parseContact(contact)
	if err != nil {
		return nil, err
	}
	s := &ChatSession{}
	s.init(d, s, KindOneOneChat, Originating, contact, dialog.NewOriginatingPath(d.opts.Profile, target, target))
	s.initChat()
	s.contributionID = dialog.NewContributionID()
	s.first = first
	s.run = s.runOriginating
	d.register(&s.base)
	return s, nil
}

// NewGroupChat создает исходящий групповой чат через фабрику конференций
func (d *Directory) NewGroupChat(subject string, participants []string) (*GroupChatSession, error) {
	if len(participants) < 2 {
		return nil, errors.New("session: group chat needs at least two participants")
	}
	return d.newGroupChat(KindGroupChat, subject, participants, nil)
}

// ExtendChat расширяет чат один-на-один до группового. Удаленная сторона
// чата заменяет свою сессию групповой через Session-Replaces.
func (d *Directory) ExtendChat(oneOne *ChatSession, participants []string) (*GroupChatSession, error) {
	if oneOne == nil {
		return nil, errors.New("session: nothing to extend")
	}
	if len(participants) == 0 {
		return nil, errors.New("session: no participants to add")
	}
	all := append([]string{oneOne.Contact()}, participants...)
	return d.newGroupChat(KindExtendChat, "", all, oneOne)
}

func (d *Directory) newGroupChat(kind Kind, subject string, participants []string, replaces *ChatSession) (*GroupChatSession, error) {
	if d.opts.Settings.ConferenceFactoryURI == "" {
		return nil, errors.New("session: conference factory uri is not configured")
	}
	factory, err := parseContact(d.opts.Settings.ConferenceFactoryURI)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if _, err := parseContact(p); err != nil {
			return nil, err
		}
	}

	g := &GroupChatSession{
		subject:      subject,
		participants: append([]string(nil), participants...),
		replaces:     replaces,
	}
	g.init(d, g, kind, Originating, d.opts.Settings.ConferenceFactoryURI, dialog.NewOriginatingPath(d.opts.Profile, factory, factory))
	g.initChat()
	g.contributionID = dialog.NewContributionID()
	g.run = g.runOriginating
	d.register(&g.base)
	return g, nil
}

// NewFileTransfer создает исходящую передачу файла. Описание файла после
// загрузки уходит в чат chatSessionID, если он активен.
func (d *Directory) NewFileTransfer(contact string, content transfer.Content, thumbnail []byte, chatSessionID string) (*FileTransferSession, error) {
	if d.opts.Settings.FtServerURL == "" {
		return nil, errors.New("session: file transfer server is not configured")
	}
	if _, err := parseContact(contact); err != nil {
		return nil, err
	}
	if limit := d.opts.Settings.FtMaxSize; limit > 0 && content.Size > limit {
		return nil, errors.Errorf("session: file size %d exceeds limit %d", content.Size, limit)
	}

	f := &FileTransferSession{
		content:       content,
		thumbnail:     thumbnail,
		chatSessionID: chatSessionID,
		answerer:      NewChannelAnswerer(),
	}
	f.init(d, f, KindFileTransfer, Originating, contact, nil)
	f.run = f.runOriginating
	d.register(&f.base)
	return f, nil
}

// NewTextMessage создает CPIM сообщение с текстом
func (d *Directory) NewTextMessage(text string) *cpim.Message {
	return d.newTextMessage(text)
}

func (d *Directory) newTextMessage(text string) *cpim.Message {
	return d.newMessage("text/plain;charset=UTF-8", []byte(text))
}

// newMessage создает CPIM сообщение. Уведомления запрашиваются, если
// отчеты IMDN включены.
func (d *Directory) newMessage(contentType string, content []byte) *cpim.Message {
	msg := &cpim.Message{
		DateTime:    time.Now(),
		MessageID:   dialog.NewMessageID(),
		ContentType: contentType,
		Content:     content,
	}
	if d.opts.Settings.ImReportsActivated {
		msg.Disposition = []string{cpim.DispositionPositiveDelivery, cpim.DispositionDisplay}
	}
	return msg
}

func (d *Directory) register(b *base) {
	b.seq = d.seq.Add(1)
	d.sessions.Set(b.id, b.self)
	if b.path != nil {
		d.byCallID.Set(b.path.CallID(), b.self)
	}
}

func (d *Directory) remove(s Session) {
	d.sessions.DeleteIf(s.ID(), s)
	if p := s.Path(); p != nil {
		d.byCallID.DeleteIf(p.CallID(), s)
	}
}

// Shutdown прерывает все сессии и ждет их завершения. Не запущенные
// сессии завершаются с причиной AbortBySystem.
func (d *Directory) Shutdown(ctx context.Context) error {
	var running []Session
	d.sessions.ForEach(func(_ string, s Session) {
		s.Interrupt()
		running = append(running, s)
	})
	d.logger.Info("Остановка каталога сессий", slog.Int("sessions", len(running)))

	for _, s := range running {
		if ds, ok := s.(discarder); ok {
			ds.discard()
		}
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type discarder interface{ discard() }

// dialogSession сессия, принимающая запросы внутри диалога
type dialogSession interface {
	deliver(op commandOp, req *sip.Request, r transport.Responder)
}

// canceler входящая сессия, ожидающая решения пользователя
type canceler interface {
	remoteCancel()
}

// HandleInvite создает входящую чат сессию
func (d *Directory) HandleInvite(req *sip.Request, r transport.Responder) {
	callID := req.CallID()
	if callID == nil {
		d.reply(req, r, sip.StatusBadRequest, "Missing Call-ID")
		return
	}
	if _, ok := d.byCallID.Get(callID.Value()); ok {
		d.reply(req, r, statusNotImplemented, "Re-INVITE Not Supported")
		return
	}

	path, err := dialog.NewTerminatingPath(d.opts.Profile, req)
	if err != nil {
		d.logger.Warn("Некорректный входящий INVITE", slog.Any("error", err))
		d.reply(req, r, sip.StatusBadRequest, "Bad Request")
		return
	}
	if _, err := remoteMedia(path.RemoteContent()); err != nil {
		d.logger.Debug("Входящий INVITE без чата MSRP", slog.Any("error", err))
		d.reply(req, r, statusUnsupportedMediaType, "Unsupported Media Type")
		return
	}

	s := &ChatSession{}
	s.init(d, s, KindOneOneChat, Terminating, dialog.AssertedIdentity(req).String(), path)
	s.initChat()
	s.responder = r
	s.contributionID = dialog.NewContributionID()
	if h := req.GetHeader(dialog.HeaderContributionID); h != nil {
		s.contributionID = h.Value()
	}
	s.run = s.runTerminating
	d.register(&s.base)

	d.core.Notify("incoming_chat", func(l CoreListener) error {
		l.HandleIncomingChatSession(s)
		return nil
	})
	s.Start()
}

// HandleBye передает BYE сессии диалога
func (d *Directory) HandleBye(req *sip.Request, r transport.Responder) {
	if s, ok := d.dialogSession(req); ok {
		s.deliver(opInboundBye, req, r)
		return
	}
	d.reply(req, r, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
}

// HandleMessage передает MESSAGE сессии диалога. MESSAGE вне диалога
// с описанием файла создает входящую передачу, с отчетом IMDN
// обновляет историю.
func (d *Directory) HandleMessage(req *sip.Request, r transport.Responder) {
	if s, ok := d.dialogSession(req); ok {
		s.deliver(opInboundMessage, req, r)
		return
	}

	msg, info, err := parseFileMessage(req)
	if err != nil {
		d.logger.Debug("Некорректный MESSAGE вне диалога", slog.Any("error", err))
		d.reply(req, r, statusUnsupportedMediaType, "Unsupported Media Type")
		return
	}
	d.reply(req, r, sip.StatusOK, "OK")

	switch {
	case info != nil:
		d.incomingFileTransfer(req, msg, info)
	case strings.HasPrefix(strings.ToLower(msg.ContentType), imdn.ContentType):
		d.incomingReport(msg)
	default:
		from := dialog.AssertedIdentity(req).String()
		chat, ok := d.ChatWithContact(from)
		if !ok {
			d.logger.Info("Сообщение вне сессии отброшено", slog.String("from", from))
			return
		}
		chat.receive(msg, from, dialog.InstanceID(req))
	}
}

// HandleCancel передает отмену входящей сессии, ожидающей решения
func (d *Directory) HandleCancel(req *sip.Request) {
	callID := req.CallID()
	if callID == nil {
		return
	}
	s, ok := d.byCallID.Get(callID.Value())
	if !ok {
		return
	}
	if c, ok := s.(canceler); ok {
		c.remoteCancel()
	}
}

func (d *Directory) dialogSession(req *sip.Request) (dialogSession, bool) {
	callID := req.CallID()
	if callID == nil {
		return nil, false
	}
	s, ok := d.byCallID.Get(callID.Value())
	if !ok {
		return nil, false
	}
	ds, ok := s.(dialogSession)
	return ds, ok
}

func (d *Directory) incomingFileTransfer(req *sip.Request, msg *cpim.Message, info *transfer.FileInfo) {
	path, err := dialog.NewTerminatingPath(d.opts.Profile, req)
	if err != nil {
		d.logger.Warn("Некорректный MESSAGE с файлом", slog.Any("error", err))
		return
	}
	f := &FileTransferSession{answerer: NewChannelAnswerer()}
	f.init(d, f, KindFileTransfer, Terminating, dialog.AssertedIdentity(req).String(), path)
	f.setInbound(req, msg, info)
	f.run = f.runTerminating
	d.register(&f.base)

	d.core.Notify("incoming_file_transfer", func(l CoreListener) error {
		l.HandleIncomingFileTransfer(f)
		return nil
	})
	f.Start()
}

func (d *Directory) incomingReport(msg *cpim.Message) {
	msgID, status, err := imdn.ParseDocument(msg.Content)
	if err != nil {
		d.logger.Debug("Некорректный отчет IMDN", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Settings.RequestTimeout)
	defer cancel()
	if err := d.opts.History.RecordDeliveryStatus(ctx, msgID, status); err != nil {
		d.logger.Warn("Не удалось обновить историю", slog.String("msg_id", msgID), slog.Any("error", err))
	}
}

func (d *Directory) reply(req *sip.Request, r transport.Responder, code int, reason string) {
	if err := r.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		d.logger.Warn("Не удалось отправить ответ", slog.Int("status", code), slog.Any("error", err))
	}
}

func parseContact(contact string) (sip.Uri, error) {
	var uri sip.Uri
	s := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(contact), "<"), ">")
	if err := sip.ParseUri(s, &uri); err != nil {
		return sip.Uri{}, errors.Wrapf(err, "session: invalid contact %q", contact)
	}
	if err := dialog.ValidateURI(uri); err != nil {
		return sip.Uri{}, errors.Wrapf(err, "session: invalid contact %q", contact)
	}
	return uri, nil
}

// contactKey нормализует контакт для сравнения: пользователь и хост без параметров
func contactKey(contact string) string {
	uri, err := parseContact(contact)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contact))
	}
	return uri.User + "@" + strings.ToLower(uri.Host)
}
