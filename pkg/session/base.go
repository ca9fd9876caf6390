// Package session реализует сессии RCS: чат один-на-один, групповой чат,
// расширение чата и передачу файлов через HTTP.
//
// Каждая сессия выполняется в своей горутине, запущенной Start. Переходы
// состояний проверяет машина состояний looplab/fsm. Слушатели получают ровно
// одно терминальное уведомление, после которого сессия удаляется из каталога.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/history"
	"github.com/arzzra/rcs_client/pkg/ims/auth"
	"github.com/arzzra/rcs_client/pkg/ims/dialog"
	"github.com/arzzra/rcs_client/pkg/ims/transport"
	"github.com/arzzra/rcs_client/pkg/listener"
	"github.com/arzzra/rcs_client/pkg/transfer"
)

// Kind вид сессии
type Kind string

const (
	KindOneOneChat   Kind = "one-one-chat"
	KindGroupChat    Kind = "group-chat"
	KindExtendChat   Kind = "extend-chat"
	KindFileTransfer Kind = "http-file-transfer"
)

// Direction направление сессии
type Direction string

const (
	Originating Direction = "originating"
	Terminating Direction = "terminating"
)

// Session общий интерфейс сессий
type Session interface {
	ID() string
	Kind() Kind
	Direction() Direction
	// Contact удаленная сторона (для группового чата адрес конференции)
	Contact() string
	ContributionID() string
	State() State
	// Path контекст диалога. Может быть nil у исходящей передачи файла.
	Path() *dialog.Path
	AddListener(l Listener)
	RemoveListener(l Listener)
	// OnStateChange задает обработчик переходов состояний
	OnStateChange(fn func(from, to State))
	Start()
	// Interrupt прерывает сессию. Не блокируется.
	Interrupt()
	// Done закрывается после завершения горутины сессии
	Done() <-chan struct{}
}

// base общий каркас всех видов сессий
type base struct {
	id             string
	kind           Kind
	direction      Direction
	contact        string
	contributionID string
	created        time.Time
	seq            uint64

	dir       *Directory
	self      Session
	path      *dialog.Path
	agent     *auth.Agent
	listeners *listener.Registry[Listener]
	machine   *fsm.FSM
	logger    *slog.Logger
	run       func(ctx context.Context) error

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	endOnce   sync.Once
	done      chan struct{}

	mu            sync.Mutex
	transfer      transfer.Manager
	onStateChange func(from, to State)
}

func (b *base) init(dir *Directory, self Session, kind Kind, direction Direction, contact string, path *dialog.Path) {
	b.id = dialog.NewSessionID()
	b.kind = kind
	b.direction = direction
	b.contact = contact
	b.created = time.Now()
	b.dir = dir
	b.self = self
	b.path = path
	b.agent = auth.NewAgent(dir.opts.Settings.Username, dir.opts.Settings.Password)
	b.done = make(chan struct{})
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.logger = dir.logger.With(
		slog.String("session_id", b.id),
		slog.String("kind", string(kind)),
		slog.String("direction", string(direction)))
	if path != nil {
		b.logger = b.logger.With(slog.String("call_id", path.CallID()))
	}

	b.listeners = listener.New[Listener](
		listener.WithLogger(b.logger),
		listener.WithFailureHook(dir.opts.Metrics.ListenerFailure))
	b.machine = newStateMachine(b.stateChanged)
}

func (b *base) ID() string             { return b.id }
func (b *base) Kind() Kind             { return b.kind }
func (b *base) Direction() Direction   { return b.direction }
func (b *base) Contact() string        { return b.contact }
func (b *base) ContributionID() string { return b.contributionID }
func (b *base) Path() *dialog.Path     { return b.path }
func (b *base) Done() <-chan struct{}  { return b.done }

// State возвращает текущее состояние
func (b *base) State() State {
	return State(b.machine.Current())
}

// AddListener добавляет слушателя сессии
func (b *base) AddListener(l Listener) {
	b.listeners.Register(l)
}

// RemoveListener удаляет слушателя сессии
func (b *base) RemoveListener(l Listener) {
	b.listeners.Unregister(l)
}

// OnStateChange задает обработчик переходов состояний
func (b *base) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Start запускает горутину сессии. Повторный вызов ничего не делает.
func (b *base) Start() {
	b.startOnce.Do(func() {
		b.dir.opts.Metrics.SessionStarted(b.id, string(b.kind), string(b.direction))
		b.logger.Info("Запуск сессии", slog.String("contact", b.contact))
		go b.loop()
	})
}

// Interrupt отменяет контекст сессии и передачу файла, если она идет
func (b *base) Interrupt() {
	b.logger.Debug("Прерывание сессии", slog.String("state", b.State().String()))
	// Флаг отмены передачи выставляется до отмены контекста
	b.mu.Lock()
	t := b.transfer
	b.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
	b.cancel()
}

// discard завершает не запущенную сессию как прерванную системой.
// Для запущенной сессии ничего не делает.
func (b *base) discard() {
	b.startOnce.Do(func() {
		b.abort(AbortBySystem)
		close(b.done)
	})
}

func (b *base) setTransfer(t transfer.Manager) {
	b.mu.Lock()
	b.transfer = t
	b.mu.Unlock()
	// Прерывание могло случиться до создания передачи
	if b.ctx.Err() != nil {
		t.Cancel()
	}
}

func (b *base) loop() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Паника в сессии восстановлена",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			b.fail(newError(ErrorUnexpectedFailure, nil, "panic: %v", r))
			b.dir.remove(b.self)
		}
	}()

	err := b.run(b.ctx)
	b.finish(err)
}

// finish приводит результат run к терминальному уведомлению
func (b *base) finish(err error) {
	var ab *abortError
	switch {
	case err == nil:
	case errors.Is(err, errLocalCancel), errors.Is(err, transfer.ErrCancelled):
		b.logger.Info("Передача отменена локально")
		b.end(eventAbort, "cancelled", nil)
	case errors.As(err, &ab):
		b.abort(ab.reason)
	case errors.Is(err, context.Canceled) && b.ctx.Err() != nil:
		b.abort(AbortBySystem)
	default:
		b.fail(asError(err))
	}
	b.dir.remove(b.self)
}

// end переводит сессию в терминальное состояние и уведомляет слушателей.
// Выполняется один раз за жизненный цикл.
func (b *base) end(event, outcome string, notify func(l Listener)) {
	b.endOnce.Do(func() {
		if err := b.machine.Event(context.Background(), event); err != nil {
			from := b.State()
			to := terminalState(event)
			if !from.IsTerminal() {
				b.machine.SetState(string(to))
				b.stateChanged(from, to)
			}
		}
		b.dir.remove(b.self)
		b.dir.opts.Metrics.SessionFinished(b.id, string(b.kind), outcome)
		b.logger.Info("Сессия завершена", slog.String("outcome", outcome), slog.String("state", b.State().String()))
		if notify != nil {
			b.listeners.Notify(outcome, func(l Listener) error {
				notify(l)
				return nil
			})
		}
		b.cancel()
	})
}

func terminalState(event string) State {
	switch event {
	case eventTerminated:
		return StateTerminated
	case eventReject:
		return StateRejected
	case eventAbort:
		return StateAborted
	}
	return StateError
}

func (b *base) transition(event string) error {
	if err := b.machine.Event(context.Background(), event); err != nil {
		return errors.Wrapf(err, "transition %s from %s", event, b.State())
	}
	return nil
}

func (b *base) stateChanged(from, to State) {
	b.dir.opts.Metrics.StateTransition(string(from), string(to))
	b.logger.Debug("Смена состояния", slog.String("from", string(from)), slog.String("to", string(to)))
	b.mu.Lock()
	fn := b.onStateChange
	b.mu.Unlock()
	if fn != nil {
		fn(from, to)
	}
}

func (b *base) notifyStarted() {
	b.listeners.Notify("session_started", func(l Listener) error {
		l.HandleSessionStarted(b.self)
		return nil
	})
}

func (b *base) terminated() {
	b.end(eventTerminated, "terminated", func(l Listener) {
		l.HandleSessionTerminated(b.self)
	})
}

func (b *base) terminatedByRemote() {
	b.end(eventTerminated, "terminated_by_remote", func(l Listener) {
		l.HandleSessionTerminatedByRemote(b.self)
	})
}

func (b *base) abort(reason AbortReason) {
	b.end(eventAbort, "aborted", func(l Listener) {
		l.HandleSessionAborted(b.self, reason)
	})
}

func (b *base) fail(err *Error) {
	err.SessionID = b.id
	event, outcome := eventFail, "error"
	if err.Code == ErrorSessionInitiationDeclined {
		event, outcome = eventReject, "rejected"
	}
	b.logger.Warn("Ошибка сессии", slog.String("code", err.Code.String()), slog.Any("error", err))
	b.end(event, outcome, func(l Listener) {
		l.HandleError(b.self, err)
	})
}

func (b *base) fileTransferred(info transfer.FileInfo) {
	b.end(eventTerminated, "transferred", func(l Listener) {
		l.HandleFileTransferred(b.self, info)
	})
}

// exchange отправляет запрос диалога по протоколу повтора после вызова аутентификации
func (b *base) exchange(ctx context.Context, build func() (*sip.Request, error)) (*sip.Response, error) {
	resp, err := auth.Send(ctx, auth.Exchange{
		Path:        b.path,
		Agent:       b.agent,
		Transport:   b.dir.opts.Transport,
		Timeout:     b.dir.opts.Settings.RequestTimeout,
		Build:       build,
		OnChallenge: b.dir.opts.Metrics.AuthChallenge,
		OnFailure:   b.dir.opts.Metrics.AuthFailure,
		Logger:      b.logger,
	})
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			return nil, newError(ErrorAuthenticationFailed, err, "authentication failed")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

// recordSession записывает новую сессию в историю. Ошибка только логируется.
func (b *base) recordSession(first *firstMessage) {
	rec := history.SessionRecord{
		SessionID:      b.id,
		ContributionID: b.contributionID,
		Contact:        b.contact,
		Kind:           string(b.kind),
		Direction:      string(b.direction),
		CreatedAt:      b.created,
	}
	if first != nil {
		rec.FirstMessageID = first.id
		rec.FirstMessage = first.text
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.dir.opts.Settings.RequestTimeout)
	defer cancel()
	if err := b.dir.opts.History.RecordNewSession(ctx, rec); err != nil {
		b.logger.Warn("Не удалось записать сессию в историю", slog.Any("error", err))
	}
}

// respond отправляет ответ на входящий запрос диалога
func (b *base) respond(r transport.Responder, req *sip.Request, code int, reason string, body dialog.Body) {
	if r == nil {
		return
	}
	if err := r.Respond(b.path.NewResponse(req, code, reason, body)); err != nil {
		b.logger.Warn("Не удалось отправить ответ",
			slog.String("method", string(req.Method)),
			slog.Int("status", code),
			slog.Any("error", err))
	}
}

func (b *base) String() string {
	return fmt.Sprintf("%s/%s %s", b.kind, b.direction, b.id)
}

// firstMessage первое сообщение сессии для истории
type firstMessage struct {
	id   string
	text string
}
