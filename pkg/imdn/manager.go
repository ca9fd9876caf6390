// Package imdn отправляет уведомления о доставке и прочтении (IMDN).
//
// Уведомления отправляются двумя путями: через очередь FIFO, которую
// разбирает единственный рабочий, и немедленно в отдельной горутине.
// Немедленный путь не упорядочен относительно очереди.
package imdn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/cpim"
	"github.com/arzzra/rcs_client/pkg/history"
	"github.com/arzzra/rcs_client/pkg/ims/auth"
	"github.com/arzzra/rcs_client/pkg/ims/dialog"
	"github.com/arzzra/rcs_client/pkg/ims/transport"
	"github.com/arzzra/rcs_client/pkg/metrics"
)

// DeliveryStatus событие доставки. Создается один раз и отправляется один раз.
type DeliveryStatus struct {
	Contact string
	MsgID   string
	Status  string
	// InstanceID значение +sip.instance отправителя исходного сообщения (опционально)
	InstanceID string
}

// Options параметры менеджера
type Options struct {
	Profile   *dialog.Profile
	Transport transport.Transport
	History   history.Store
	Metrics   *metrics.Collector
	Username  string
	Password  string
	Timeout   time.Duration
	Activated bool
	Logger    *slog.Logger
}

// Manager очередь уведомлений IMDN с одним рабочим
type Manager struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []DeliveryStatus
	closed  bool
	started bool
	done    chan struct{}

	immediate sync.WaitGroup
}

// NewManager создает менеджер. Рабочий запускается через Start.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "imdn")),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Activated сообщает, включены ли отчеты IMDN в настройках
func (m *Manager) Activated() bool {
	return m.opts.Activated
}

// Start запускает рабочего. Повторный вызов ничего не делает.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	go m.run()
}

// Enqueue добавляет уведомление в очередь. Никогда не блокируется.
func (m *Manager) Enqueue(ds DeliveryStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.logger.Debug("Менеджер остановлен, уведомление отброшено", slog.String("msg_id", ds.MsgID))
		return
	}
	m.queue = append(m.queue, ds)
	m.opts.Metrics.ImdnQueueDepth(len(m.queue))
	m.cond.Signal()
}

// Len возвращает размер очереди
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// SendImmediately отправляет уведомление в отдельной горутине в обход очереди.
// История при этом не обновляется.
func (m *Manager) SendImmediately(ds DeliveryStatus) {
	m.immediate.Add(1)
	go func() {
		defer m.immediate.Done()
		err := m.send(m.ctx, ds)
		m.opts.Metrics.ImdnSent("immediate", err == nil)
		if err != nil {
			m.logger.Warn("Отправка уведомления не удалась",
				slog.String("msg_id", ds.MsgID),
				slog.String("status", ds.Status),
				slog.Any("error", err))
		}
	}()
}

// Shutdown закрывает очередь. Необработанные уведомления отбрасываются,
// текущая отправка прерывается, рабочий завершается.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	dropped := len(m.queue)
	m.queue = nil
	started := m.started
	m.cond.Broadcast()
	m.mu.Unlock()

	m.logger.Info("Остановка менеджера IMDN", slog.Int("dropped", dropped))
	m.cancel()
	if started {
		<-m.done
	}
}

// Wait ждет завершения немедленных отправок
func (m *Manager) Wait() {
	m.immediate.Wait()
}

func (m *Manager) pop() (DeliveryStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return DeliveryStatus{}, false
	}
	ds := m.queue[0]
	m.queue = m.queue[1:]
	m.opts.Metrics.ImdnQueueDepth(len(m.queue))
	return ds, true
}

func (m *Manager) run() {
	defer close(m.done)
	m.logger.Info("Запуск фоновой обработки")

	for {
		ds, ok := m.pop()
		if !ok {
			break
		}
		err := m.send(m.ctx, ds)
		m.opts.Metrics.ImdnSent("queue", err == nil)
		if err != nil {
			m.logger.Warn("Отправка уведомления не удалась",
				slog.String("msg_id", ds.MsgID),
				slog.String("status", ds.Status),
				slog.Any("error", err))
		}
		if err := m.opts.History.RecordDeliveryStatus(m.ctx, ds.MsgID, ds.Status); err != nil {
			m.logger.Warn("Не удалось обновить историю", slog.String("msg_id", ds.MsgID), slog.Any("error", err))
		}
	}
	m.logger.Info("Фоновая обработка завершена")
}

// send отправляет MESSAGE с уведомлением в новом диалоге (CSeq 1) со своим агентом аутентификации
func (m *Manager) send(ctx context.Context, ds DeliveryStatus) error {
	m.logger.Debug("Отправка уведомления", slog.String("msg_id", ds.MsgID), slog.String("status", ds.Status))

	now := time.Now()
	doc, err := BuildDocument(ds.MsgID, ds.Status, now)
	if err != nil {
		return err
	}

	var to sip.Uri
	if err := sip.ParseUri(ds.Contact, &to); err != nil {
		return errors.Wrapf(err, "invalid contact %q", ds.Contact)
	}

	wrapped := &cpim.Message{
		From:               m.opts.Profile.PublicURI.String(),
		To:                 ds.Contact,
		DateTime:           now,
		MessageID:          dialog.NewMessageID(),
		ContentType:        ContentType,
		ContentDisposition: "notification",
		Content:            doc,
	}
	body := dialog.NewBody(cpim.MimeType, wrapped.Build())

	var opts []dialog.RequestOpt
	if ds.InstanceID != "" {
		opts = append(opts, dialog.WithAcceptContact(`+sip.instance="<`+ds.InstanceID+`>"`))
	}

	path := dialog.NewOriginatingPath(m.opts.Profile, to, to)
	resp, err := auth.Send(ctx, auth.Exchange{
		Path:      path,
		Agent:     auth.NewAgent(m.opts.Username, m.opts.Password),
		Transport: m.opts.Transport,
		Timeout:   m.opts.Timeout,
		Build: func() (*sip.Request, error) {
			return path.NewMessage(body, opts...), nil
		},
		OnChallenge: m.opts.Metrics.AuthChallenge,
		OnFailure:   m.opts.Metrics.AuthFailure,
		Logger:      m.logger,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != sip.StatusOK && resp.StatusCode != sip.StatusAccepted {
		return errors.Errorf("delivery report rejected with %d %s", resp.StatusCode, resp.Reason)
	}
	return nil
}
