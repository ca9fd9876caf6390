// Package metrics экспортирует метрики ядра сессий в Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector собирает метрики сессий, аутентификации, IMDN и передачи файлов.
//
// Все методы безопасны для nil получателя и выключенного сборщика,
// поэтому компоненты вызывают их без проверок.
type Collector struct {
	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	sessionDuration  *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec
	authChallenges   prometheus.Counter
	authFailures     prometheus.Counter
	imdnSent         *prometheus.CounterVec
	imdnQueueDepth   prometheus.Gauge
	transferBytes    *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec

	startTimes sync.Map // session id -> time.Time
	enabled    bool
}

// Config конфигурация сборщика
type Config struct {
	// Enabled включает/выключает сбор метрик
	Enabled bool
	// Namespace префикс для Prometheus метрик
	Namespace string
	// Subsystem подсистема для Prometheus метрик
	Subsystem string
	// Registerer реестр для регистрации, по умолчанию prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: "rcs",
		Subsystem: "core",
	}
}

// NewCollector создает сборщик и регистрирует метрики
func NewCollector(cfg Config) *Collector {
	if !cfg.Enabled {
		return &Collector{enabled: false}
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	ns, sub := cfg.Namespace, cfg.Subsystem

	return &Collector{
		enabled: true,
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sessions_started_total",
			Help: "Количество запущенных сессий",
		}, []string{"kind", "direction"}),
		sessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sessions_finished_total",
			Help: "Количество завершенных сессий по итогу",
		}, []string{"kind", "outcome"}),
		sessionsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sessions_active",
			Help: "Активные сессии",
		}, []string{"kind"}),
		sessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "session_duration_seconds",
			Help:    "Длительность сессий",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		}, []string{"kind"}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "state_transitions_total",
			Help: "Переходы состояний сессий",
		}, []string{"from", "to"}),
		authChallenges: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "auth_challenges_total",
			Help: "Полученные вызовы аутентификации 401/407",
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "auth_failures_total",
			Help: "Неудачные аутентификации",
		}),
		imdnSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "imdn_sent_total",
			Help: "Отправленные уведомления IMDN",
		}, []string{"path", "result"}),
		imdnQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "imdn_queue_depth",
			Help: "Размер очереди уведомлений IMDN",
		}),
		transferBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "transfer_bytes_total",
			Help: "Переданные байты HTTP передачи файлов",
		}, []string{"direction"}),
		listenerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "listener_failures_total",
			Help: "Ошибки и паники наблюдателей",
		}, []string{"event"}),
	}
}

func (c *Collector) on() bool {
	return c != nil && c.enabled
}

// SessionStarted фиксирует запуск сессии
func (c *Collector) SessionStarted(id, kind, direction string) {
	if !c.on() {
		return
	}
	c.sessionsStarted.WithLabelValues(kind, direction).Inc()
	c.sessionsActive.WithLabelValues(kind).Inc()
	c.startTimes.Store(id, time.Now())
}

// SessionFinished фиксирует завершение сессии с итогом
func (c *Collector) SessionFinished(id, kind, outcome string) {
	if !c.on() {
		return
	}
	c.sessionsFinished.WithLabelValues(kind, outcome).Inc()
	if start, ok := c.startTimes.LoadAndDelete(id); ok {
		c.sessionsActive.WithLabelValues(kind).Dec()
		c.sessionDuration.WithLabelValues(kind).Observe(time.Since(start.(time.Time)).Seconds())
	}
}

// StateTransition фиксирует переход состояния
func (c *Collector) StateTransition(from, to string) {
	if !c.on() {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) AuthChallenge() {
	if !c.on() {
		return
	}
	c.authChallenges.Inc()
}

func (c *Collector) AuthFailure() {
	if !c.on() {
		return
	}
	c.authFailures.Inc()
}

// ImdnSent фиксирует отправку уведомления; path - queue или immediate
func (c *Collector) ImdnSent(path string, ok bool) {
	if !c.on() {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.imdnSent.WithLabelValues(path, result).Inc()
}

func (c *Collector) ImdnQueueDepth(n int) {
	if !c.on() {
		return
	}
	c.imdnQueueDepth.Set(float64(n))
}

// TransferBytes фиксирует переданные байты; direction - upload или download
func (c *Collector) TransferBytes(direction string, n int64) {
	if !c.on() || n <= 0 {
		return
	}
	c.transferBytes.WithLabelValues(direction).Add(float64(n))
}

func (c *Collector) ListenerFailure(event string) {
	if !c.on() {
		return
	}
	c.listenerFailures.WithLabelValues(event).Inc()
}
