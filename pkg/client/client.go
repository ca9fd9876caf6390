// Package client собирает стек клиента RCS: агент sipgo, каталог сессий,
// очередь уведомлений IMDN, историю и метрики Prometheus.
package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/emiago/sipgo"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/rcs_client/pkg/config"
	"github.com/arzzra/rcs_client/pkg/history"
	"github.com/arzzra/rcs_client/pkg/imdn"
	"github.com/arzzra/rcs_client/pkg/ims/transport"
	"github.com/arzzra/rcs_client/pkg/metrics"
	"github.com/arzzra/rcs_client/pkg/session"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	registry  *prometheus.Registry
	history   history.Store
	transport transport.Transport
}

// Option параметр сборки клиента
type Option func(*options)

// WithRegistry регистрирует метрики в отдельном реестре вместо глобального
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithHistory задает хранилище истории вместо выбранного по настройкам
func WithHistory(h history.Store) Option {
	return func(o *options) { o.history = h }
}

// WithTransport подменяет исходящий транспорт, например для тестов
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// Client собранный стек клиента
type Client struct {
	settings config.Settings
	logger   *slog.Logger

	ua       *sipgo.UserAgent
	server   *transport.Server
	history  history.Store
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	notifier *imdn.Manager
	dir      *session.Directory
	closers  []func() error
}

// New собирает клиент. Сетевые порты открываются в Run.
func New(ctx context.Context, s config.Settings, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	profile, err := s.Profile()
	if err != nil {
		return nil, err
	}

	c := &Client{settings: s, logger: logger}

	c.ua, err = sipgo.NewUA(sipgo.WithUserAgent(s.UserAgent), sipgo.WithUserAgentHostname(s.ContactHost))
	if err != nil {
		return nil, errors.Wrap(err, "create sip user agent")
	}
	c.closers = append(c.closers, c.ua.Close)

	srv, err := sipgo.NewServer(c.ua)
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "create sip server")
	}

	tr := o.transport
	if tr == nil {
		cl, err := sipgo.NewClient(c.ua, sipgo.WithClientHostname(s.ContactHost))
		if err != nil {
			c.Close()
			return nil, errors.Wrap(err, "create sip client")
		}
		tr = transport.NewSipgoTransport(cl, logger)
	}

	if err := c.openHistory(ctx, o.history); err != nil {
		c.Close()
		return nil, err
	}

	mcfg := metrics.DefaultConfig()
	mcfg.Enabled = s.MetricsAddr != ""
	c.gatherer = prometheus.DefaultGatherer
	if o.registry != nil {
		mcfg.Registerer = o.registry
		c.gatherer = o.registry
	}
	c.metrics = metrics.NewCollector(mcfg)

	c.notifier = imdn.NewManager(imdn.Options{
		Profile:   profile,
		Transport: tr,
		History:   c.history,
		Metrics:   c.metrics,
		Username:  s.Username,
		Password:  s.Password,
		Timeout:   s.RequestTimeout,
		Activated: s.ImReportsActivated,
		Logger:    logger,
	})

	c.dir, err = session.NewDirectory(session.Options{
		Settings:  s,
		Profile:   profile,
		Transport: tr,
		Notifier:  c.notifier,
		History:   c.history,
		Metrics:   c.metrics,
		Logger:    logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.server = transport.NewServer(srv, c.dir, logger)
	return c, nil
}

func (c *Client) openHistory(ctx context.Context, h history.Store) error {
	switch {
	case h != nil:
		c.history = h
	case c.settings.RedisAddr != "":
		rs, err := history.NewRedisStore(ctx, history.RedisOptions{
			Addr:     c.settings.RedisAddr,
			Password: c.settings.RedisPassword,
			DB:       c.settings.RedisDB,
			TTL:      c.settings.HistoryTTL,
		}, c.logger)
		if err != nil {
			return err
		}
		c.history = rs
		c.closers = append(c.closers, rs.Close)
	default:
		c.history = history.NewMemoryStore()
	}
	return nil
}

// Directory возвращает каталог сессий
func (c *Client) Directory() *session.Directory {
	return c.dir
}

// History возвращает хранилище истории
func (c *Client) History() history.Store {
	return c.history
}

// Settings возвращает настройки клиента
func (c *Client) Settings() config.Settings {
	return c.settings
}

// Run запускает прием SIP запросов, очередь IMDN и сервер метрик и
// блокируется до отмены ctx. После отмены сессии прерываются, очередь
// останавливается.
func (c *Client) Run(ctx context.Context) error {
	c.notifier.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := c.server.ListenAndServe(gctx, c.settings.Network, c.settings.ListenAddr)
		if err != nil && gctx.Err() == nil {
			return errors.Wrap(err, "sip server")
		}
		return nil
	})

	if c.settings.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}))
		hs := &http.Server{Addr: c.settings.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			c.logger.Info("Запуск сервера метрик", slog.String("addr", c.settings.MetricsAddr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return c.shutdown()
	})

	return g.Wait()
}

func (c *Client) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	c.logger.Info("Остановка клиента")
	err := c.dir.Shutdown(ctx)
	if err != nil {
		c.logger.Warn("Не все сессии завершились", slog.Any("error", err))
	}
	c.notifier.Shutdown()
	c.notifier.Wait()
	return err
}

// Close освобождает ресурсы клиента. Вызывается после Run.
func (c *Client) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}
