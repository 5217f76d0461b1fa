package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/identity"
	"github.com/Tyrowin/nexus-chat-server/internal/messagelog"
	"github.com/Tyrowin/nexus-chat-server/internal/notify"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
	"github.com/Tyrowin/nexus-chat-server/internal/subscription"
)

// App wires the chat core to its HTTP surface.
type App struct {
	cfg *Config
	log *zap.Logger

	messages      *messagelog.Log
	presence      *presence.Tracker
	subscriptions *subscription.Registry
	issuer        *identity.Issuer
	hub           *Hub
	vapid         notify.VAPIDKeys
	origins       *originPolicy
	upgrader      websocket.Upgrader
	registry      *prometheus.Registry
	reporter      *presenceReporter
	handler       http.Handler
	httpServer    *http.Server

	stopReport context.CancelFunc
	reportDone chan struct{}
	closeOnce  sync.Once
}

type appOptions struct {
	sender notify.Sender
	store  subscription.Store
}

// Option customizes NewApp.
type Option func(*appOptions)

// WithPushSender replaces the Web Push sender.
func WithPushSender(s notify.Sender) Option {
	return func(o *appOptions) { o.sender = s }
}

// WithSubscriptionStore replaces the store selected by the configuration.
func WithSubscriptionStore(s subscription.Store) Option {
	return func(o *appOptions) { o.store = s }
}

// NewApp builds every component from cfg. Call Start to begin serving
// and Shutdown to release resources.
func NewApp(cfg *Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)
	cfg = &sanitized
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:      cfg,
		log:      logger,
		messages: messagelog.New(cfg.MessageCapacity),
		presence: presence.NewTracker(),
		registry: prometheus.NewRegistry(),
	}

	var ignored []string
	a.origins, ignored = newOriginPolicy(cfg.AllowedOrigins)
	for _, origin := range ignored {
		logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}

	issuer, err := identity.NewIssuer()
	if err != nil {
		return nil, err
	}
	a.issuer = issuer

	store := o.store
	if store == nil {
		if store, err = openStore(cfg.Subscriptions); err != nil {
			return nil, err
		}
	}
	a.subscriptions = subscription.NewRegistry(store, logger.Named("registry"))

	a.vapid, err = resolveVAPIDKeys(cfg.Push, logger)
	if err != nil {
		_ = a.subscriptions.Close()
		return nil, err
	}
	sender := o.sender
	if sender == nil {
		sender = notify.NewWebPushSender(a.vapid, cfg.Push.Subject, cfg.Push.TTL, &http.Client{Timeout: cfg.Push.Timeout})
	}
	dispatcher := notify.NewDispatcher(a.presence, a.subscriptions, sender, cfg.Push.Timeout, logger.Named("notify"))

	m := newMetrics(a.registry, func() float64 { return float64(a.presence.ActiveUsers()) })
	a.hub = NewHub(a.messages, a.presence, dispatcher, m, logger.Named("hub"), hubOptionsFromConfig(cfg))

	if cfg.PresenceReportCron != "" {
		a.reporter, err = newPresenceReporter(cfg.PresenceReportCron, a.presence, a.hub, logger.Named("presence"))
		if err != nil {
			_ = a.subscriptions.Close()
			return nil, err
		}
	}

	a.handler = a.setupRoutes()
	a.httpServer = CreateServer(cfg.Port, a.handler)
	return a, nil
}

func openStore(cfg SubscriptionsConfig) (subscription.Store, error) {
	switch cfg.Backend {
	case BackendPebble:
		return subscription.OpenPebbleStore(cfg.PebbleDir)
	case BackendFile:
		return subscription.NewFileStore(cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown subscriptions backend %q", cfg.Backend)
}

func resolveVAPIDKeys(cfg PushConfig, logger *zap.Logger) (notify.VAPIDKeys, error) {
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		return notify.VAPIDKeys{Public: cfg.VAPIDPublicKey, Private: cfg.VAPIDPrivateKey}, nil
	}
	keys, err := notify.GenerateVAPIDKeys()
	if err != nil {
		return notify.VAPIDKeys{}, err
	}
	logger.Warn("no VAPID keys configured; generated an ephemeral pair, existing push subscriptions will stop working after restart",
		zap.String("public_key", keys.Public))
	return keys, nil
}

func (a *App) checkOrigin(r *http.Request) bool {
	if a.origins.allows(r) {
		return true
	}
	a.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Hub returns the connection hub.
func (a *App) Hub() *Hub { return a.hub }

// Config returns the effective configuration.
func (a *App) Config() *Config { return a.cfg }

// VAPIDPublicKey returns the key clients subscribe with.
func (a *App) VAPIDPublicKey() string { return a.vapid.Public }

// Start launches the hub's liveness sweep and the presence report. It does
// not start listening; see ListenAndServe.
func (a *App) Start() {
	go a.hub.Run()

	if a.reporter != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopReport = cancel
		a.reportDone = make(chan struct{})
		go func() {
			defer close(a.reportDone)
			a.reporter.run(ctx)
		}()
	}
	a.log.Info("hub started", zap.Int("message_capacity", a.messages.Capacity()))
}

// ListenAndServe serves HTTP on the configured port until Shutdown.
func (a *App) ListenAndServe() error {
	return StartServer(a.httpServer, a.log)
}

// Shutdown stops accepting requests, closes every WebSocket connection and
// releases the subscription store.
func (a *App) Shutdown(timeout time.Duration) error {
	var errs []error
	a.closeOnce.Do(func() {
		if err := ShutdownServer(a.httpServer, timeout, a.log); err != nil {
			errs = append(errs, err)
		}
		if err := a.hub.Shutdown(timeout); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		if a.stopReport != nil {
			a.stopReport()
			<-a.reportDone
		}
		if err := a.subscriptions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription store: %w", err))
		}
	})
	return errors.Join(errs...)
}
