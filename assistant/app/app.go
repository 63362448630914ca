// Package app assembles the payments assistant bot: session store, credential
// manager, rate limiter, scene engine, backend client, and the realtime
// deposit bridge, wired into the shared telegram runtime.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/paybot/assistant/auth"
	"github.com/m3rciful/paybot/assistant/backend"
	"github.com/m3rciful/paybot/assistant/handlers"
	"github.com/m3rciful/paybot/assistant/notify"
	"github.com/m3rciful/paybot/assistant/ratelimit"
	"github.com/m3rciful/paybot/assistant/scene"
	"github.com/m3rciful/paybot/assistant/session"
	"github.com/m3rciful/paybot/core/bootstrap"
	"github.com/m3rciful/paybot/core/logger"
	tg "github.com/m3rciful/paybot/core/telegram"
	"github.com/m3rciful/paybot/core/telegram/router"
)

// App holds every long-lived component of the assistant.
type App struct {
	cfg *Config

	db    *sqlx.DB
	redis *redis.Client
	store session.Store

	auth    *auth.Manager
	limiter *ratelimit.Limiter

	scenes  *scene.Registry
	engine  *scene.Engine
	adapter *scene.Adapter

	registry *tg.Registry
	handlers *handlers.Handlers
	backend  *backend.Client

	messenger *notify.TelegramMessenger
	wsClient  *notify.WSClient
	bridge    *notify.Bridge
}

// Bootstrap builds the App from configuration: logger first, then the
// session store for the configured driver, then the services on top.
func Bootstrap(cfg *Config) (*App, error) {
	a := &App{cfg: cfg}
	ttl := time.Duration(cfg.Session.TTLHours) * time.Hour

	switch cfg.Session.Driver {
	case DriverPostgres:
		res, err := bootstrap.Run(bootstrap.Options{
			Config:   &cfg.Core,
			Database: cfg.Database,
		})
		if err != nil {
			return nil, err
		}
		a.db = res.DB
		a.store = session.NewPostgresStore(a.db, ttl)
	case DriverRedis:
		if err := logger.InitLogger(&cfg.Core); err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		a.store = session.NewRedisStore(a.redis, ttl)
	default:
		if err := logger.InitLogger(&cfg.Core); err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		a.store = session.NewMemoryStore(ttl)
	}

	a.auth = auth.NewManager(a.store, auth.NewCipher(cfg.Crypto.Secret))
	a.limiter = ratelimit.NewLimiter(a.store)

	a.backend = backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	})

	a.messenger = &notify.TelegramMessenger{}
	if cfg.Realtime.URL != "" {
		a.wsClient = notify.NewWSClient(cfg.Realtime.URL, &channelAuthorizer{app: a})
		a.bridge = notify.NewBridge(a.wsClient, a.messenger)
	} else {
		a.bridge = notify.NewBridge(disabledChannel{}, a.messenger)
	}
	a.auth.SetDeauthorizer(a.bridge)

	a.scenes = scene.NewRegistry()
	a.engine = scene.NewEngine(a.store, a.scenes)
	a.adapter = &scene.Adapter{Engine: a.engine}

	a.registry = tg.NewRegistry()
	h := &handlers.Handlers{
		Store:   a.store,
		Auth:    a.auth,
		Limiter: a.limiter,
		Backend: a.backend,
		Bridge:  a.bridge,
		Scenes:  a.adapter,
	}
	if err := h.Register(a.registry, a.scenes); err != nil {
		return nil, fmt.Errorf("handler wiring failed: %w", err)
	}
	a.handlers = h

	return a, nil
}

// TelegramRunOptions assembles the runtime routes and lifecycle hooks.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	fb := a.handlers.Fallbacks()
	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{
		AdminID: a.cfg.Core.Telegram.AdminID,
	})
	routes = append(routes, router.CallbackRoute(a.registry, router.CallbackOptions{
		NotFound: fb.UnknownCallback(),
	}))
	routes = append(routes, router.TextRoutes(a.adapter, a.registry, router.TextOptions{
		UnknownText:     fb.UnknownText(),
		UnknownDocument: fb.UnknownDocument(),
	})...)

	return tg.RunOptions{
		Config:      &a.cfg.Core,
		Registry:    a.registry,
		Middlewares: tg.DefaultMiddlewares(&a.cfg.Core, nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			a.messenger.SetBot(rt.Bot)
			if a.wsClient != nil {
				if err := a.wsClient.Connect(ctx); err != nil {
					// Deposit notifications degrade; the bot still serves.
					logger.SVCNotify.Warn("realtime connect failed",
						slog.String("event", "notify.connect"),
						slog.String("err", err.Error()),
					)
				} else {
					a.resubscribe(ctx)
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context, rt tg.Runtime) error {
			a.Close()
			return nil
		},
	}, nil
}

// resubscribe restores deposit subscriptions for chats that were signed in
// before the last restart.
func (a *App) resubscribe(ctx context.Context) {
	sessions, err := a.store.Authenticated(ctx)
	if err != nil {
		logger.SVCNotify.Warn("resubscribe listing failed",
			slog.String("event", "notify.resubscribe"),
			slog.String("err", err.Error()),
		)
		return
	}
	for _, s := range sessions {
		a.bridge.Subscribe(s.Auth.UserID, s.Auth.OrganizationID, s.ChatID)
	}
	if len(sessions) > 0 {
		logger.SVCNotify.Info("deposit subscriptions restored",
			slog.String("event", "notify.resubscribe"),
			slog.Int("count", len(sessions)),
		)
	}
}

// Close releases the realtime connection, the session store, and the
// storage backends.
func (a *App) Close() {
	if a.wsClient != nil {
		_ = a.wsClient.Close()
	}
	if closer, ok := a.store.(interface{ Close() }); ok {
		closer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// channelAuthorizer signs channel joins with the credential of the session
// that requested the subscription. Tokens are resolved per call and never
// cached.
type channelAuthorizer struct {
	app *App
}

func (ca *channelAuthorizer) Authorize(ctx context.Context, connectionID, channelName string) (json.RawMessage, error) {
	chatID, ok := ca.app.bridge.ChatForChannel(channelName)
	if !ok {
		return nil, fmt.Errorf("no session behind channel %s", channelName)
	}
	s, err := ca.app.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	token, err := ca.app.auth.Credential(ctx, s)
	if err != nil {
		return nil, err
	}
	return ca.app.backend.AuthorizeChannel(ctx, token, connectionID, channelName)
}

// disabledChannel stands in when no realtime URL is configured. Joins
// silently succeed without ever producing events.
type disabledChannel struct{}

func (disabledChannel) Subscribe(channel string, cb notify.Callbacks) error { return nil }
func (disabledChannel) Unsubscribe(channel string) error                    { return nil }
