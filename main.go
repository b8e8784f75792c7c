package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gantt-proxy/api"
	"gantt-proxy/baserow"
	"gantt-proxy/config"
	"gantt-proxy/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("gantt-proxy: %v", err)
	}
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	upstream := baserow.New(cfg.Baserow.URL, baserow.WithTimeout(cfg.Baserow.Timeout))
	deps := api.Deps{
		Upstream:      upstream,
		DefaultToken:  cfg.Baserow.Token,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger,
		Publisher: api.PublisherConfig{
			Workers:        cfg.Publish.Workers,
			Buffer:         cfg.Publish.Buffer,
			Timeout:        cfg.Publish.Timeout,
			HandoffTimeout: cfg.Publish.HandoffTimeout,
		},
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set; webhook endpoint is open")
	}

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		opts, err := config.RedisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup; cache reads will fall through")
		}
		cache := storage.NewRowCache(upstream, rc, cfg.Redis.RowsCacheTTL, logger)
		deps.Rows = cache
		deps.Invalidator = cache
		deps.Deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		deps.Announcer = api.NewRedisAnnouncer(rc, cfg.Redis.Channel)
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set; row cache and webhook dedupe disabled")
	}

	backend, closeBackend, err := openPreferenceBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()
	deps.Preferences = storage.NewPreferences(ctx, backend, logger)

	if cfg.Storage.EventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue)
		if err != nil {
			return fmt.Errorf("event queue: %w", err)
		}
		deps.Events = queue
	}

	if cfg.AuthEnabled() {
		auth, jwks, err := newAuth(cfg)
		if err != nil {
			return err
		}
		if jwks != nil {
			defer jwks.EndBackground()
		}
		deps.Auth = auth
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, "X-User-Token", "X-Baserow-Webhook-Secret"},
	}))
	srv := api.Register(e, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if rc != nil {
		g.Go(func() error {
			api.SubscribeRevalidations(gctx, logger, rc, cfg.Redis.Channel, srv.NotifyTable)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// end open streams first so Shutdown does not wait on them
		srv.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

// openPreferenceBackend picks Azure Table Storage when a connection string is
// configured, then SQLite, and otherwise runs without persistence.
func openPreferenceBackend(ctx context.Context, cfg config.Config, logger *log.Logger) (storage.Backend, func(), error) {
	noop := func() {}
	switch {
	case cfg.Storage.ConnectionString != "":
		if cfg.Storage.Provision {
			if err := storage.Provision(ctx, cfg.Storage.ConnectionString, cfg.Storage.PreferencesTable, cfg.Storage.EventsQueue); err != nil {
				logger.WithError(err).Warn("storage provisioning failed")
			}
		}
		tb, err := storage.NewTableBackend(cfg.Storage.ConnectionString, cfg.Storage.PreferencesTable)
		if err != nil {
			return nil, noop, fmt.Errorf("preferences table: %w", err)
		}
		logger.Infof("preferences stored in table %s", cfg.Storage.PreferencesTable)
		return tb, noop, nil
	case cfg.Storage.SQLitePath != "":
		db, err := storage.OpenSQLite(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("preferences sqlite: %w", err)
		}
		logger.Infof("preferences stored in %s", cfg.Storage.SQLitePath)
		return db, func() {
			if err := db.Close(); err != nil {
				logger.WithError(err).Warn("closing preferences database")
			}
		}, nil
	}
	return nil, noop, nil
}

func newAuth(cfg config.Config) (*api.Auth, *keyfunc.JWKS, error) {
	if cfg.Auth.TestMode {
		auth, err := api.NewAuth(nil, cfg.Auth.Audience, "")
		if err == nil && !auth.TestMode {
			err = errors.New("auth test mode needs AUTH0_TEST_MODE=1 and TEST_JWT_SECRET in the environment")
		}
		return auth, nil, err
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, nil, fmt.Errorf("jwks: %w", err)
	}
	auth, err := api.NewAuth(jwks, cfg.Auth.Audience, "https://"+cfg.Auth.Domain+"/")
	if err != nil {
		jwks.EndBackground()
		return nil, nil, err
	}
	return auth, jwks, nil
}
