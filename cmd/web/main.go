package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/chat"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/cms"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/handlers"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/i18n"
	mw "github.com/cdjcoder/Lennox-Local-GHB/internal/middleware"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/config"
	pfirestore "github.com/cdjcoder/Lennox-Local-GHB/internal/platform/firestore"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/idempotency"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/observability"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/secrets"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/reservation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	levelName, _, _ := config.Lookup("LOG_LEVEL")
	baseLogger, err := observability.NewLogger(levelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("site")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close failed", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	app, cleanup, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise site", zap.Error(err))
	}
	defer cleanup()

	go app.registry.Run(ctx, cfg.Chat.SweepInterval)
	go idempotency.RunCleanup(ctx, app.idemStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("lennox local ads site listening", zap.String("environment", cfg.Site.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	app.registry.Close()
}

// newSecretFetcher bootstraps the fetcher from raw environment values so config.Load can resolve secret references.
func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project, _, err := config.Lookup("SITE_SECRETS_PROJECT_ID")
	if err != nil {
		return nil, err
	}
	if project == "" {
		project, _, _ = config.Lookup("SITE_FIRESTORE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if fallback, ok, _ := config.Lookup("SITE_SECRETS_FALLBACK_FILE"); ok && fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// app holds the collaborators shared by the router and background workers.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	table       *chat.Table
	registry    *chat.Registry
	detector    *chat.Detector
	bundle      *i18n.Bundle
	content     *cms.Library
	pages       *pages
	reservation *reservation.Service
	idemStore   idempotency.Store
	checks      map[string]handlers.Check
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	table, err := chat.LoadTable()
	if err != nil {
		return fail(err)
	}
	resolver, err := chat.NewResolver(table)
	if err != nil {
		return fail(err)
	}
	chatLogger := logger.Named("chat")
	registry := chat.NewRegistry(table, resolver,
		chat.WithIdleTTL(cfg.Chat.IdleTTL),
		chat.WithRegistryLogger(chatLogger),
		chat.WithWidgetOptions(
			chat.WithReplyDelay(cfg.Chat.MinReplyDelay, cfg.Chat.MaxReplyDelay),
			chat.WithLogger(chatLogger),
		),
	)

	bundle, err := i18n.Load(cfg.Site.LocalesDir, string(chat.English), supportedCodes())
	if err != nil {
		return fail(fmt.Errorf("load locales: %w", err))
	}
	cacheTTL := 5 * time.Minute
	if cfg.Site.DevMode {
		cacheTTL = 0
	}
	content := cms.New(cfg.Site.ContentDir, cms.WithCacheTTL(cacheTTL))

	pg, err := newPages(cfg.Site.TemplatesDir, cfg.Site.DevMode)
	if err != nil {
		return fail(fmt.Errorf("parse templates: %w", err))
	}

	checks := map[string]handlers.Check{}

	var store reservation.Store
	if cfg.Firestore.ProjectID != "" {
		provider := pfirestore.NewProvider(cfg.Firestore)
		closers = append(closers, func() {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close failed", zap.Error(err))
			}
		})
		fs, err := reservation.NewFirestoreStore(provider)
		if err != nil {
			return fail(err)
		}
		store = fs
		checks["firestore"] = func(ctx context.Context) error {
			_, err := provider.Client(ctx)
			return err
		}
	} else {
		logger.Warn("firestore project not configured; reservations kept in memory")
		store = reservation.NewMemoryStore()
	}

	var publisher reservation.Publisher
	if cfg.PubSub.ProjectID != "" {
		var opts []option.ClientOption
		if cfg.PubSub.EmulatorHost != "" {
			opts = append(opts,
				option.WithEndpoint(cfg.PubSub.EmulatorHost),
				option.WithoutAuthentication(),
				option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
		if err != nil {
			return fail(fmt.Errorf("pubsub client: %w", err))
		}
		topic := client.Topic(cfg.PubSub.MailTopic)
		closers = append(closers, func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		})
		publisher, err = reservation.NewPubSubPublisher(topic)
		if err != nil {
			return fail(err)
		}
		checks["pubsub"] = func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s not found", cfg.PubSub.MailTopic)
			}
			return nil
		}
	} else {
		logger.Warn("pubsub project not configured; mail jobs are logged only")
		publisher = reservation.NewLogPublisher(logger.Named("mail"))
	}

	service, err := reservation.NewService(reservation.ServiceDeps{
		Store:        store,
		Publisher:    publisher,
		OwnerEmail:   cfg.Site.OwnerEmail,
		ContactPhone: cfg.Site.ContactPhone,
		Logger:       logger.Named("reservation"),
	})
	if err != nil {
		return fail(err)
	}

	var idemStore idempotency.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		})
		idemStore = idempotency.NewRedisStore(rdb)
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	} else {
		idemStore = idempotency.NewMemoryStore()
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		table:       table,
		registry:    registry,
		detector:    chat.NewDetector(),
		bundle:      bundle,
		content:     content,
		pages:       pg,
		reservation: service,
		idemStore:   idemStore,
		checks:      checks,
	}, cleanup, nil
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	// RealIP trusts X-Forwarded-For; only deploy behind a proxy that overwrites it.
	r.Use(chimw.RealIP)
	r.Use(observability.TraceMiddleware(a.cfg.Observability.ProjectID))
	r.Use(observability.InjectLoggerMiddleware(a.logger))
	r.Use(mw.Sessions(mw.SessionOptions{
		SigningKey: a.cfg.Session.SigningKey,
		Secure:     a.cfg.Session.SecureCookie,
		Logger:     a.logger.Named("session"),
	}))
	r.Use(observability.RequestLoggerMiddleware())
	r.Use(observability.RecoveryMiddleware(a.logger))
	r.Use(mw.Locale(a.detector, func(sessionID string, lang chat.Language) {
		a.registry.SetLanguage(sessionID, lang)
	}))
	r.Use(mw.VaryLocale)

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", handlers.Readyz(a.checks))

	// WebSocket upgrades must not pass through the compressor.
	r.Route("/api/chat", func(r chi.Router) {
		r.Use(mw.CSRF)
		handlers.NewChatHandlers(a.registry, a.cfg.CORS.AllowedOrigins).Routes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(handlers.ReservationCORS(a.cfg.CORS.AllowedOrigins, a.cfg.Idempotency.Header))
		r.Use(idempotency.Middleware(a.idemStore,
			idempotency.WithHeader(a.cfg.Idempotency.Header),
			idempotency.WithTTL(a.cfg.Idempotency.TTL),
			idempotency.WithMethods(http.MethodPost),
			idempotency.WithOptionalKey(),
		))
		r.Handle("/api/send-email", handlers.NewReservationHandler(a.reservation, func(r *http.Request) string {
			return string(mw.Lang(r))
		}))
	})

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))
		r.Use(chimw.Timeout(30 * time.Second))
		r.Handle("/assets/*", http.StripPrefix("/assets", mw.AssetsWithCache(a.cfg.Site.PublicDir+"/assets", a.logger.Named("assets"))))
		r.With(mw.CSRF).Get("/", a.home)
	})

	return r
}

func supportedCodes() []string {
	codes := make([]string, 0, len(chat.SupportedLanguages))
	for _, lang := range chat.SupportedLanguages {
		codes = append(codes, string(lang))
	}
	return codes
}
