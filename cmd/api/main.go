package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"notespace/internal/app"
	"notespace/internal/authpw"
	"notespace/internal/config"
	"notespace/internal/history"
	"notespace/internal/logging"
	"notespace/internal/notes"
	"notespace/internal/search"
	"notespace/internal/session"
	"notespace/internal/store"
	"notespace/internal/store/memstore"
	"notespace/internal/tenant"
	"notespace/internal/votes"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		dataStore store.Store
		pgfts     *search.PgFTS
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		dataStore = memstore.New()
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		dataStore = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db)
	}

	tenants := tenant.NewDirectory(dataStore, cfg.TenantDefaultHost, cfg.TenantHostAliases, logger)
	seeds := make([]tenant.Seed, 0, len(cfg.TenantBootstrap))
	for _, seed := range cfg.TenantBootstrap {
		seeds = append(seeds, tenant.Seed{Hostname: seed.Hostname, Name: seed.Name})
	}
	if err := tenants.Bootstrap(ctx, seeds); err != nil {
		logger.Warn().Err(err).Msg("tenant bootstrap failed, will retry on next restart")
	}

	var sessionBackend session.Backend
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info().Msg("using redis for sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		sessionBackend = redisStore
	} else {
		logger.Info().Msg("using the database for sessions")
		sessionBackend = session.NewDBStore(dataStore)
	}
	sessions := session.NewManager(sessionBackend, cfg.SessionTTL)

	auth, err := authpw.NewService(dataStore, sessions, 0, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("auth setup failed")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	go searchService.ReindexAllFromPG(ctx)

	engine := notes.NewEngine(dataStore, history.NewArchive(nil), logger,
		notes.WithIndexer(searchService),
		notes.WithSearcher(searchService),
	)

	sweepDone := startSweeper(ctx, cfg, dataStore, logger)

	httpServer := app.NewHTTPServer(app.Services{
		Tenants:    tenants,
		Auth:       auth,
		Notes:      engine,
		Workspaces: notes.NewWorkspaces(dataStore, logger),
		Votes:      votes.NewLedger(dataStore, logger),
		Checks: map[string]app.Pinger{
			"store":    dataStore,
			"sessions": sessions,
		},
	}, app.Options{
		CORSOrigin:   cfg.CORSOrigin,
		CookieName:   cfg.SessionCookieName,
		CookieSecure: cfg.SessionCookieSecure,
		QueryTimeout: cfg.QueryTimeout,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("notespace api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	<-sweepDone
}

// startSweeper runs the history retention sweep in the background. The
// returned channel closes once the sweeper has stopped.
func startSweeper(ctx context.Context, cfg config.Config, st store.Store, logger zerolog.Logger) <-chan struct{} {
	if cfg.HistorySweepInterval <= 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	sweeper := history.NewSweeper(st, cfg.HistorySweepBatch, cfg.HistorySweepPause, logger)
	return sweeper.Start(ctx, cfg.HistorySweepInterval)
}
