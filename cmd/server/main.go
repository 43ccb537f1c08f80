// @title           Elysion User Service API
// @version         1.0
// @description     Account registration, double opt-in, credential rotation, role promotion and session issuance.
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/api"
	"github.com/elysion/user-service/internal/api/handler"
	"github.com/elysion/user-service/internal/api/middleware"
	"github.com/elysion/user-service/internal/core/ports"
	"github.com/elysion/user-service/internal/core/service"
	"github.com/elysion/user-service/internal/infrastructure/db/memory"
	mongostore "github.com/elysion/user-service/internal/infrastructure/db/mongo"
	pgstore "github.com/elysion/user-service/internal/infrastructure/db/postgres"
	redisstore "github.com/elysion/user-service/internal/infrastructure/db/redis"
	"github.com/elysion/user-service/internal/infrastructure/mail"
	"github.com/elysion/user-service/internal/infrastructure/queue"
	"github.com/elysion/user-service/internal/pkg/config"
	"github.com/elysion/user-service/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.Development(),
		Service: "user-service",
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

// backend is the selected persistence plus its time source and health check.
type backend struct {
	store ports.Store
	clock ports.Clock
	ping  handler.PingFunc
	close func(ctx context.Context) error
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hasher, err := service.NewCredentialHasher(cfg.Security.Pepper, cfg.Security.BcryptCost)
	if err != nil {
		return fmt.Errorf("credential hasher: %w", err)
	}
	sessions, err := service.NewSessionIssuer(service.SessionConfig{
		Secret:   cfg.Security.JWTSecret,
		Issuer:   cfg.Security.JWTIssuer,
		Audience: cfg.Security.JWTAudience,
		TTL:      cfg.Security.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("session issuer: %w", err)
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := be.close(closeCtx); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	health := map[string]handler.Pinger{"store": be.ping}

	var guard ports.CooldownGuard
	if cfg.Redis.Enabled {
		rdb, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		guard = redisstore.NewCooldownGuard(rdb)
		health["redis"] = handler.PingFunc(redisstore.Ping(rdb))
	} else {
		guard = memory.NewCooldownGuard()
	}

	var mailer mail.Mailer
	switch cfg.Mail.Driver {
	case config.MailSMTP:
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
		})
	default:
		mailer = mail.NewLogMailer(log.With().Str("component", "mailer").Logger())
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	dispatcher := queue.NewDispatcher(cfg.Mail.Workers, mailer, mail.NewComposer(cfg.Mail.PublicBaseURL),
		log.With().Str("component", "mail_dispatcher").Logger())
	dispatcher.Start(workerCtx)

	identity := service.NewIdentityService(service.IdentityDeps{
		Store:    be.store,
		Hasher:   hasher,
		Ledger:   service.NewTokenLedger(be.store, be.clock),
		Sessions: sessions,
		Notifier: dispatcher,
		Guard:    guard,
		Clock:    be.clock,
	}, service.IdentityPolicy{
		ActivationTokenTTL:  cfg.Tokens.ActivationTTL,
		EmailChangeTokenTTL: cfg.Tokens.EmailChangeTTL,
		ResendCooldown:      cfg.Tokens.ResendCooldown,
		IdentExchangeWindow: cfg.Tokens.IdentExchangeWindow,
	}, log.With().Str("component", "identity").Logger())

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.Security.LoginRatePerMinute))
	defer limiter.Stop()

	preferences := service.NewPreferenceService(be.store, be.clock, log.With().Str("component", "preferences").Logger())

	router := api.NewRouter(api.Deps{
		Identity:     identity,
		Preferences:  preferences,
		Sessions:     sessions,
		Health:       health,
		LoginLimiter: limiter,
		Log:          log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Mail queued by the last requests still goes out, within the same deadline.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("mail dispatcher did not drain")
	}

	log.Info().Msg("API server stopped gracefully")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		store, err := mongostore.Open(ctx, mongostore.Config{
			URI:          cfg.Mongo.URI,
			Database:     cfg.Mongo.Database,
			Transactions: cfg.Mongo.Transactions,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		be := &backend{store: store, clock: ports.SystemClock, ping: store.Ping, close: store.Close}
		if cfg.ClockSource == config.ClockStore {
			be.clock = mongostore.NewServerClock(store.Database(), log)
		}
		return be, nil

	case config.StorePostgres:
		db, err := pgstore.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if err := pgstore.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		store := pgstore.NewStore(db)
		be := &backend{
			store: store,
			clock: ports.SystemClock,
			ping:  store.Ping,
			close: func(context.Context) error { return db.Close() },
		}
		if cfg.ClockSource == config.ClockStore {
			be.clock = pgstore.NewClock(db, log)
		}
		return be, nil

	default:
		log.Warn().Msg("using in-memory store, data is lost on restart")
		store := memory.NewStore()
		return &backend{
			store: store,
			clock: ports.SystemClock,
			ping:  store.Ping,
			close: func(context.Context) error { return nil },
		}, nil
	}
}
