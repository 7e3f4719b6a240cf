package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"

	"github.com/authsome/stepup/internal/stepup/factor"
	httpapi "github.com/authsome/stepup/internal/stepup/http"
	"github.com/authsome/stepup/internal/stepup/notify"
	"github.com/authsome/stepup/internal/stepup/service"
	"github.com/authsome/stepup/internal/stepup/store"
	redisdriver "github.com/authsome/stepup/internal/stepup/store/drivers/redis"
	"github.com/authsome/stepup/internal/stepup/store/drivers/sqlite"
	"github.com/authsome/stepup/pkg/clockx"
	"github.com/authsome/stepup/pkg/jwtx"
	"github.com/authsome/stepup/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the step-up service together.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clockx.Clock

	db          store.Store
	lockouts    store.Lockouts
	redisClient *redis.Client // nil when lockouts live in SQLite
	keypair     *jwtx.Keypair
	registry    *factor.Registry

	engine              *service.Engine
	factorService       *service.FactorService
	deviceService       *service.DeviceService
	policyService       *service.PolicyService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg:   cfg,
		clock: clockx.System{},
		logger: slogx.New(slogx.Config{
			Service: "stepup-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initLockouts(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initKeys(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initRegistry(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start(context.Background())

	app.logger.Info("stepup service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully drains the server, stops housekeeping and closes the
// stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down stepup service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("stepup service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initLockouts picks the lockout backend: Redis when configured (shared
// counters across replicas), SQLite otherwise.
func (app *Application) initLockouts() error {
	if app.cfg.RedisAddr == "" {
		app.lockouts = app.db.Lockouts()
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
	}
	app.redisClient = rdb
	app.lockouts = redisdriver.NewLockoutStore(rdb, app.clock)

	app.logger.Info("lockout counters backed by redis", "addr", app.cfg.RedisAddr)
	return nil
}

func (app *Application) initKeys() error {
	var (
		kp  *jwtx.Keypair
		err error
	)
	if app.cfg.SigningSeed == "" {
		kp, err = jwtx.NewEphemeralKeypair(app.cfg.Issuer)
		if err == nil {
			app.logger.Warn("using ephemeral signing key; grants will not survive restarts")
		}
	} else {
		kp, err = jwtx.NewKeypair(app.cfg.Issuer, app.cfg.SigningSeed)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keypair = kp
	return nil
}

func (app *Application) initRegistry() error {
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: app.cfg.RPDisplayName,
		RPID:          app.cfg.RPID,
		RPOrigins:     []string{app.cfg.RPOrigin},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize webauthn: %w", err)
	}

	dispatcher := &notify.LogDispatcher{Logger: app.logger}

	app.registry = factor.NewRegistry(
		factor.NewTOTPAdapter(app.cfg.Issuer, app.clock),
		factor.NewWebAuthnAdapter(web, app.cfg.WebAuthnMaxKeys),
		factor.NewSMSAdapter(dispatcher, app.clock, app.cfg.OTPDigits, app.cfg.OTPCodeTTL),
		factor.NewEmailAdapter(dispatcher, app.clock, app.cfg.OTPDigits, app.cfg.OTPCodeTTL),
		factor.NewBackupCodeAdapter(app.db.BackupCodes(), app.cfg.BackupCodeCount),
	)
	return nil
}

func (app *Application) initServices() {
	evaluator := service.NewEvaluator(app.db.Rules(), app.db.TrustedDevices(), app.clock, app.logger)

	app.engine = service.NewEngine(
		app.db,
		app.lockouts,
		app.registry,
		evaluator,
		app.keypair,
		app.clock,
		app.logger,
		service.EngineConfig{
			RequirementTTL: app.cfg.RequirementTTL,
			ChallengeTTL:   app.cfg.ChallengeTTL,
			MaxAttempts:    app.cfg.MaxAttempts,
			DeviceTTL:      app.cfg.DeviceTTL,
			MaxDeviceTTL:   app.cfg.MaxDeviceTTL,
			GrantTTL:       app.cfg.GrantTTL,
			Lockout: store.LockoutPolicy{
				Threshold: app.cfg.LockoutThreshold,
				Window:    app.cfg.LockoutWindow,
				LockFor:   app.cfg.LockoutDuration,
			},
		},
	)

	app.factorService = service.NewFactorService(app.db, app.registry, app.clock, app.logger)
	app.deviceService = service.NewDeviceService(app.db.TrustedDevices(), app.clock, app.logger)
	app.policyService = service.NewPolicyService(app.db.Rules(), app.clock, app.logger)

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.lockouts,
		app.clock,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(app.keypair, BuildVersion, app.db, app.logger)
	app.router.Engine = app.engine
	app.router.FactorService = app.factorService
	app.router.DeviceService = app.deviceService
	app.router.PolicyService = app.policyService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: app.router,
	}
}
