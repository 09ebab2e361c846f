package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/aussiebroadwan/trackgate/internal/access/audit"
	accesshttp "github.com/aussiebroadwan/trackgate/internal/access/http"
	"github.com/aussiebroadwan/trackgate/internal/access/obs"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/internal/access/store/drivers/memory"
	"github.com/aussiebroadwan/trackgate/internal/access/store/drivers/redis"
	"github.com/aussiebroadwan/trackgate/internal/access/store/drivers/sqlite"
	"github.com/aussiebroadwan/trackgate/pkg/cryptox"
	"github.com/aussiebroadwan/trackgate/pkg/jwtx"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the access service together and owns its lifecycle.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          store.Store
	credentials store.Credentials
	keyManager  *jwtx.KeyManager
	hasher      *cryptox.Hasher

	registry *prometheus.Registry
	metrics  *obs.Metrics
	recorder *audit.Recorder

	tokens      *service.TokenService
	engine      *service.Engine
	members     *service.MembershipService
	housekeeper *service.Housekeeper

	server *http.Server

	// closers run in reverse order after the server has stopped.
	closers []func() error
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "trackgate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	steps := []func() error{
		app.initDatabase,
		app.initCredentials,
		app.initKeys,
		app.initObservability,
		app.initServices,
		app.bootstrap,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			app.close()
			return nil, err
		}
	}

	app.initHTTP()
	return app, nil
}

// Run serves until SIGINT or SIGTERM, then drains requests, flushes the
// audit trail and releases the stores.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer app.close()

	app.logger.Info("trackgate starting", "port", app.cfg.Port, "version", BuildVersion,
		"credential_store", app.cfg.CredentialStore)

	// The recorder outlives the server so decisions made by draining
	// requests still reach the sinks.
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	recorderDone := make(chan error, 1)
	go func() { recorderDone <- app.recorder.Run(recorderCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := app.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return app.housekeeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down trackgate...")
		return app.shutdownServer()
	})

	err := g.Wait()

	stopRecorder()
	if rerr := <-recorderDone; rerr != nil {
		app.logger.Error("audit recorder stopped with error", "error", rerr)
	}

	app.logger.Info("trackgate stopped")
	return err
}

func (app *Application) shutdownServer() error {
	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if cerr := app.server.Close(); cerr != nil {
			app.logger.Error("error closing server", "error", cerr)
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (app *Application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("error releasing resource", "error", err)
		}
	}
	app.closers = nil
}

// initDatabase opens the relational store and applies migrations.
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.FileDSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

// initCredentials selects where credential records live.
func (app *Application) initCredentials() error {
	switch app.cfg.CredentialStore {
	case StoreMemory:
		creds := memory.NewCredentials()
		creds.Start()
		app.closers = append(app.closers, func() error {
			creds.Stop()
			return nil
		})
		app.credentials = creds
		app.logger.Warn("credential records are held in memory and lost on restart")

	case StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: app.cfg.RedisAddr})
		app.closers = append(app.closers, client.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", app.cfg.RedisAddr, err)
		}
		app.credentials = redis.NewCredentials(client, app.cfg.RedisPrefix)
		app.logger.Info("credential records stored in redis", "addr", app.cfg.RedisAddr)

	default:
		app.credentials = app.db.Credentials()
	}
	return nil
}

func (app *Application) initKeys() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}
	app.hasher = cryptox.NewHasher(pepper)

	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm: app.cfg.Algorithm,
		Issuer:    app.cfg.Issuer,
		NumKeys:   app.cfg.NumKeys,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = km

	app.logger.Info("signing keys generated", "algorithm", km.Algorithm(), "count", km.NumSigners())
	return nil
}

func (app *Application) initObservability() error {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = obs.NewMetrics(app.registry)

	sinks := []audit.Sink{audit.SlogSink{Logger: app.logger}}
	if len(app.cfg.AuditKafkaBrokers) > 0 {
		kafka := audit.NewKafkaSink(app.cfg.AuditKafkaBrokers, app.cfg.AuditKafkaTopic)
		app.closers = append(app.closers, kafka.Close)
		sinks = append(sinks, kafka)
		app.logger.Info("audit decisions published to kafka",
			"brokers", app.cfg.AuditKafkaBrokers, "topic", app.cfg.AuditKafkaTopic)
	}
	app.recorder = audit.NewRecorder(app.cfg.AuditBuffer, app.logger, app.metrics, sinks...)
	return nil
}

func (app *Application) initServices() error {
	tokens, err := service.NewTokenService(app.keyManager, app.db.Subjects(), app.credentials, app.hasher,
		service.TokenConfig{
			AccessTTL:             app.cfg.AccessTTL,
			RefreshTTL:            app.cfg.RefreshTTL,
			Leeway:                app.cfg.TokenLeeway,
			RevokeSessionOnReplay: app.cfg.RevokeSessionOnReplay,
		})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}
	tokens.Metrics = app.metrics
	app.tokens = tokens

	app.engine = service.NewEngine(service.NewRoleResolver(app.db), service.DefaultPolicy(), app.recorder, app.metrics)
	app.members = service.NewMembershipService(app.db, app.engine, app.tokens, app.hasher)

	app.housekeeper = service.NewHousekeeper(app.credentials, app.logger, app.cfg.HousekeepingInterval)
	app.housekeeper.Metrics = app.metrics
	app.housekeeper.Grace = app.cfg.TokenLeeway
	return nil
}

// bootstrap creates the configured staff subject on first start.
func (app *Application) bootstrap() error {
	if app.cfg.BootstrapUsername == "" {
		return nil
	}

	ctx := context.Background()
	_, err := app.db.Subjects().GetSubjectByUsername(ctx, app.cfg.BootstrapUsername)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to look up bootstrap subject: %w", err)
	}

	password := app.cfg.BootstrapPassword
	generated := password == ""
	if generated {
		if password, err = cryptox.GeneratePassword(); err != nil {
			return fmt.Errorf("failed to generate bootstrap password: %w", err)
		}
	}

	subject, err := app.members.CreateSubject(ctx, service.NewSubject{
		Username: app.cfg.BootstrapUsername,
		Password: password,
		Staff:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to create bootstrap subject: %w", err)
	}

	attrs := []any{"subject_id", subject.ID, "username", subject.Username}
	if generated {
		attrs = append(attrs, "password", password)
	}
	app.logger.Warn("bootstrap staff subject created", attrs...)
	return nil
}

func (app *Application) initHTTP() {
	router := accesshttp.NewRouter(BuildVersion, app.db, app.keyManager, app.logger, app.metrics, app.registry)
	router.Tokens = app.tokens
	router.Engine = app.engine
	router.Members = app.members
	router.ApplyRoutes()

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
