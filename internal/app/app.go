package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"bookswap/internal/api"
	"bookswap/internal/config"
	"bookswap/internal/exchange"
	"bookswap/internal/keylock"
	"bookswap/internal/matcher"
	"bookswap/internal/notify"
	"bookswap/internal/obs"
	"bookswap/internal/storage"
	"bookswap/internal/storage/ch"
	"bookswap/internal/storage/pg"
	"bookswap/internal/storage/stubs"
)

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      storage.Storage
	journal storage.Journal
	closers []func() error

	registry  *prometheus.Registry
	metrics   *obs.Metrics
	lifecycle *exchange.Lifecycle
	matcher   *matcher.Matcher

	server *http.Server

	stopSweeper context.CancelFunc
	sweeperDone sync.WaitGroup
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	app := &App{config: cfg}

	if err := app.initLogger(); err != nil {
		return nil, err
	}
	if envErr != nil {
		app.logger.Info("No .env file found, using system environment variables")
	}
	app.logger.Info("Starting bookswap...")

	// Initialize database
	if err := app.initDatabase(context.Background()); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		app.closeStorage()
		return nil, err
	}

	// Initialize HTTP server
	app.initHTTPServer()

	return app, nil
}

func (a *App) initLogger() error {
	var (
		logger *zap.Logger
		err    error
	)
	if a.config.LogDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	return nil
}

// initDatabase connects the transactional store and the event journal
func (a *App) initDatabase(ctx context.Context) error {
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		mock := stubs.NewMockDB()
		a.db = mock
		a.journal = mock
		a.closers = append(a.closers, mock.Close)
	} else {
		a.logger.Info("Connecting to PostgreSQL")
		postgresDB, err := pg.NewPostgresDB(ctx, a.config.PostgresDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		a.db = postgresDB
		a.closers = append(a.closers, postgresDB.Close)

		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			a.closeStorage()
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.journal = clickhouseDB
		a.closers = append(a.closers, clickhouseDB.Close)
	}

	if err := a.db.Initialize(ctx); err != nil {
		a.closeStorage()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")
	return nil
}

// initServices wires notifications, metrics and the exchange services
func (a *App) initServices() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = obs.NewMetrics(a.registry)

	var notifier notify.Notifier
	if a.config.TelegramToken != "" {
		botAPI, err := notify.NewTelegramBot(a.config.TelegramToken, a.logger)
		if err != nil {
			return err
		}
		notifier = notify.NewTelegramNotifier(botAPI, a.logger)
	} else {
		a.logger.Info("TELEGRAM_BOT_TOKEN not set, notifications are written to the log")
		notifier = notify.NewLogNotifier(a.logger)
	}
	dispatcher := notify.NewDispatcher(notifier, a.journal, a.logger, a.metrics)

	locks := keylock.New()
	a.lifecycle = exchange.New(a.db, dispatcher, a.logger,
		exchange.WithStaleAfterDays(a.config.StaleAfterDays),
		exchange.WithAddressVisibility(exchange.AddressVisibility(a.config.AddressVisibility)),
		exchange.WithMetrics(a.metrics),
		exchange.WithLocker(locks),
		exchange.WithJournal(a.journal),
	)
	a.matcher = matcher.New(a.db, a.lifecycle, dispatcher, a.logger,
		matcher.WithPolicy(matcher.AcceptPolicy(a.config.AcceptPolicy)),
		matcher.WithMetrics(a.metrics),
		matcher.WithLocker(locks),
	)

	a.logger.Info("Exchange services ready",
		zap.String("accept_policy", a.config.AcceptPolicy),
		zap.String("address_visibility", a.config.AddressVisibility),
		zap.Int("stale_after_days", a.config.StaleAfterDays),
	)
	return nil
}

// initHTTPServer initializes the HTTP API server
func (a *App) initHTTPServer() {
	if !a.config.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(api.HandlerConfig{
		Storage:   a.db,
		Matcher:   a.matcher,
		Lifecycle: a.lifecycle,
		Logger:    a.logger,
		Gatherer:  a.registry,
	})

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler returns the HTTP handler serving the API
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	a.startSweeper()

	// Wait for interrupt signal or a server failure
	select {
	case <-sigChan:
		a.logger.Info("Shutting down...")
	case err := <-serverErr:
		a.logger.Error("HTTP server error", zap.Error(err))
		_ = a.Shutdown()
		return fmt.Errorf("http server: %w", err)
	}
	return a.Shutdown()
}

// startSweeper periodically flags stale exchanges as PROBLEMS
func (a *App) startSweeper() {
	interval := a.config.StaleSweepInterval
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stopSweeper = cancel
	a.sweeperDone.Add(1)

	go func() {
		defer a.sweeperDone.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		a.logger.Info("Stale exchange sweeper started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := a.lifecycle.SweepStale(ctx)
				if err != nil {
					a.logger.Warn("Stale exchange sweep incomplete", zap.Error(err))
				}
				if n > 0 {
					a.logger.Info("Stale exchanges flagged", zap.Int("count", n))
				}
			}
		}
	}()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	if a.stopSweeper != nil {
		a.stopSweeper()
		a.sweeperDone.Wait()
	}

	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	err := a.closeStorage()
	if err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
	} else {
		a.logger.Info("Shutdown complete")
	}
	_ = a.logger.Sync()
	return err
}

func (a *App) closeStorage() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
