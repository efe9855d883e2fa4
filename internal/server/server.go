// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/consultcredit/internal/auth"
	"github.com/mbd888/consultcredit/internal/config"
	"github.com/mbd888/consultcredit/internal/health"
	"github.com/mbd888/consultcredit/internal/logging"
	"github.com/mbd888/consultcredit/internal/metrics"
	"github.com/mbd888/consultcredit/internal/ratelimit"
	"github.com/mbd888/consultcredit/internal/realtime"
	"github.com/mbd888/consultcredit/internal/reputation"
	"github.com/mbd888/consultcredit/internal/traces"
	"github.com/mbd888/consultcredit/internal/units"
	"github.com/mbd888/consultcredit/internal/usage"
)

const (
	defaultDrainDelay   = 5 * time.Second
	shutdownTimeout     = 30 * time.Second
	dbStatsInterval     = 15 * time.Second
	storeConnectTimeout = 5 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	authMgr     *auth.Manager
	ledger      *usage.Ledger
	reputation  *reputation.Service
	scheduler   *reputation.Scheduler
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB           // nil if using in-memory
	redis       *usage.RedisStore // nil unless REDIS_URL is set
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	clock       units.Clock
	corsOrigins []string
	drainDelay  time.Duration
	version     string

	usageStore      usage.Store
	reputationStore reputation.Store
	authStore       auth.Store

	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock overrides the clock used by the ledger and the reputation service.
func WithClock(c units.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithUsageStore injects the usage account store, bypassing DATABASE_URL and REDIS_URL.
func WithUsageStore(store usage.Store) Option {
	return func(s *Server) {
		s.usageStore = store
	}
}

// WithReputationStore injects the expert statistics store.
func WithReputationStore(store reputation.Store) Option {
	return func(s *Server) {
		s.reputationStore = store
	}
}

// WithAuthStore injects the API key store.
func WithAuthStore(store auth.Store) Option {
	return func(s *Server) {
		s.authStore = store
	}
}

// WithCORSOrigins restricts the origins allowed by the CORS middleware.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithVersion sets the build version reported on traces.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		logger:      logging.New(cfg.LogLevel, cfg.LogFormat),
		corsOrigins: []string{"*"},
		drainDelay:  defaultDrainDelay,
		checks:      health.NewRegistry(health.DefaultTimeout),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
	defer cancel()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger,
		traces.WithServiceVersion(s.version),
		traces.WithSampleRatio(cfg.TraceSampleRatio),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	if err := s.openStores(ctx); err != nil {
		s.closeStores()
		return nil, err
	}

	s.authMgr = auth.NewManager(s.authStore)
	s.realtimeHub = realtime.NewHub(s.logger, s.authMgr)

	ledgerOpts := []usage.Option{
		usage.WithLocation(cfg.Location()),
		usage.WithFreeAllowance(cfg.FreeMonthlyTokens),
		usage.WithLogger(s.logger),
		usage.WithEvents(s.realtimeHub),
	}
	if s.clock != nil {
		ledgerOpts = append(ledgerOpts, usage.WithClock(s.clock))
	}
	s.ledger = usage.New(s.usageStore, ledgerOpts...)

	s.reputation = reputation.NewService(s.reputationStore, s.logger).WithEvents(s.realtimeHub)
	if s.clock != nil {
		s.reputation = s.reputation.WithClock(s.clock)
	}

	s.scheduler, err = reputation.NewScheduler(s.reputation, cfg.RankingSchedule, s.logger)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create ranking scheduler: %w", err)
	}

	s.logger.Info("usage ledger configured",
		"timezone", s.ledger.Location().String(),
		"free_monthly_tokens", s.ledger.FreeAllowance(),
	)

	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, admin routes are disabled")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// openStores picks the storage backends. Injected stores win; otherwise
// Postgres is used when DATABASE_URL is set and Redis takes over usage
// accounts when REDIS_URL is set. Anything left falls back to memory.
func (s *Server) openStores(ctx context.Context) error {
	usageInjected := s.usageStore != nil

	if s.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.checks.Register("postgres", health.Pinger("postgres", db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

		if !usageInjected {
			s.usageStore = usage.NewPostgresStore(db)
		}
		if s.reputationStore == nil {
			s.reputationStore = reputation.NewPostgresStore(db)
		}
		if s.authStore == nil {
			s.authStore = auth.NewPostgresStore(db)
		}
	}

	if s.cfg.RedisURL != "" && !usageInjected {
		rs, err := usage.NewRedisStoreFromURL(ctx, s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = rs
		s.usageStore = rs
		s.checks.Register("redis", health.Pinger("redis", rs.Ping))
		s.logger.Info("using Redis for usage accounts", "url", maskDSN(s.cfg.RedisURL))
	}

	if s.usageStore == nil {
		s.usageStore = usage.NewMemoryStore()
	}
	if s.reputationStore == nil {
		s.reputationStore = reputation.NewMemoryStore()
	}
	if s.authStore == nil {
		s.authStore = auth.NewMemoryStore()
	}
	if s.db == nil {
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	return nil
}

func (s *Server) closeStores() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
		})
	})

	authHandler := auth.NewHandler(s.authMgr)
	usageHandler := usage.NewHandler(s.ledger)
	reputationHandler := reputation.NewHandler(s.reputation)

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr), s.userContextMiddleware())

	// Public reads: pricing table, rankings, expert levels, quotes
	authHandler.RegisterRoutes(v1)
	reputationHandler.RegisterRoutes(v1)

	// The hub resolves the caller itself; anonymous clients only see ranking events.
	v1.GET("/usage/stream", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		authHandler.RegisterProtectedRoutes(protected)
		usageHandler.RegisterProtectedRoutes(protected)
	}

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	{
		authHandler.RegisterAdminRoutes(admin)
		usageHandler.RegisterAdminRoutes(admin)
		reputationHandler.RegisterAdminRoutes(admin)
		admin.GET("/realtime", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.realtimeHub.Stats())
		})
		admin.GET("/status", s.statusHandler)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if err := s.scheduler.Start(runCtx); err != nil {
		s.logger.Error("failed to start ranking scheduler", "error", err)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.cleanup()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.cleanup()
	s.logger.Info("server stopped")
	return shutdownErr
}

// cleanup stops background workers and releases stores.
func (s *Server) cleanup() {
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.scheduler.Stop()
	s.rateLimiter.Stop()

	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
		cancel()
	}

	s.closeStores()
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Ledger returns the usage ledger.
func (s *Server) Ledger() *usage.Ledger {
	return s.ledger
}

// Reputation returns the reputation service.
func (s *Server) Reputation() *reputation.Service {
	return s.reputation
}
