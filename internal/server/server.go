// Package server wires the payout components into an HTTP service
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/payoutd/internal/auth"
	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/chain/tron"
	"github.com/mbd888/payoutd/internal/config"
	"github.com/mbd888/payoutd/internal/energy"
	"github.com/mbd888/payoutd/internal/health"
	"github.com/mbd888/payoutd/internal/logging"
	"github.com/mbd888/payoutd/internal/metrics"
	"github.com/mbd888/payoutd/internal/payout"
	"github.com/mbd888/payoutd/internal/ratelimit"
	"github.com/mbd888/payoutd/internal/realtime"
	"github.com/mbd888/payoutd/internal/security"
	"github.com/mbd888/payoutd/internal/selector"
	"github.com/mbd888/payoutd/internal/syncutil"
	"github.com/mbd888/payoutd/internal/validation"
	"github.com/mbd888/payoutd/internal/vault"
	"github.com/mbd888/payoutd/internal/wallets"
	"github.com/mbd888/payoutd/migrations"
)

// shutdownDrain gives load balancers time to stop sending traffic.
var shutdownDrain = 5 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	chain        chain.Port
	locks        *syncutil.KeyedMutex
	wallets      *wallets.Service
	refresher    *wallets.Refresher
	energy       *energy.Provisioner
	payouts      *payout.Service
	dispatcher   *payout.Dispatcher
	timer        *payout.Timer
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil without REDIS_URL
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	loops        sync.WaitGroup     // dispatch timer and wallet refresher

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

// WithChain replaces the TRON node pool (for testing)
func WithChain(port chain.Port) Option {
	return func(s *Server) {
		s.chain = port
	}
}

// WithVersion sets the version reported by /health and /metrics
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.SetBuildInfo(s.version)

	ctx := context.Background()

	v, err := vault.New(cfg.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}

	if s.chain == nil {
		client, err := tron.New(tron.Config{
			Nodes:        cfg.TronNodes,
			APIKey:       cfg.TronAPIKey,
			USDTContract: cfg.USDTContract,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create tron client: %w", err)
		}
		s.chain = client
		s.logger.Info("tron node pool configured", "nodes", len(cfg.TronNodes))
	}

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		walletStore wallets.Store
		orderStore  payout.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		s.db = db
		walletStore = wallets.NewPostgresStore(db)
		orderStore = payout.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		walletStore = wallets.NewMemoryStore()
		orderStore = payout.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(ropts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.logger.Info("redis connected", "addr", ropts.Addr)
	}

	// Wallet registry and the lock it shares with dispatch
	s.locks = syncutil.NewKeyedMutex()
	s.wallets = wallets.NewService(walletStore, s.chain, v, s.locks, wallets.Thresholds{
		MinCoinBalance:  cfg.MinCoinBalanceAlert,
		MinTokenBalance: cfg.MinTokenBalanceAlert,
		MinEnergy:       cfg.MinEnergyAlert,
		Enabled:         true,
	}, s.logger)
	s.refresher = wallets.NewRefresher(s.wallets, cfg.WalletRefresh, s.logger)

	// Energy provisioning
	prov, err := s.newProvisioner()
	if err != nil {
		s.closeStores()
		return nil, err
	}
	s.energy = prov

	// Orders and dispatch
	s.realtimeHub = realtime.NewHub(s.logger)
	s.payouts = payout.NewService(orderStore, cfg.PaymentWindow, s.logger).WithPublisher(s.realtimeHub)
	s.dispatcher = payout.NewDispatcher(s.payouts, s.wallets, s.energy, s.chain, s.locks, payout.DispatcherConfig{
		MaxRetryCount: cfg.MaxRetryCount,
		Workers:       cfg.DispatchWorkers,
		AutoTransfer:  cfg.AutoTransferEnabled,
		SubmitTimeout: cfg.SubmitTimeout,
		TxExpiry:      cfg.TxExpiry,
		Fees: selector.FeeEstimator{
			CoinTransferFee:  cfg.TRXTransferFee,
			TokenTransferFee: cfg.USDTTransferFeeTRX,
		},
	}, s.logger)
	s.timer = payout.NewTimer(s.payouts, s.dispatcher, cfg.DispatchInterval, s.logger)
	s.logger.Info("dispatch configured",
		"auto_transfer", cfg.AutoTransferEnabled,
		"max_retry_count", cfg.MaxRetryCount,
		"workers", cfg.DispatchWorkers,
		"interval", cfg.DispatchInterval.String(),
	)

	s.health = s.newHealthRegistry()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (s *Server) newProvisioner() (*energy.Provisioner, error) {
	cfg := s.cfg
	ecfg := energy.Config{
		Mode:                 energy.Mode(cfg.EnergyRentalMode),
		NewHolderEnergy:      cfg.EnergyNewHolder,
		ExistingHolderEnergy: cfg.EnergyExistingHolder,
		ProviderAddress:      cfg.EnergyProviderAddress,
		RentalPrice:          cfg.EnergyRentalTRX,
		RentalFee:            cfg.TRXTransferFee,
		LeaseDuration:        cfg.EnergyLeaseDuration,
		Timeout:              cfg.ResourceProvisionWait,
		PollInterval:         cfg.EnergyPollInterval,
		DailyBudget:          cfg.EnergyDailyBudgetTRX,
	}

	var api energy.APIClient
	if ecfg.Mode == energy.ModeAPI {
		if cfg.IsProduction() {
			if err := security.ValidateEndpointURL(cfg.EnergyAPIURL); err != nil {
				return nil, fmt.Errorf("ENERGY_API_URL rejected: %w", err)
			}
		}
		api = energy.NewHTTPAPIClient(cfg.EnergyAPIURL, cfg.EnergyAPIKey)
	}

	var (
		tickets energy.TicketStore
		budget  energy.Budget
	)
	if cfg.EnergyTicketMode == "redis" {
		tickets = energy.NewRedisTicketStore(s.redis)
	}
	if s.redis != nil {
		budget = energy.NewRedisBudget(s.redis, cfg.EnergyDailyBudgetTRX)
	}

	s.logger.Info("energy provisioning configured",
		"mode", string(ecfg.Mode),
		"ticket_store", cfg.EnergyTicketMode,
		"daily_budget_trx", cfg.EnergyDailyBudgetTRX.String(),
	)
	return energy.NewProvisioner(ecfg, s.chain, api, tickets, budget, s.logger), nil
}

// pinger is implemented by chain ports that can probe their nodes.
type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) newHealthRegistry() *health.Registry {
	reg := health.NewRegistry()

	if p, ok := s.chain.(pinger); ok {
		reg.Register("chain", health.Ping("chain", p.Ping))
	}
	if s.db != nil {
		reg.Register("database", health.Ping("database", s.db.PingContext))
	}
	reg.Register("dispatcher", func(context.Context) health.Status {
		if !s.timer.Running() {
			return health.Status{Name: "dispatcher", Healthy: false, Detail: "dispatch loop not running"}
		}
		detail := "running"
		if !s.cfg.AutoTransferEnabled {
			detail = "running, auto transfer disabled"
		}
		return health.Status{Name: "dispatcher", Healthy: true, Detail: detail}
	})
	if s.redis != nil {
		reg.RegisterOptional("redis", health.Ping("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
	reg.RegisterOptional("wallet_refresher", func(context.Context) health.Status {
		return health.Status{Name: "wallet_refresher", Healthy: s.refresher.Running()}
	})
	return reg
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, payoutctl)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	payoutHandler := payout.NewHandler(s.payouts, s.dispatcher)
	walletHandler := wallets.NewHandler(s.wallets)

	v1 := s.router.Group("/v1")

	// Intake surface, rate limited per client IP
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: float64(s.cfg.RateLimitRPS),
		BurstSize:         2 * s.cfg.RateLimitRPS,
	})
	intake := v1.Group("", s.rateLimiter.Middleware())
	payoutHandler.RegisterRoutes(intake)

	// Operator surface
	admin := v1.Group("/admin", auth.RequireAdmin(s.cfg.AdminSecret))
	walletHandler.RegisterAdminRoutes(admin)
	payoutHandler.RegisterAdminRoutes(admin)
	admin.GET("/status", s.statusHandler)
	admin.GET("/wallets/:id/energy-tickets", s.energyTicketsHandler)
	admin.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// statusHandler reports dispatch loop and node pool state to operators.
func (s *Server) statusHandler(c *gin.Context) {
	resp := gin.H{
		"version":           s.version,
		"autoTransfer":      s.cfg.AutoTransferEnabled,
		"maxRetryCount":     s.cfg.MaxRetryCount,
		"dispatcherRunning": s.timer.Running(),
		"refresherRunning":  s.refresher.Running(),
		"realtime":          s.realtimeHub.Stats(),
	}
	spent, limit := s.energy.BudgetStatus(c.Request.Context())
	resp["energyBudget"] = gin.H{"spentToday": spent, "dailyLimit": limit, "mode": s.cfg.EnergyRentalMode}
	if client, ok := s.chain.(*tron.Client); ok {
		nodes := make([]gin.H, 0, len(client.Nodes()))
		for _, n := range client.Nodes() {
			nodes = append(nodes, gin.H{"endpoint": n, "breaker": client.Breaker().State(n).String()})
		}
		resp["nodes"] = nodes
	}
	c.JSON(http.StatusOK, resp)
}

// energyTicketsHandler lists recent energy rentals made for a wallet.
func (s *Server) energyTicketsHandler(c *gin.Context) {
	tickets, err := s.energy.Tickets(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list energy tickets"})
		return
	}
	if tickets == nil {
		tickets = []*energy.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // manual retry runs a full dispatch
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.startBackground(runCtx)

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
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

func (s *Server) startBackground(ctx context.Context) {
	go s.realtimeHub.Run(ctx)
	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.refresher.Start(ctx)
	}()
	go func() {
		defer s.loops.Done()
		s.timer.Start(ctx)
	}()
	go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)

	// Reconcile orders left in processing by a previous process before the
	// first dispatch cycle picks anything up.
	if n, err := s.dispatcher.ReconcileStale(ctx); err != nil {
		s.logger.Error("stale order reconciliation failed", logging.Err(err))
	} else if n > 0 {
		s.logger.Warn("reset stale processing orders", "count", n)
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop picking up new work first
	s.timer.Stop()
	s.refresher.Stop()

	time.Sleep(shutdownDrain)

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", logging.Err(err))
			shutdownErr = err
		}
	}

	// Cancels in-flight dispatches; they are deferred as interrupted
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.loops.Wait()
	s.dispatcher.Wait()
	s.logger.Info("dispatch loop drained")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.closeStores()

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeStores() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", logging.Err(err))
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", logging.Err(err))
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
