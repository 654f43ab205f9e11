// Package server wires the wallet core subsystems and exposes them over HTTP.
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

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/config"
	"github.com/AnarQorp/qwallet-core/internal/extsvc"
	"github.com/AnarQorp/qwallet-core/internal/governance"
	"github.com/AnarQorp/qwallet-core/internal/health"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/idgen"
	"github.com/AnarQorp/qwallet-core/internal/logging"
	"github.com/AnarQorp/qwallet-core/internal/metrics"
	"github.com/AnarQorp/qwallet-core/internal/monitor"
	"github.com/AnarQorp/qwallet-core/internal/permission"
	"github.com/AnarQorp/qwallet-core/internal/plugin"
	"github.com/AnarQorp/qwallet-core/internal/realtime"
	"github.com/AnarQorp/qwallet-core/internal/risk"
	"github.com/AnarQorp/qwallet-core/internal/traces"
	"github.com/AnarQorp/qwallet-core/internal/validation"
	"github.com/AnarQorp/qwallet-core/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and all wallet-core subsystems.
type Server struct {
	cfg        *config.Config
	db         *sql.DB // nil if using in-memory storage
	identities identity.Provider
	ledger     *audit.Ledger
	reporter   *audit.Reporter
	exporter   *audit.Exporter
	riskEngine *risk.Engine
	reputation *risk.ReputationTracker
	permission *permission.Engine
	governance *governance.Service
	plugins    *plugin.Manager
	walletSvc  *wallet.Service
	riskMon    *monitor.Monitor
	hub        *realtime.Hub
	checks     *health.Registry

	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	shutdownTrace func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithIdentities sets a custom identity provider (for testing).
func WithIdentities(p identity.Provider) Option {
	return func(s *Server) {
		s.identities = p
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set identities/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var auditStore audit.Store
	var reputationStore risk.ReputationStore
	var governanceStore governance.Store
	var registryStore plugin.RegistryStore
	var storageBackend plugin.StorageBackend

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		auditStore = audit.NewPostgresStore(db)
		reputationStore = risk.NewPostgresReputationStore(db)
		governanceStore = governance.NewPostgresStore(db)
		registryStore = plugin.NewPostgresRegistryStore(db)
		storageBackend = plugin.NewPostgresStorageBackend(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		auditStore = audit.NewMemoryStore()
		reputationStore = risk.NewMemoryReputationStore()
		governanceStore = governance.NewMemoryStore()
		registryStore = plugin.NewMemoryRegistryStore()
		storageBackend = plugin.NewMemoryStorageBackend()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Identities: externally provisioned; demo mode seeds one of each type.
	if s.identities == nil {
		store := identity.NewMemoryStore()
		if cfg.IsDevelopment() {
			seedDemoIdentities(store)
			s.logger.Info("demo identities seeded")
		}
		s.identities = store
	}

	// Audit ledger, compliance reporting, export
	s.ledger = audit.NewLedger(auditStore, s.logger)
	s.reporter = audit.NewReporter(s.ledger, audit.DefaultComplianceConfig())

	var pdf audit.PDFRenderer
	if cfg.ReportServiceURL != "" {
		pdf = extsvc.NewReportClient(cfg.ReportServiceURL, cfg.ServiceTimeout)
		s.logger.Info("report service configured", "url", cfg.ReportServiceURL)
	}
	if err := os.MkdirAll(cfg.ExportDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	s.exporter = audit.NewExporter(s.ledger, cfg.ExportDir, pdf)

	// Risk engine and reputation
	s.reputation = risk.NewReputationTracker(reputationStore)
	s.riskEngine = risk.NewEngine(risk.Config{
		Bands: risk.Bands{
			Medium:   cfg.RiskBandMedium,
			High:     cfg.RiskBandHigh,
			Critical: cfg.RiskBandCritical,
		},
		AmountBands:       cfg.RiskAmountBands,
		VelocityWindow:    cfg.VelocityWindow,
		VelocityThreshold: cfg.VelocityThreshold,
		Validity:          cfg.RiskValidity,
	}, s.ledger, s.reputation)

	// Permission and governance
	s.permission = permission.NewEngine(s.ledger)
	s.governance = governance.NewService(governanceStore)

	// Realtime hub: the event sink for every subsystem
	s.hub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Plugin runtime
	dispatcher := plugin.NewDispatcher(s.logger, s.ledger, s.hub)
	s.plugins = plugin.NewManager(registryStore, dispatcher, storageBackend, s.ledger, s.hub, s.logger)

	// External collaborators (fall back to local stand-ins when unset)
	var policy extsvc.PolicyService
	if cfg.PolicyServiceURL != "" {
		policy = extsvc.NewPolicyClient(cfg.PolicyServiceURL, cfg.ServiceTimeout)
		s.logger.Info("policy service configured", "url", cfg.PolicyServiceURL)
	} else {
		policy = extsvc.AllowAllPolicy{}
		s.logger.Info("policy service not configured, using allow-all policy")
	}

	var signer extsvc.SignerService
	if cfg.SignerServiceURL != "" {
		signer = extsvc.NewSignerClient(cfg.SignerServiceURL, cfg.ServiceTimeout)
		s.logger.Info("signer service configured", "url", cfg.SignerServiceURL)
	} else {
		signer = &extsvc.SimulatedSigner{}
		s.logger.Info("signer service not configured, using simulated signer")
	}

	// Wallet orchestrator
	s.walletSvc = wallet.NewService(
		s.identities,
		s.governance,
		s.permission,
		s.riskEngine,
		s.ledger,
		policy,
		signer,
		dispatcher,
		s.hub,
		s.logger,
	)

	// Continuous risk monitoring
	s.riskMon = monitor.New(
		monitor.Config{PollInterval: cfg.MonitorPollInterval},
		s.identities,
		s.riskEngine,
		s.hub,
		s.logger,
	)

	// An active watch follows the wallet context across identity switches.
	s.walletSvc.OnIdentitySwitch(func(fromID, toID string) {
		if s.riskMon.Unwatch(fromID) {
			s.riskMon.Watch(context.Background(), toID)
		}
	})

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// seedDemoIdentities registers one identity of each type for local demos.
func seedDemoIdentities(store *identity.MemoryStore) {
	now := time.Now()
	for _, ident := range []identity.Identity{
		{ID: "did:demo:root", Type: identity.TypeRoot, GovernanceLevel: "FULL", IssuedAt: now},
		{ID: "did:demo:dao", Type: identity.TypeDAO, GovernanceLevel: "DAO", IssuedAt: now},
		{ID: "did:demo:enterprise", Type: identity.TypeEnterprise, GovernanceLevel: "LIMITED", IssuedAt: now},
		{ID: "did:demo:consentida", Type: identity.TypeConsentida, GovernanceLevel: "PARENTAL", IssuedAt: now},
		{ID: "did:demo:aid", Type: identity.TypeAID, GovernanceLevel: "NONE", IssuedAt: now},
	} {
		cp := ident
		store.Put(&cp)
	}
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	// Collaborator outages degrade specific operations, not readiness.
	for name, baseURL := range map[string]string{
		"policy": s.cfg.PolicyServiceURL,
		"signer": s.cfg.SignerServiceURL,
		"report": s.cfg.ReportServiceURL,
	} {
		if baseURL == "" {
			continue
		}
		name, baseURL := name, baseURL
		s.checks.RegisterInformational(name, func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := extsvc.Health(ctx, baseURL); err != nil {
				return health.Status{Name: name, Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: name, Healthy: true}
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = "req_" + idgen.Hex(8)
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
			logger.Info("request completed",
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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group. URL params are validated on every route (no-op when the
	// param is absent).
	v1 := s.router.Group("/v1")
	v1.Use(validation.IdentityParamMiddleware(), validation.PluginParamMiddleware())

	plugin.NewHandler(s.plugins, s.identities).RegisterRoutes(v1)
	wallet.NewHandler(s.walletSvc).RegisterRoutes(v1)
	risk.NewHandler(s.riskEngine, s.reputation, s.identities).RegisterRoutes(v1)
	audit.NewHandler(s.ledger, s.reporter, s.exporter).RegisterRoutes(v1)
	governance.NewHandler(s.governance, s.identities).RegisterRoutes(v1)
	monitor.NewHandler(s.riskMon).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "qwallet-core",
		"description": "Identity-aware wallet core: plugin runtime, risk engine, audit ledger",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTrace, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTrace = shutdownTrace
	}

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

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start database stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Start audit retention purge loop
	go s.retentionLoop(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// retentionLoop purges expired audit events once a day.
func (s *Server) retentionLoop(ctx context.Context) {
	retention := time.Duration(s.cfg.AuditRetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ledger.PurgeOlderThan(ctx, retention); err != nil {
				s.logger.Error("audit retention purge failed", "error", err)
			}
		}
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop the risk poll loops and wait for them to drain
	s.riskMon.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}
