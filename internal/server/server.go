// Package server wires the mining engine together behind an HTTP API.
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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/celf-labs/celfd/internal/accrual"
	"github.com/celf-labs/celfd/internal/clock"
	"github.com/celf-labs/celfd/internal/config"
	"github.com/celf-labs/celfd/internal/health"
	"github.com/celf-labs/celfd/internal/logging"
	"github.com/celf-labs/celfd/internal/metrics"
	"github.com/celf-labs/celfd/internal/ratelimit"
	"github.com/celf-labs/celfd/internal/realtime"
	"github.com/celf-labs/celfd/internal/reconciliation"
	"github.com/celf-labs/celfd/internal/security"
	"github.com/celf-labs/celfd/internal/session"
	"github.com/celf-labs/celfd/internal/syncer"
	"github.com/celf-labs/celfd/internal/validation"
	"github.com/celf-labs/celfd/internal/wallet"
)

// Server wraps the HTTP server and the engine's long-running services.
type Server struct {
	cfg        *config.Config
	controller *session.Controller
	ledger     *wallet.Ledger
	syncClient *syncer.Client
	reconciler *reconciliation.Service
	hub        *realtime.Hub
	healthReg  *health.Registry
	limiter    *ratelimit.Limiter
	remote     syncer.Remote
	db         *sql.DB // nil if using in-memory
	router     *gin.Engine
	httpSrv    *http.Server
	logger     *slog.Logger

	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRemote injects a remote ledger client (for testing).
func WithRemote(remote syncer.Remote) Option {
	return func(s *Server) { s.remote = remote }
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var sessionStore session.Store
	var walletStore wallet.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		sessStore := session.NewPostgresStore(db)
		if err := sessStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate session store", "error", err)
		}
		sessionStore = sessStore

		wStore := wallet.NewPostgresStore(db)
		if err := wStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate wallet store", "error", err)
		}
		walletStore = wStore
	} else {
		sessionStore = session.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime hub for WebSocket streaming; it doubles as the notifier
	// for session and wallet events
	s.hub = realtime.NewHub(s.logger)

	s.ledger = wallet.New(walletStore, logging.Component(s.logger, "wallet"), wallet.WithNotifier(s.hub))

	guard := accrual.Guard{
		Tolerance:    cfg.ClockTolerance,
		MaxPlausible: cfg.MaxSessionDuration,
	}
	s.controller = session.NewController(
		sessionStore, s.ledger, guard, clock.NewSystem(),
		logging.Component(s.logger, "session"),
		session.WithNotifier(s.hub),
	)

	// Remote ledger sync (optional; the engine runs standalone without it)
	if s.remote == nil && cfg.RemoteLedgerURL != "" {
		if cfg.IsProduction() {
			if err := security.ValidateRemoteURL(cfg.RemoteLedgerURL); err != nil {
				return nil, fmt.Errorf("remote ledger URL rejected: %w", err)
			}
		}
		s.remote = syncer.NewHTTPRemote(cfg.RemoteLedgerURL)
	}
	if s.remote != nil {
		s.syncClient = syncer.New(s.ledger, s.remote, syncer.Config{
			Interval: cfg.SyncInterval,
		}, logging.Component(s.logger, "syncer"))
		s.reconciler = reconciliation.New(s.ledger, s.remote, cfg.ReconcileEvery,
			logging.Component(s.logger, "reconcile"))
		s.logger.Info("remote ledger sync enabled",
			"interval", cfg.SyncInterval, "reconcile_every", cfg.ReconcileEvery)
	} else {
		s.logger.Info("remote ledger sync disabled, accruals stay pending")
	}

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", health.DBChecker(s.db))
	}
	if s.remote != nil {
		s.healthReg.Register("remote_ledger", health.RemoteLedgerChecker(s.remote))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware())

	// The mobile app talks to us from arbitrary origins
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitRPS,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.limiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time session and wallet events
	wsHandler := func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	}
	s.router.GET("/ws", wsHandler)
	s.router.GET("/api/v1/ws", wsHandler)

	v1 := s.router.Group("/api/v1")
	v1.Use(validation.AccountParamMiddleware())
	v1.Use(validation.SessionParamMiddleware())

	defaultRate := accrual.RateConfig{BaseRateUnits: s.cfg.BaseRateUnits}
	sessionHandler := session.NewHandler(s.controller, defaultRate)
	sessionHandler.RegisterRoutes(v1)

	walletHandler := wallet.NewHandler(s.ledger)
	walletHandler.RegisterRoutes(v1)

	// Admin routes: manual sync and reconciliation triggers
	admin := v1.Group("/admin")
	admin.Use(s.requireAdmin())
	admin.POST("/sync", s.triggerSync)
	admin.POST("/reconcile", s.triggerReconcile)
	admin.GET("/realtime/stats", s.realtimeStats)
}

// requireAdmin checks the X-Admin-Secret header. In development with no
// secret configured the routes stay open for local debugging.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin routes require ADMIN_SECRET in production",
				})
				return
			}
			c.Next()
			return
		}
		if c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) triggerSync(c *gin.Context) {
	if s.syncClient == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "sync_disabled",
			"message": "No remote ledger configured",
		})
		return
	}
	if err := s.syncClient.SyncOnce(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "sync_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

func (s *Server) triggerReconcile(c *gin.Context) {
	if s.reconciler == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "reconcile_disabled",
			"message": "No remote ledger configured",
		})
		return
	}
	drifts, err := s.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "reconcile_failed",
			"message": err.Error(),
		})
		return
	}
	if drifts == nil {
		drifts = []reconciliation.Drift{}
	}
	c.JSON(http.StatusOK, gin.H{
		"drifts_corrected": len(drifts),
		"drifts":           drifts,
	})
}

func (s *Server) realtimeStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
		"name":        "celfd",
		"description": "CELF mining session and wallet engine",
		"version":     "0.1.0",
		"currency":    "CELF",
	})
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

	if s.syncClient != nil {
		s.syncClient.Start(runCtx)
	}
	if s.reconciler != nil {
		s.reconciler.Start(runCtx)
	}
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the sync loop before cancelling the run context so an in-flight
	// cycle can finish its pushes
	if s.syncClient != nil {
		s.syncClient.Stop()
		s.logger.Info("sync client stopped")
	}
	if s.reconciler != nil {
		s.reconciler.Stop()
		s.logger.Info("reconciler stopped")
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
