// Package server sets up the HTTP server with all routes
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
	"github.com/pressly/goose/v3"

	"github.com/mbd888/dojo/internal/assistant"
	"github.com/mbd888/dojo/internal/attendance"
	"github.com/mbd888/dojo/internal/auth"
	"github.com/mbd888/dojo/internal/billing"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/config"
	"github.com/mbd888/dojo/internal/health"
	"github.com/mbd888/dojo/internal/jobs"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/notify"
	"github.com/mbd888/dojo/internal/platform"
	"github.com/mbd888/dojo/internal/ranks"
	"github.com/mbd888/dojo/internal/ratelimit"
	"github.com/mbd888/dojo/internal/realtime"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/security"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/traces"
	"github.com/mbd888/dojo/internal/validation"
	"github.com/mbd888/dojo/migrations"
)

// Version is reported by /health.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg   *config.Config
	clock clock.Clock

	tenants    *tenant.Service
	authMgr    *auth.Manager
	roster     *roster.Service
	attendance *attendance.Service
	billing    *billing.Service
	ranks      *ranks.Service
	notify     *notify.Service
	assistant  *assistant.Service
	platform   *platform.Service

	realtimeHub  *realtime.Hub
	scheduler    *jobs.Scheduler
	invoiceJob   *jobs.InvoiceJob
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

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

// WithClock pins the clock used by every service and job.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

type stores struct {
	tenants    tenant.Store
	keys       auth.Store
	roster     roster.Store
	attendance attendance.Store
	billing    billing.Store
	ranks      ranks.Store
	messages   notify.Store
	platform   platform.Store
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(5 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	loc := cfg.Location()
	if s.clock == nil {
		s.clock = clock.System{Location: loc}
	}

	ctx := context.Background()

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var st stores
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrateDB(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		s.db = db
		s.health.Register("database", health.PingCheck(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		st = stores{
			tenants:    tenant.NewPostgresStore(db),
			keys:       auth.NewPostgresStore(db),
			roster:     roster.NewPostgresStore(db),
			attendance: attendance.NewPostgresStore(db),
			billing:    billing.NewPostgresStore(db),
			ranks:      ranks.NewPostgresStore(db),
			messages:   notify.NewPostgresStore(db),
			platform:   platform.NewPostgresStore(db),
		}
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (data is lost on restart)")
		st = stores{
			tenants:    tenant.NewMemoryStore(),
			keys:       auth.NewMemoryStore(),
			roster:     roster.NewMemoryStore(),
			attendance: attendance.NewMemoryStore(),
			billing:    billing.NewMemoryStore(),
			ranks:      ranks.NewMemoryStore(),
			messages:   notify.NewMemoryStore(),
			platform:   platform.NewMemoryStore(),
		}
	}

	s.wireServices(st, loc)
	if err := s.wireJobs(loc); err != nil {
		return nil, err
	}

	// Postgres installs seed with `dojoctl seed-plans`.
	if s.db == nil {
		if _, err := s.platform.SeedPlans(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed platform plans: %w", err)
		}
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

func (s *Server) wireServices(st stores, loc *time.Location) {
	cfg := s.cfg
	s.realtimeHub = realtime.NewHub(s.logger)

	s.tenants = tenant.NewService(st.tenants, s.clock)
	s.authMgr = auth.NewManager(st.keys)
	s.roster = roster.NewService(st.roster, s.clock)
	s.attendance = attendance.NewService(st.attendance, s.roster, s.clock).WithPublisher(s.realtimeHub)
	s.billing = billing.NewService(st.billing, s.roster, s.clock).WithPublisher(s.realtimeHub)

	// A nil *HTTPGateway must not reach the interface.
	var gw notify.Gateway
	if cfg.WhatsAppGatewayURL != "" {
		httpGW := notify.NewHTTPGateway(cfg.WhatsAppGatewayURL, cfg.NotifyTimeout)
		gw = httpGW
		s.health.RegisterOptional("whatsapp_gateway", func(ctx context.Context) health.Status {
			if err := httpGW.Ping(ctx); err != nil {
				return health.Status{Healthy: false, Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
		s.logger.Info("whatsapp gateway enabled", "url", httpGW.URL())
	} else {
		s.logger.Warn("WHATSAPP_GATEWAY_URL not set, messages will be logged as failed")
	}
	s.notify = notify.NewService(st.messages, gw, s.tenants, s.roster, s.clock).WithLocation(loc)

	s.ranks = ranks.NewService(st.ranks, s.roster, s.clock).WithNotifier(s.notify)
	s.roster.WithReferenceChecker(s.ranks)

	s.platform = platform.NewService(st.platform, s.tenants, cfg.TrialDays, s.clock).WithKeys(s.authMgr)
	if cfg.StripeSecretKey != "" {
		s.platform.WithPayments(platform.NewStripePayments(cfg.StripeSecretKey, nil), cfg.StripeWebhookSecret, cfg.PublicBaseURL)
		s.logger.Info("stripe payments enabled")
	}
	s.roster.WithLimits(s.platform)

	s.assistant = assistant.NewService(s.billing, s.roster, s.attendance, s.tenants, s.clock)
	if cfg.LLMAPIKey != "" {
		s.assistant.WithLLM(assistant.NewGeminiClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel))
		s.logger.Info("assistant LLM enabled", "model", cfg.LLMModel)
	}
}

func (s *Server) wireJobs(loc *time.Location) error {
	s.scheduler = jobs.NewScheduler(loc, s.clock)
	s.invoiceJob = jobs.NewInvoiceJob(s.billing, s.clock)
	if err := s.scheduler.Add(s.cfg.InvoiceJobAt, s.invoiceJob); err != nil {
		return err
	}
	if err := s.scheduler.Add(s.cfg.SweepJobAt, jobs.NewSweepJob(s.tenants, s.notify, s.assistant, s.clock)); err != nil {
		return err
	}
	return s.scheduler.Add(s.cfg.SweepJobAt, jobs.TrialJob(s.platform))
}

func migrateDB(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	// Binds the academy for /:slug paths; exempt paths stay unbound.
	s.router.Use(tenant.Middleware(s.tenants))
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
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
		ctx := c.Request.Context()
		if id := tenant.IDFromContext(ctx); id != "" {
			ctx = logging.WithAcademy(ctx, id)
		}
		logger := logging.L(ctx)

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

type routeRegistrar interface {
	RegisterRoutes(r *gin.RouterGroup)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	platformHandler := platform.NewHandler(s.platform)
	tenantHandler := tenant.NewHandler(s.tenants)
	authHandler := auth.NewHandler(s.authMgr, s.tenants)

	// Public signup and the Stripe webhook
	platformHandler.RegisterPublicRoutes(s.router)
	platformHandler.RegisterWebhookRoutes(s.router)

	admin := s.router.Group("/superadmin", auth.RequireAdmin(s.cfg.AdminSecret))
	platformHandler.RegisterAdminRoutes(admin)
	tenantHandler.RegisterAdminRoutes(admin)
	authHandler.RegisterAdminRoutes(admin)
	admin.POST("/jobs/:name", s.runJobHandler)

	tenantRoutes := []routeRegistrar{
		tenantHandler,
		authHandler,
		roster.NewHandler(s.roster),
		attendance.NewHandler(s.attendance),
		billing.NewHandler(s.billing),
		ranks.NewHandler(s.ranks),
		notify.NewHandler(s.notify),
		assistant.NewHandler(s.assistant),
		platformHandler,
	}

	// Staff API: the key selects the academy.
	v1 := s.router.Group("/v1",
		auth.CheckAdmin(s.cfg.AdminSecret),
		auth.Middleware(s.authMgr),
		auth.RequireAuth(),
		tenant.LegacyOwnerMiddleware(s.tenants, auth.Principal),
	)

	// Academy routes: the slug selects the academy and the key must belong to it.
	academy := s.router.Group("/:slug",
		auth.CheckAdmin(s.cfg.AdminSecret),
		auth.Middleware(s.authMgr),
		auth.RequireAuth(),
		auth.RequireMember(),
	)
	academy.GET("/ws", s.realtimeHub.Handler)

	for _, h := range tenantRoutes {
		h.RegisterRoutes(v1)
		h.RegisterRoutes(academy)
	}
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
		Version:   Version,
		Checks:    checks,
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
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
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// runJobHandler handles POST /superadmin/jobs/:name
func (s *Server) runJobHandler(c *gin.Context) {
	name := c.Param("name")
	err := s.scheduler.RunNamed(c.Request.Context(), name)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job_failed", "message": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"job": name, "status": "success"})
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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
		s.logger.Info("starting server", "port", s.cfg.Port, "timezone", s.cfg.Timezone)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.scheduler.Start(logging.WithLogger(runCtx, s.logger))
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.scheduler.Stop()
	s.logger.Info("scheduler stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.stopTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
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

// Scheduler returns the job scheduler.
func (s *Server) Scheduler() *jobs.Scheduler {
	return s.scheduler
}

// GenerateInvoices runs invoice generation as of date, outside the schedule.
func (s *Server) GenerateInvoices(ctx context.Context, date time.Time) (*billing.GenerationReport, error) {
	err := jobs.Run(ctx, jobs.Func(jobs.NameInvoices, func(ctx context.Context) error {
		return s.invoiceJob.RunFor(ctx, date)
	}))
	return s.invoiceJob.Last, err
}

// SeedPlans inserts the default platform plans that are missing.
func (s *Server) SeedPlans(ctx context.Context) (int, error) {
	return s.platform.SeedPlans(ctx)
}

// Close releases the database pool and tracer for short-lived callers that
// never Run.
func (s *Server) Close(ctx context.Context) error {
	s.rateLimiter.Stop()
	if err := s.stopTracing(ctx); err != nil {
		return err
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
