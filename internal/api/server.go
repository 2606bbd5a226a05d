// Package api exposes the market over HTTP: quotes, trades, transfers,
// session presence and operational health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/internal/economy"
	"github.com/ellanlabs/ecobridge/internal/engine"
	"github.com/ellanlabs/ecobridge/internal/pricing"
	"github.com/ellanlabs/ecobridge/internal/storage"
	"github.com/ellanlabs/ecobridge/internal/transfer"
)

// MarketService is the pricing surface the handlers call.
type MarketService interface {
	Products() []string
	QuoteFor(productID string) (pricing.Quote, error)
	PriceTransaction(actor *uuid.UUID, shopID, productID string, side pricing.Side, qty float64) (*pricing.AdjustmentEvent, error)
	RecordTrade(ctx context.Context, actor *uuid.UUID, productID string, side pricing.Side, qty float64) (bool, error)
}

// MacroService exposes the macro readings for the global endpoint.
type MacroService interface {
	InflationRate() float64
	StabilityFactor() float64
	MarketHeat() float64
}

// PhaseService lists the current market phases.
type PhaseService interface {
	Phases() map[string]economy.Phase
}

// TransferService settles payments.
type TransferService interface {
	Transfer(ctx context.Context, senderID, receiverID uuid.UUID, amount float64) (*transfer.Receipt, error)
}

// QuotaStore reads persisted sales for quota and history endpoints.
type QuotaStore interface {
	SoldToday(ctx context.Context, actorID uuid.UUID, productID string) (float64, error)
	SalesSince(ctx context.Context, productID string, sinceMs int64) ([]engine.VolumeRecord, error)
}

// SessionHub tracks online presence.
type SessionHub interface {
	Join(accountID uuid.UUID, storedSeconds int64)
	Leave(accountID uuid.UUID) (int64, bool)
	ActivityScore(accountID uuid.UUID) float64
	Online() int
}

// ProfileService is the account profile layer behind join/leave.
type ProfileService interface {
	Get(ctx context.Context, accountID uuid.UUID) (storage.AccountProfile, error)
	Update(ctx context.Context, accountID uuid.UUID, fn func(*storage.AccountProfile)) error
	Len() int
}

// HolidaySource answers holiday lookups for the global endpoint.
type HolidaySource interface {
	IsHoliday(t time.Time) bool
}

// AuditStatus reports the async economy log counters. Nil when auditing
// is disabled.
type AuditStatus interface {
	Stats() storage.LoggerStats
}

// SyncStatus reports the cross-server sync backlog. Nil when sync is
// disabled.
type SyncStatus interface {
	Parked() int
}

// ConfigSource hands out the live configuration, reload included.
type ConfigSource interface {
	Config() *config.Config
}

// Deps bundles everything the server serves from.
type Deps struct {
	Market    MarketService
	Macro     MacroService
	Phases    PhaseService
	Transfers TransferService
	Quota     QuotaStore
	Sessions  SessionHub
	Profiles  ProfileService
	Calendar  HolidaySource
	Audit     AuditStatus
	Sync      SyncStatus
	Config    ConfigSource
}

// Server is the HTTP API server.
type Server struct {
	logger    *zap.Logger
	deps      Deps
	router    *gin.Engine
	validator *validator.Validate
	srv       *http.Server
}

// NewServer builds the router with the standard middleware chain and
// registers all routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		logger:    logger.With(zap.String("component", "api_server")),
		deps:      deps,
		validator: validator.New(),
	}

	if deps.Config.Config().Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("ecobridge-api"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s.router = router
	s.registerRoutes()
	return s
}

// Router returns the internal gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the listener in a goroutine and returns immediately. The
// returned channel yields the listener error, if any.
func (s *Server) Start() <-chan error {
	cfg := s.deps.Config.Config().Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("API server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	// Per-IP budget on the mutating endpoints.
	store := memory.NewStore()
	rate, _ := limiter.NewRateFromFormatted("300-M")
	rateLimit := ginlimiter.NewMiddleware(limiter.New(store, rate))

	public := s.router.Group("/api/v1")
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)

		market := public.Group("/market")
		{
			market.GET("/global", s.getGlobalMarket)
			market.GET("/products", s.listProducts)
			market.GET("/products/:product", s.getProduct)
		}

		public.GET("/quota/:actor/:product", s.getQuota)
	}

	mutating := s.router.Group("/api/v1")
	mutating.Use(rateLimit)
	{
		mutating.POST("/price/preview", s.previewPrice)
		mutating.POST("/trade", s.postTrade)
		mutating.POST("/transfer", s.postTransfer)

		session := mutating.Group("/session")
		{
			session.POST("/join", s.joinSession)
			session.POST("/leave", s.leaveSession)
		}
	}
}
