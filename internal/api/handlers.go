package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/collector"
	"github.com/ellanlabs/ecobridge/internal/engine"
	"github.com/ellanlabs/ecobridge/internal/pricing"
	"github.com/ellanlabs/ecobridge/internal/storage"
)

const recentSalesWindow = time.Hour

type previewRequest struct {
	ActorID   string  `json:"actor_id"`
	ShopID    string  `json:"shop_id" validate:"required"`
	ProductID string  `json:"product_id" validate:"required"`
	Side      string  `json:"side" validate:"required,oneof=buy sell"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
}

type tradeRequest struct {
	ActorID   string  `json:"actor_id"`
	ProductID string  `json:"product_id" validate:"required"`
	Side      string  `json:"side" validate:"required,oneof=buy sell"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
}

type transferRequest struct {
	SenderID   string  `json:"sender_id" validate:"required,uuid"`
	ReceiverID string  `json:"receiver_id" validate:"required,uuid"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
}

type sessionRequest struct {
	ActorID string `json:"actor_id" validate:"required,uuid"`
}

type saleView struct {
	Timestamp int64   `json:"timestamp"`
	Amount    float64 `json:"amount"`
}

func (s *Server) healthCheck(c *gin.Context) {
	cfg := s.deps.Config.Config()
	resp := gin.H{
		"status":          "ok",
		"time":            time.Now().UTC(),
		"server_id":       cfg.ServerID,
		"online_sessions": s.deps.Sessions.Online(),
		"cached_profiles": s.deps.Profiles.Len(),
	}
	if s.deps.Audit != nil {
		resp["audit"] = s.deps.Audit.Stats()
	}
	if s.deps.Sync != nil {
		resp["sync_parked"] = s.deps.Sync.Parked()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getGlobalMarket(c *gin.Context) {
	now := time.Now()
	holiday := s.deps.Calendar.IsHoliday(now)
	boost := 1.0
	if holiday {
		boost = engine.HolidayBoost
	}
	inflation := s.deps.Macro.InflationRate()

	c.JSON(http.StatusOK, gin.H{
		"inflation_rate":    inflation,
		"inflation_percent": fmt.Sprintf("%.2f%%", inflation*100.0),
		"stability_factor":  s.deps.Macro.StabilityFactor(),
		"market_heat":       s.deps.Macro.MarketHeat(),
		"holiday_active":    holiday,
		"holiday_boost":     fmt.Sprintf("%.2fx", boost),
		"phases":            s.deps.Phases.Phases(),
	})
}

func (s *Server) listProducts(c *gin.Context) {
	products := s.deps.Market.Products()
	quotes := make([]pricing.Quote, 0, len(products))
	for _, id := range products {
		q, err := s.deps.Market.QuoteFor(id)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(quotes),
		"products": quotes,
	})
}

func (s *Server) getProduct(c *gin.Context) {
	productID := c.Param("product")

	q, err := s.deps.Market.QuoteFor(productID)
	if errors.Is(err, pricing.ErrUnknownProduct) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown product"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to quote product"})
		return
	}

	since := time.Now().Add(-recentSalesWindow).UnixMilli()
	tail, err := s.deps.Quota.SalesSince(c.Request.Context(), productID, since)
	if err != nil {
		s.logger.Warn("Failed to load recent sales",
			zap.String("product_id", productID), zap.Error(err))
		tail = nil
	}
	if len(tail) > 50 {
		tail = tail[:50]
	}
	sales := make([]saleView, 0, len(tail))
	for _, rec := range tail {
		sales = append(sales, saleView{Timestamp: rec.Timestamp, Amount: rec.Amount})
	}

	c.JSON(http.StatusOK, gin.H{
		"quote":        q,
		"recent_sales": sales,
	})
}

func (s *Server) getQuota(c *gin.Context) {
	actorID, err := uuid.Parse(c.Param("actor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor id"})
		return
	}
	productID := c.Param("product")
	if _, err := s.deps.Market.QuoteFor(productID); errors.Is(err, pricing.ErrUnknownProduct) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown product"})
		return
	}

	sold, err := s.deps.Quota.SoldToday(c.Request.Context(), actorID, productID)
	if err != nil {
		s.logger.Error("Failed to read daily sales",
			zap.String("actor_id", actorID.String()),
			zap.String("product_id", productID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read daily sales"})
		return
	}

	quota := s.deps.Config.Config().Quota
	remaining := quota.HardDailyCap - sold
	if remaining < 0 {
		remaining = 0
	}
	percent := 0.0
	if quota.HardDailyCap > 0 {
		percent = sold / quota.HardDailyCap * 100.0
		if percent > 100.0 {
			percent = 100.0
		}
	}
	status := "ok"
	switch {
	case sold >= quota.HardDailyCap:
		status = "capped"
	case sold >= quota.OptimalDailyCap:
		status = "over_optimal"
	}

	c.JSON(http.StatusOK, gin.H{
		"actor_id":     actorID,
		"product_id":   productID,
		"sold_today":   sold,
		"hard_cap":     quota.HardDailyCap,
		"optimal_cap":  quota.OptimalDailyCap,
		"remaining":    remaining,
		"used_percent": percent,
		"status":       status,
	})
}

func (s *Server) previewPrice(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, err := parseOptionalActor(req.ActorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := s.deps.Market.PriceTransaction(actor, req.ShopID, req.ProductID, pricing.Side(req.Side), req.Quantity)
	if errors.Is(err, pricing.ErrUnknownProduct) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown product"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":    event.ID(),
		"product_id":  event.ProductID(),
		"shop_id":     event.ShopID(),
		"base_price":  event.BasePrice(),
		"final_price": event.CurrentPrice(),
		"modified":    event.IsModified(),
		"audit_trail": event.SnapshotAuditLog(),
		"rendered":    event.Render(),
	})
}

func (s *Server) postTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, err := parseOptionalActor(req.ActorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recorded, err := s.deps.Market.RecordTrade(c.Request.Context(), actor, req.ProductID, pricing.Side(req.Side), req.Quantity)
	if errors.Is(err, pricing.ErrUnknownProduct) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown product"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !recorded {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"recorded": false,
			"error":    "trade throttled",
		})
		return
	}

	resp := gin.H{"recorded": true}
	if q, err := s.deps.Market.QuoteFor(req.ProductID); err == nil {
		resp["quote"] = q
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	senderID, err := uuid.Parse(req.SenderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sender_id"})
		return
	}
	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receiver_id"})
		return
	}
	if senderID == receiverID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender and receiver are the same account"})
		return
	}

	receipt, err := s.deps.Transfers.Transfer(c.Request.Context(), senderID, receiverID, req.Amount)
	if err != nil {
		s.logger.Error("Transfer failed",
			zap.String("sender_id", senderID.String()),
			zap.String("receiver_id", receiverID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transfer failed"})
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) joinSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor_id"})
		return
	}

	profile, err := s.deps.Profiles.Get(c.Request.Context(), actorID)
	if err != nil {
		s.logger.Error("Failed to load profile on join",
			zap.String("actor_id", actorID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	s.deps.Sessions.Join(actorID, profile.PlaySeconds)
	c.JSON(http.StatusOK, gin.H{
		"status":         "online",
		"actor_id":       actorID,
		"play_seconds":   profile.PlaySeconds,
		"activity_score": s.deps.Sessions.ActivityScore(actorID),
	})
}

func (s *Server) leaveSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor_id"})
		return
	}

	total, ok := s.deps.Sessions.Leave(actorID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}

	if err := s.deps.Profiles.Update(c.Request.Context(), actorID, func(p *storage.AccountProfile) {
		p.PlaySeconds = total
		p.ActivityScore = collector.Score(total)
	}); err != nil {
		// The cache retries dirty writes; the session itself is closed.
		s.logger.Error("Failed to persist play time on leave",
			zap.String("actor_id", actorID.String()), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "offline",
		"actor_id":       actorID,
		"play_seconds":   total,
		"activity_score": collector.Score(total),
	})
}

func parseOptionalActor(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid actor_id")
	}
	return &id, nil
}
