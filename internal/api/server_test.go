package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/api"
	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/internal/economy"
	"github.com/ellanlabs/ecobridge/internal/engine"
	"github.com/ellanlabs/ecobridge/internal/pricing"
	"github.com/ellanlabs/ecobridge/internal/storage"
	"github.com/ellanlabs/ecobridge/internal/transfer"
)

type stubMarket struct {
	quotes    map[string]pricing.Quote
	throttled bool
	trades    int
}

func (s *stubMarket) Products() []string {
	out := make([]string, 0, len(s.quotes))
	for id := range s.quotes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *stubMarket) QuoteFor(productID string) (pricing.Quote, error) {
	q, ok := s.quotes[productID]
	if !ok {
		return pricing.Quote{}, pricing.ErrUnknownProduct
	}
	return q, nil
}

func (s *stubMarket) PriceTransaction(actor *uuid.UUID, shopID, productID string, _ pricing.Side, _ float64) (*pricing.AdjustmentEvent, error) {
	if _, ok := s.quotes[productID]; !ok {
		return nil, pricing.ErrUnknownProduct
	}
	event := pricing.NewAdjustmentEvent(actor, shopID, productID, 10.0)
	event.ApplyTransform("VipSystem", func(price float64) float64 { return price * 0.8 })
	return event, nil
}

func (s *stubMarket) RecordTrade(_ context.Context, _ *uuid.UUID, productID string, _ pricing.Side, _ float64) (bool, error) {
	if _, ok := s.quotes[productID]; !ok {
		return false, pricing.ErrUnknownProduct
	}
	if s.throttled {
		return false, nil
	}
	s.trades++
	return true, nil
}

type stubMacro struct{}

func (s *stubMacro) InflationRate() float64   { return 0.10 }
func (s *stubMacro) StabilityFactor() float64 { return 0.75 }
func (s *stubMacro) MarketHeat() float64      { return 1234.5 }

type stubPhases struct{}

func (s *stubPhases) Phases() map[string]economy.Phase {
	return map[string]economy.Phase{"gold_ore": economy.PhaseStable}
}

type stubTransfers struct {
	receipt *transfer.Receipt
}

func (s *stubTransfers) Transfer(_ context.Context, senderID, receiverID uuid.UUID, amount float64) (*transfer.Receipt, error) {
	r := *s.receipt
	r.SenderID = senderID
	r.ReceiverID = receiverID
	r.Amount = amount
	return &r, nil
}

type stubQuota struct {
	sold  float64
	sales []engine.VolumeRecord
}

func (s *stubQuota) SoldToday(context.Context, uuid.UUID, string) (float64, error) {
	return s.sold, nil
}

func (s *stubQuota) SalesSince(context.Context, string, int64) ([]engine.VolumeRecord, error) {
	return s.sales, nil
}

type stubSessions struct {
	online map[uuid.UUID]int64
}

func (s *stubSessions) Join(id uuid.UUID, storedSeconds int64) {
	s.online[id] = storedSeconds
}

func (s *stubSessions) Leave(id uuid.UUID) (int64, bool) {
	secs, ok := s.online[id]
	if ok {
		delete(s.online, id)
	}
	return secs, ok
}

func (s *stubSessions) ActivityScore(id uuid.UUID) float64 {
	return 0.5
}

func (s *stubSessions) Online() int { return len(s.online) }

type stubProfiles struct {
	profiles map[uuid.UUID]*storage.AccountProfile
}

func (s *stubProfiles) Get(_ context.Context, id uuid.UUID) (storage.AccountProfile, error) {
	if p, ok := s.profiles[id]; ok {
		return *p, nil
	}
	return storage.AccountProfile{AccountID: id, Balance: decimal.Zero}, nil
}

func (s *stubProfiles) Update(_ context.Context, id uuid.UUID, fn func(*storage.AccountProfile)) error {
	p, ok := s.profiles[id]
	if !ok {
		p = &storage.AccountProfile{AccountID: id, Balance: decimal.Zero}
		s.profiles[id] = p
	}
	fn(p)
	return nil
}

func (s *stubProfiles) Len() int { return len(s.profiles) }

type stubCalendar struct {
	holiday bool
}

func (s *stubCalendar) IsHoliday(time.Time) bool { return s.holiday }

type stubAudit struct{}

func (s *stubAudit) Stats() storage.LoggerStats {
	return storage.LoggerStats{Queued: 3, Written: 100, Dropped: 1}
}

type stubSync struct{}

func (s *stubSync) Parked() int { return 2 }

type stubConfig struct {
	cfg *config.Config
}

func (s *stubConfig) Config() *config.Config { return s.cfg }

type apiFixture struct {
	router   *gin.Engine
	market   *stubMarket
	sessions *stubSessions
	profiles *stubProfiles
	calendar *stubCalendar
}

func setupServer(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fx := &apiFixture{
		market: &stubMarket{quotes: map[string]pricing.Quote{
			"gold_ore":   {ProductID: "gold_ore", Buy: 10.5, Sell: 9.8, Phase: economy.PhaseStable},
			"iron_ingot": {ProductID: "iron_ingot", Buy: 4.2, Sell: 3.9, Phase: economy.PhaseStable},
		}},
		sessions: &stubSessions{online: make(map[uuid.UUID]int64)},
		profiles: &stubProfiles{profiles: make(map[uuid.UUID]*storage.AccountProfile)},
		calendar: &stubCalendar{},
	}

	cfg := &config.Config{
		Environment: "development",
		ServerID:    "server-test",
		Server: config.ServerConfig{
			Host: "127.0.0.1", Port: 8080,
			ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second,
		},
		Quota: config.QuotaConfig{HardDailyCap: 2000, OptimalDailyCap: 500},
	}

	srv := api.NewServer(api.Deps{
		Market:    fx.market,
		Macro:     &stubMacro{},
		Phases:    &stubPhases{},
		Transfers: &stubTransfers{receipt: &transfer.Receipt{TransferID: uuid.New(), Code: "allowed", Tax: 50, Net: 950}},
		Quota:     &stubQuota{sold: 600, sales: []engine.VolumeRecord{{Timestamp: 1000, Amount: 5}}},
		Sessions:  fx.sessions,
		Profiles:  fx.profiles,
		Calendar:  fx.calendar,
		Audit:     &stubAudit{},
		Sync:      &stubSync{},
		Config:    &stubConfig{cfg: cfg},
	}, zap.NewNop())

	fx.router = srv.Router()
	return fx
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	fx := setupServer(t)
	w := doJSON(t, fx.router, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "server-test", resp["server_id"])
	assert.Contains(t, resp, "audit")
	assert.Equal(t, float64(2), resp["sync_parked"])
}

func TestGetGlobalMarket(t *testing.T) {
	fx := setupServer(t)
	fx.calendar.holiday = true

	w := doJSON(t, fx.router, http.MethodGet, "/api/v1/market/global", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "10.00%", resp["inflation_percent"])
	assert.Equal(t, true, resp["holiday_active"])
	assert.Equal(t, "1.15x", resp["holiday_boost"])
	assert.Equal(t, 0.75, resp["stability_factor"])
	assert.Contains(t, resp, "phases")
}

func TestListProducts(t *testing.T) {
	fx := setupServer(t)
	w := doJSON(t, fx.router, http.MethodGet, "/api/v1/market/products", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(2), resp["count"])
}

func TestGetProduct(t *testing.T) {
	fx := setupServer(t)

	w := doJSON(t, fx.router, http.MethodGet, "/api/v1/market/products/gold_ore", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Contains(t, resp, "quote")
	assert.Contains(t, resp, "recent_sales")

	w = doJSON(t, fx.router, http.MethodGet, "/api/v1/market/products/unobtainium", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetQuota(t *testing.T) {
	fx := setupServer(t)
	actor := uuid.New()

	w := doJSON(t, fx.router, http.MethodGet, "/api/v1/quota/"+actor.String()+"/gold_ore", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(600), resp["sold_today"])
	assert.Equal(t, float64(1400), resp["remaining"])
	assert.Equal(t, float64(30), resp["used_percent"])
	assert.Equal(t, "over_optimal", resp["status"])

	w = doJSON(t, fx.router, http.MethodGet, "/api/v1/quota/not-a-uuid/gold_ore", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, fx.router, http.MethodGet, "/api/v1/quota/"+actor.String()+"/unobtainium", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreviewPrice(t *testing.T) {
	fx := setupServer(t)

	w := doJSON(t, fx.router, http.MethodPost, "/api/v1/price/preview", map[string]interface{}{
		"shop_id":    "shop-1",
		"product_id": "gold_ore",
		"side":       "buy",
		"quantity":   2.0,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(10), resp["base_price"])
	assert.Equal(t, float64(8), resp["final_price"])
	assert.Equal(t, true, resp["modified"])
	trail, ok := resp["audit_trail"].([]interface{})
	require.True(t, ok)
	assert.Len(t, trail, 2)

	// Missing shop_id fails validation.
	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/price/preview", map[string]interface{}{
		"product_id": "gold_ore",
		"side":       "buy",
		"quantity":   2.0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown products 404.
	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/price/preview", map[string]interface{}{
		"shop_id":    "shop-1",
		"product_id": "unobtainium",
		"side":       "buy",
		"quantity":   2.0,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Side must be buy or sell.
	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/price/preview", map[string]interface{}{
		"shop_id":    "shop-1",
		"product_id": "gold_ore",
		"side":       "hodl",
		"quantity":   2.0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostTrade(t *testing.T) {
	fx := setupServer(t)

	body := map[string]interface{}{
		"actor_id":   uuid.New().String(),
		"product_id": "gold_ore",
		"side":       "sell",
		"quantity":   5.0,
	}
	w := doJSON(t, fx.router, http.MethodPost, "/api/v1/trade", body)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["recorded"])
	assert.Contains(t, resp, "quote")
	assert.Equal(t, 1, fx.market.trades)

	fx.market.throttled = true
	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/trade", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	body["product_id"] = "unobtainium"
	fx.market.throttled = false
	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/trade", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostTransfer(t *testing.T) {
	fx := setupServer(t)
	sender := uuid.New()
	receiver := uuid.New()

	w := doJSON(t, fx.router, http.MethodPost, "/api/v1/transfer", map[string]interface{}{
		"sender_id":   sender.String(),
		"receiver_id": receiver.String(),
		"amount":      1000.0,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "allowed", resp["code"])
	assert.Equal(t, float64(50), resp["tax"])

	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/transfer", map[string]interface{}{
		"sender_id":   sender.String(),
		"receiver_id": sender.String(),
		"amount":      1000.0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/transfer", map[string]interface{}{
		"sender_id":   "not-a-uuid",
		"receiver_id": receiver.String(),
		"amount":      1000.0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionJoinLeave(t *testing.T) {
	fx := setupServer(t)
	actor := uuid.New()
	fx.profiles.profiles[actor] = &storage.AccountProfile{
		AccountID:   actor,
		Balance:     decimal.Zero,
		PlaySeconds: 1234,
	}

	w := doJSON(t, fx.router, http.MethodPost, "/api/v1/session/join", map[string]interface{}{
		"actor_id": actor.String(),
	})
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "online", resp["status"])
	assert.Equal(t, float64(1234), resp["play_seconds"])
	assert.Equal(t, int64(1234), fx.sessions.online[actor])

	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/session/leave", map[string]interface{}{
		"actor_id": actor.String(),
	})
	assert.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, "offline", resp["status"])
	assert.Equal(t, int64(1234), fx.profiles.profiles[actor].PlaySeconds)

	// Second leave finds no session.
	w = doJSON(t, fx.router, http.MethodPost, "/api/v1/session/leave", map[string]interface{}{
		"actor_id": actor.String(),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
