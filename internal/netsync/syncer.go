package netsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

const (
	// offlineCapacity bounds the packets parked while the backend is
	// down; beyond it the oldest packets are shed.
	offlineCapacity = 5000

	// flushBatch and flushBudget bound one flush pass so a fat backlog
	// cannot monopolize the publisher.
	flushBatch  = 100
	flushBudget = 5 * time.Second

	publishTimeout = 2 * time.Second
	retryInterval  = 5 * time.Second
)

// InboundHandler receives trades settled on other servers.
type InboundHandler func(TradePacket)

// Syncer publishes local trades to the backend and feeds remote trades
// into the registered handlers. Packets that cannot be published are
// parked in a bounded offline queue and replayed once the backend
// recovers.
type Syncer struct {
	logger      *zap.Logger
	backend     Backend
	backendName string
	channel     string
	serverID    string

	mu       sync.Mutex
	offline  []TradePacket
	capacity int
	handlers []InboundHandler

	flushing atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	now       func() time.Time
}

// NewSyncer wires a syncer over the given backend. backendName labels
// the metrics ("redis" or "kafka").
func NewSyncer(backend Backend, backendName, channel, serverID string, logger *zap.Logger) *Syncer {
	return &Syncer{
		logger: logger.With(
			zap.String("component", "trade_syncer"),
			zap.String("backend", backendName)),
		backend:     backend,
		backendName: backendName,
		channel:     channel,
		serverID:    serverID,
		capacity:    offlineCapacity,
		now:         time.Now,
	}
}

// OnTrade registers a handler for remote trades. Handlers run on the
// subscriber goroutine and must not block.
func (s *Syncer) OnTrade(h InboundHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Start subscribes to the sync channel and launches the retry loop.
func (s *Syncer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("trade syncer is already running")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.isRunning = true

	if err := s.backend.Subscribe(s.ctx, s.channel, s.handleInbound); err != nil {
		s.cancel()
		s.isRunning = false
		return fmt.Errorf("failed to subscribe to sync channel: %w", err)
	}

	go s.retryLoop()

	s.logger.Info("Trade syncer started",
		zap.String("channel", s.channel),
		zap.String("server_id", s.serverID))
	return nil
}

// Stop drains the offline queue as far as the backend allows, then
// closes the backend.
func (s *Syncer) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("trade syncer is not running")
	}
	s.isRunning = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.flush()

	if parked := s.Parked(); parked > 0 {
		s.logger.Warn("Shutting down with unsynced trades", zap.Int("parked", parked))
	}
	return s.backend.Close()
}

// Publish replicates one local trade. On backend failure the packet is
// parked for replay.
func (s *Syncer) Publish(productID string, amount float64) {
	packet := TradePacket{
		ServerID:  s.serverID,
		ProductID: productID,
		Amount:    amount,
		Timestamp: s.now().UnixMilli(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.backend.Publish(ctx, s.channel, packet); err != nil {
		s.logger.Warn("Sync publish failed, parking packet",
			zap.String("product_id", productID),
			zap.Error(err))
		s.park(packet)
		return
	}
	metrics.SyncPublished.WithLabelValues(s.backendName).Inc()
}

// Parked returns the offline queue depth.
func (s *Syncer) Parked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offline)
}

func (s *Syncer) park(packet TradePacket) {
	s.mu.Lock()
	if len(s.offline) >= s.capacity {
		shed := len(s.offline) - s.capacity + 1
		s.offline = s.offline[shed:]
		s.logger.Warn("Offline queue full, shedding oldest packets", zap.Int("shed", shed))
	}
	s.offline = append(s.offline, packet)
	depth := len(s.offline)
	s.mu.Unlock()

	metrics.SyncQueued.Set(float64(depth))
}

func (s *Syncer) retryLoop() {
	defer close(s.done)

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.Parked() > 0 {
				s.flush()
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// flush replays parked packets oldest-first. The CAS guard keeps a
// single flusher; the batch size and time budget bound one pass. The
// first failure stops the pass since the backend is evidently still
// down.
func (s *Syncer) flush() {
	if !s.flushing.CompareAndSwap(false, true) {
		return
	}
	defer s.flushing.Store(false)

	deadline := s.now().Add(flushBudget)
	sent := 0

	for sent < flushBatch && s.now().Before(deadline) {
		s.mu.Lock()
		if len(s.offline) == 0 {
			s.mu.Unlock()
			break
		}
		packet := s.offline[0]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := s.backend.Publish(ctx, s.channel, packet)
		cancel()
		if err != nil {
			s.logger.Warn("Offline flush halted, backend still down", zap.Error(err))
			break
		}

		s.mu.Lock()
		// The head cannot have moved: parking appends and this is the
		// only dequeuer.
		s.offline = s.offline[1:]
		depth := len(s.offline)
		s.mu.Unlock()

		metrics.SyncPublished.WithLabelValues(s.backendName).Inc()
		metrics.SyncQueued.Set(float64(depth))
		sent++
	}

	if sent > 0 {
		s.logger.Info("Replayed parked trades", zap.Int("count", sent), zap.Int("remaining", s.Parked()))
	}
}

// handleInbound parses a remote packet and fans it out. Our own packets
// loop back through the broker and are dropped here.
func (s *Syncer) handleInbound(payload []byte) {
	var packet TradePacket
	if err := json.Unmarshal(payload, &packet); err != nil {
		s.logger.Warn("Dropping malformed sync packet", zap.Error(err))
		return
	}
	if packet.ServerID == s.serverID {
		return
	}

	s.mu.Lock()
	handlers := s.handlers
	s.mu.Unlock()

	for _, h := range handlers {
		h(packet)
	}
}
