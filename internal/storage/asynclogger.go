package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ellanlabs/ecobridge/internal/config"
	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// AsyncLogger buffers audit rows in a bounded queue and writes them in
// batches off the trade path. When the queue is full new rows are dropped
// and counted; audit logging must never stall a trade.
type AsyncLogger struct {
	logger *zap.Logger
	db     *gorm.DB

	queue     chan *EconomyLog
	batchSize int

	written atomic.Uint64
	dropped atomic.Uint64

	mu        sync.Mutex
	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
}

// LoggerStats is a point-in-time health snapshot of the writer.
type LoggerStats struct {
	Queued  int    `json:"queued"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
}

// NewAsyncLogger creates the batch writer with the configured queue and
// batch sizes.
func NewAsyncLogger(db *gorm.DB, cfg config.AuditConfig, logger *zap.Logger) *AsyncLogger {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 50_000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	return &AsyncLogger{
		logger:    logger.With(zap.String("component", "async_logger")),
		db:        db,
		queue:     make(chan *EconomyLog, queueSize),
		batchSize: batchSize,
	}
}

// Start launches the writer goroutine.
func (l *AsyncLogger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isRunning {
		return fmt.Errorf("async logger is already running")
	}
	l.stopChan = make(chan struct{})
	l.done = make(chan struct{})
	l.isRunning = true

	go l.run()

	l.logger.Info("Async audit logger started",
		zap.Int("queue_size", cap(l.queue)),
		zap.Int("batch_size", l.batchSize))
	return nil
}

// Stop halts the writer after draining everything still queued.
func (l *AsyncLogger) Stop() error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return fmt.Errorf("async logger is not running")
	}
	l.isRunning = false
	close(l.stopChan)
	done := l.done
	l.mu.Unlock()

	<-done
	stats := l.Stats()
	l.logger.Info("Async audit logger stopped",
		zap.Uint64("written", stats.Written),
		zap.Uint64("dropped", stats.Dropped))
	return nil
}

// Enqueue queues one audit row without blocking. A full queue drops the
// row and bumps the drop counter.
func (l *AsyncLogger) Enqueue(entry *EconomyLog) {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	select {
	case l.queue <- entry:
		metrics.AuditQueueDepth.Set(float64(len(l.queue)))
	default:
		l.dropped.Add(1)
		metrics.AuditRowsDropped.Inc()
		l.logger.Warn("Audit queue full, dropping row",
			zap.String("action", entry.Action),
			zap.Uint64("dropped_total", l.dropped.Load()))
	}
}

// Stats returns the writer's counters.
func (l *AsyncLogger) Stats() LoggerStats {
	return LoggerStats{
		Queued:  len(l.queue),
		Written: l.written.Load(),
		Dropped: l.dropped.Load(),
	}
}

// run blocks on the queue and greedily folds whatever else is already
// buffered into the same batch, so a busy market produces large batches
// and a quiet one writes each row promptly.
func (l *AsyncLogger) run() {
	defer close(l.done)

	for {
		select {
		case entry := <-l.queue:
			l.flush(l.collect(entry))
		case <-l.stopChan:
			l.drain()
			return
		}
	}
}

// collect fills a batch from the queue without blocking.
func (l *AsyncLogger) collect(first *EconomyLog) []*EconomyLog {
	batch := make([]*EconomyLog, 1, l.batchSize)
	batch[0] = first
	for len(batch) < l.batchSize {
		select {
		case entry := <-l.queue:
			batch = append(batch, entry)
		default:
			return batch
		}
	}
	return batch
}

// drain flushes everything left in the queue during shutdown.
func (l *AsyncLogger) drain() {
	for {
		select {
		case entry := <-l.queue:
			l.flush(l.collect(entry))
		default:
			return
		}
	}
}

func (l *AsyncLogger) flush(batch []*EconomyLog) {
	if len(batch) == 0 {
		return
	}

	if err := l.db.Create(&batch).Error; err != nil {
		l.dropped.Add(uint64(len(batch)))
		metrics.AuditRowsDropped.Add(float64(len(batch)))
		l.logger.Error("Failed to flush audit batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
	} else {
		l.written.Add(uint64(len(batch)))
		metrics.AuditRowsWritten.Add(float64(len(batch)))
		l.logger.Debug("Audit batch written", zap.Int("batch_size", len(batch)))
	}
	metrics.AuditQueueDepth.Set(float64(len(l.queue)))
}
