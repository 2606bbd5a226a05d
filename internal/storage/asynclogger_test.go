package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/internal/config"
)

func testAuditConfig() config.AuditConfig {
	return config.AuditConfig{QueueSize: 1000, BatchSize: 100}
}

func countLogs(t *testing.T, l *AsyncLogger) int64 {
	t.Helper()
	var n int64
	require.NoError(t, l.db.Model(&EconomyLog{}).Count(&n).Error)
	return n
}

func TestAsyncLogger_WritesQueuedRows(t *testing.T) {
	l := NewAsyncLogger(newTestDB(t), testAuditConfig(), zap.NewNop())
	require.NoError(t, l.Start())

	for i := 0; i < 10; i++ {
		l.Enqueue(&EconomyLog{
			AccountID: "acct",
			ProductID: "diamond",
			Action:    "SELL",
			Amount:    float64(i),
			Detail:    fmt.Sprintf("row %d", i),
		})
	}

	assert.Eventually(t, func() bool { return countLogs(t, l) == 10 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.Stop())
	stats := l.Stats()
	assert.Equal(t, uint64(10), stats.Written)
	assert.Equal(t, uint64(0), stats.Dropped)
	assert.Equal(t, 0, stats.Queued)
}

func TestAsyncLogger_StopDrainsBacklog(t *testing.T) {
	l := NewAsyncLogger(newTestDB(t), testAuditConfig(), zap.NewNop())
	require.NoError(t, l.Start())

	for i := 0; i < 250; i++ {
		l.Enqueue(&EconomyLog{Action: "SELL", Amount: float64(i)})
	}
	require.NoError(t, l.Stop())

	assert.Equal(t, int64(250), countLogs(t, l), "stop must flush everything queued")
}

func TestAsyncLogger_DropsWhenFull(t *testing.T) {
	cfg := config.AuditConfig{QueueSize: 4, BatchSize: 2}
	l := NewAsyncLogger(newTestDB(t), cfg, zap.NewNop())

	// Writer not started: the queue fills and the fifth row drops.
	for i := 0; i < 5; i++ {
		l.Enqueue(&EconomyLog{Action: "SELL"})
	}

	stats := l.Stats()
	assert.Equal(t, 4, stats.Queued)
	assert.Equal(t, uint64(1), stats.Dropped)

	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())
	assert.Equal(t, int64(4), countLogs(t, l))
}

func TestAsyncLogger_StartStopGuards(t *testing.T) {
	l := NewAsyncLogger(newTestDB(t), testAuditConfig(), zap.NewNop())

	assert.Error(t, l.Stop(), "stop before start")
	require.NoError(t, l.Start())
	assert.Error(t, l.Start(), "double start")
	require.NoError(t, l.Stop())
}

func TestAsyncLogger_SetsTimestamp(t *testing.T) {
	l := NewAsyncLogger(newTestDB(t), testAuditConfig(), zap.NewNop())
	require.NoError(t, l.Start())

	before := time.Now().UnixMilli()
	l.Enqueue(&EconomyLog{Action: "TRANSFER"})
	require.NoError(t, l.Stop())

	var row EconomyLog
	require.NoError(t, l.db.First(&row).Error)
	assert.GreaterOrEqual(t, row.Timestamp, before)
}
