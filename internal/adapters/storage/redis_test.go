package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alejandrodnm/polyedge/internal/adapters/storage"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requiere un Redis real: REDIS_TEST_URL=redis://localhost:6379/15
func newTestRedis(t *testing.T) *storage.RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	prefix := "polyedge-test-" + time.Now().Format("150405.000000")
	s, err := storage.NewRedisStore(context.Background(), url, prefix)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_State(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	empty, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Positions)

	require.NoError(t, s.SaveState(ctx, makeState()))
	got, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Positions, 2)
	assert.InDelta(t, 2.5, got.TotalRealizedPnL, 1e-9)
}

func TestRedisStore_Journal(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordClose(ctx, domain.ClosedPosition{ID: id, MarketID: "0x" + id, Reason: domain.ExitStopLoss}))
	}
	closed, err := s.ClosedPositions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, "c", closed[0].ID)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := storage.NewRedisStore(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}
