package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisManager(client, "", zap.NewNop()), mr
}

func TestGenerateKey_Deterministic(t *testing.T) {
	m, _ := newTestManager(t)

	k1, err := m.GenerateKey("user-1", "conv-1", "hello")
	require.NoError(t, err)
	k2, err := m.GenerateKey("user-1", "conv-1", "hello")
	require.NoError(t, err)
	k3, err := m.GenerateKey("user-1", "conv-1", "hello!")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}

func TestGenerateKey_EmptyInputs(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GenerateKey()
	assert.Error(t, err)
}

func TestSetGet_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	type payload struct {
		Content string `json:"content"`
	}

	require.NoError(t, m.Set(ctx, "key-1", payload{Content: "cached answer"}, time.Minute))

	data, found, err := m.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, found)

	var got payload
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "cached answer", got.Content)
}

func TestGet_Miss(t *testing.T) {
	m, _ := newTestManager(t)

	_, found, err := m.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSet_Expiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key-ttl", "v", time.Second))
	mr.FastForward(2 * time.Second)

	_, found, err := m.Get(ctx, "key-ttl")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key-del", "v", time.Minute))
	require.NoError(t, m.Delete(ctx, "key-del"))

	_, found, err := m.Get(ctx, "key-del")
	require.NoError(t, err)
	assert.False(t, found)
}
