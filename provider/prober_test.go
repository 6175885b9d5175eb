package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/testutil/mocks"
)

// testClock 注入注册表的可推进时钟。
type testClock struct {
	now time.Time
}

func newTestClock(r *provider.Registry) *testClock {
	c := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r.SetNowFunc(func() time.Time { return c.now })
	return c
}

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestProbe_SuccessHealsOpenProvider(t *testing.T) {
	r := newRegistry(t)
	mock := mocks.NewMockProvider("a")
	require.NoError(t, r.Register(completionDesc("a", 1), mock))

	clock := newTestClock(r)
	openProvider(r, "a")

	h, _ := r.Health("a")
	require.Equal(t, provider.StateOpen, h.State)

	// 冷却期结束后探活成功 → Degraded
	clock.advance(provider.DefaultHealthThresholds().OpenCooldown)
	p := provider.NewProber(r, provider.DefaultProberConfig(), zap.NewNop())
	assert.True(t, p.Probe(context.Background(), "a"))
	assert.Equal(t, 1, mock.ProbeCount())

	h, _ = r.Health("a")
	assert.Equal(t, provider.StateDegraded, h.State)
}

func TestProbe_FailureKeepsProviderOpen(t *testing.T) {
	r := newRegistry(t)
	mock := mocks.NewMockProvider("a").WithProbeError(errors.New("still down"))
	require.NoError(t, r.Register(completionDesc("a", 1), mock))

	openProvider(r, "a")

	p := provider.NewProber(r, provider.DefaultProberConfig(), zap.NewNop())
	assert.False(t, p.Probe(context.Background(), "a"))

	h, _ := r.Health("a")
	assert.Equal(t, provider.StateOpen, h.State)
}

func TestProbe_UnknownProvider(t *testing.T) {
	r := newRegistry(t)
	p := provider.NewProber(r, provider.DefaultProberConfig(), zap.NewNop())
	assert.False(t, p.Probe(context.Background(), "missing"))
}

func TestProbeStale_SkipsHealthyProviders(t *testing.T) {
	r := newRegistry(t)
	healthy := mocks.NewMockProvider("healthy")
	degraded := mocks.NewMockProvider("degraded")
	require.NoError(t, r.Register(completionDesc("healthy", 1), healthy))
	require.NoError(t, r.Register(completionDesc("degraded", 1), degraded))

	r.ReportOutcome("degraded", provider.Outcome{Success: false})

	p := provider.NewProber(r, provider.DefaultProberConfig(), zap.NewNop())
	p.ProbeStale(context.Background())

	assert.Equal(t, 0, healthy.ProbeCount(), "healthy providers are not probed")
	assert.Equal(t, 1, degraded.ProbeCount())
}
