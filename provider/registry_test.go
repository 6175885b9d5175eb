package provider_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/internal/metrics"
	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/testutil/mocks"
)

func completionDesc(id string, weight float64) provider.Descriptor {
	return provider.Descriptor{
		ID:             id,
		Capabilities:   []provider.Capability{provider.CapabilityCompletion},
		PriorityWeight: weight,
	}
}

func newRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	return provider.NewRegistry(provider.DefaultHealthThresholds(), zap.NewNop())
}

func TestRegister_DuplicateID(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("a", 1), mocks.NewMockProvider("a")))

	err := r.Register(completionDesc("a", 1), mocks.NewMockProvider("a"))
	assert.ErrorContains(t, err, "already registered")
}

func TestRegister_InvalidDescriptor(t *testing.T) {
	r := newRegistry(t)

	err := r.Register(provider.Descriptor{ID: "no-caps"}, mocks.NewMockProvider("no-caps"))
	assert.Error(t, err)

	err = r.Register(completionDesc("nil-impl", 1), nil)
	assert.ErrorContains(t, err, "nil implementation")
}

func TestCandidates_OrderedByWeight(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("low", 1), mocks.NewMockProvider("low")))
	require.NoError(t, r.Register(completionDesc("high", 10), mocks.NewMockProvider("high")))
	require.NoError(t, r.Register(completionDesc("mid", 5), mocks.NewMockProvider("mid")))

	cands := r.Candidates(provider.CapabilityCompletion, true)
	require.Len(t, cands, 3)
	assert.Equal(t, "high", cands[0].Descriptor.ID)
	assert.Equal(t, "mid", cands[1].Descriptor.ID)
	assert.Equal(t, "low", cands[2].Descriptor.ID)
}

func TestCandidates_DegradedSortsAfterHealthy(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("a", 10), mocks.NewMockProvider("a")))
	require.NoError(t, r.Register(completionDesc("b", 1), mocks.NewMockProvider("b")))

	// 一次失败即降级
	r.ReportOutcome("a", provider.Outcome{Success: false})

	cands := r.Candidates(provider.CapabilityCompletion, true)
	require.Len(t, cands, 2)
	assert.Equal(t, "b", cands[0].Descriptor.ID)
	assert.Equal(t, provider.StateDegraded, cands[1].Health.State)
}

func TestCandidates_FiltersByCapability(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("completion-only", 1), mocks.NewMockProvider("completion-only")))
	require.NoError(t, r.Register(provider.Descriptor{
		ID:             "embed-only",
		Capabilities:   []provider.Capability{provider.CapabilityEmbedding},
		PriorityWeight: 10,
	}, mocks.NewMockProvider("embed-only")))

	cands := r.Candidates(provider.CapabilityCompletion, true)
	require.Len(t, cands, 1)
	assert.Equal(t, "completion-only", cands[0].Descriptor.ID)

	cands = r.Candidates(provider.CapabilityEmbedding, true)
	require.Len(t, cands, 1)
	assert.Equal(t, "embed-only", cands[0].Descriptor.ID)
}

func TestCandidates_ExcludesOpen(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("a", 10), mocks.NewMockProvider("a")))
	require.NoError(t, r.Register(completionDesc("b", 1), mocks.NewMockProvider("b")))

	openProvider(r, "a")

	cands := r.Candidates(provider.CapabilityCompletion, true)
	require.Len(t, cands, 1)
	assert.Equal(t, "b", cands[0].Descriptor.ID)
	assert.False(t, cands[0].Forced)
}

func TestCandidates_AllOpen_ForcedProbe(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("first", 1), mocks.NewMockProvider("first")))
	require.NoError(t, r.Register(completionDesc("second", 1), mocks.NewMockProvider("second")))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	r.SetNowFunc(func() time.Time { return clock })

	openProvider(r, "first")
	clock = clock.Add(time.Second)
	openProvider(r, "second")

	cands := r.Candidates(provider.CapabilityCompletion, true)
	require.Len(t, cands, 1)
	assert.Equal(t, "first", cands[0].Descriptor.ID, "earliest-opened provider is the forced probe")
	assert.True(t, cands[0].Forced)
}

func TestCandidates_RateLimitPenaltyReordersButKeepsEligible(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("fast", 10), mocks.NewMockProvider("fast")))
	require.NoError(t, r.Register(completionDesc("slow", 6), mocks.NewMockProvider("slow")))

	// 权重打折：10 * 0.5 = 5 < 6，排到 slow 之后，但仍是候选
	r.ReportOutcome("fast", provider.Outcome{RateLimited: true})

	cands := r.Candidates(provider.CapabilityCompletion, true)
	require.Len(t, cands, 2)
	assert.Equal(t, "slow", cands[0].Descriptor.ID)
	assert.Equal(t, "fast", cands[1].Descriptor.ID)
	assert.Equal(t, provider.StateHealthy, cands[1].Health.State, "rate limit never opens the circuit")
}

func TestStaleProviders(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(completionDesc("good", 1), mocks.NewMockProvider("good")))
	require.NoError(t, r.Register(completionDesc("bad", 1), mocks.NewMockProvider("bad")))

	assert.Empty(t, r.StaleProviders())

	r.ReportOutcome("bad", provider.Outcome{Success: false})
	assert.Equal(t, []string{"bad"}, r.StaleProviders())
}

func TestStaleProviders_OpenCooldownGatesProbing(t *testing.T) {
	r := newRegistry(t)
	now := time.Now()
	r.SetNowFunc(func() time.Time { return now })
	require.NoError(t, r.Register(completionDesc("p", 1), mocks.NewMockProvider("p")))

	openProvider(r, "p")

	// 冷却期内不探活：Open 后端的探活成功会被丢弃
	assert.Empty(t, r.StaleProviders())

	now = now.Add(provider.DefaultHealthThresholds().OpenCooldown + time.Second)
	assert.Equal(t, []string{"p"}, r.StaleProviders())
}

func TestReportOutcome_UpdatesHealthGauge(t *testing.T) {
	r := newRegistry(t).WithCollector(metrics.NewCollector("mfregistry", zap.NewNop()))
	require.NoError(t, r.Register(completionDesc("p1", 1), mocks.NewMockProvider("p1")))

	r.ReportOutcome("p1", provider.Outcome{Success: false})

	expected := `
# HELP mfregistry_provider_health_state Provider health state (0=Healthy, 1=Degraded, 2=Open)
# TYPE mfregistry_provider_health_state gauge
mfregistry_provider_health_state{provider="p1"} 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(prometheus.DefaultGatherer,
		strings.NewReader(expected), "mfregistry_provider_health_state"))
}

// openProvider 连续上报失败直到后端熔断。
func openProvider(r *provider.Registry, id string) {
	for i := 0; i < provider.DefaultHealthThresholds().FailuresToOpen+1; i++ {
		r.ReportOutcome(id, provider.Outcome{Success: false})
	}
}
