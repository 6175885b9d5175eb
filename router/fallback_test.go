package router_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/internal/metrics"
	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/router"
	"github.com/BaSui01/mindflow/testutil"
	"github.com/BaSui01/mindflow/testutil/mocks"
	"github.com/BaSui01/mindflow/types"
)

func setupRouter(t *testing.T, providers ...*mocks.MockProvider) (*router.FallbackRouter, *provider.Registry) {
	t.Helper()
	registry := provider.NewRegistry(provider.DefaultHealthThresholds(), zap.NewNop())
	weight := float64(len(providers) * 10)
	for _, p := range providers {
		require.NoError(t, registry.Register(provider.Descriptor{
			ID:             p.Name(),
			Capabilities:   []provider.Capability{provider.CapabilityCompletion},
			PriorityWeight: weight,
		}, p))
		weight -= 10
	}
	return router.NewFallbackRouter(registry, router.DefaultConfig(), zap.NewNop()), registry
}

func completionReq() *provider.CompletionRequest {
	return &provider.CompletionRequest{Prompt: "hello"}
}

func TestExecute_FirstCandidateSucceeds(t *testing.T) {
	primary := mocks.NewMockProvider("primary").WithResponse("primary says hi")
	backup := mocks.NewMockProvider("backup")
	r, registry := setupRouter(t, primary, backup)

	res, err := r.Execute(context.Background(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.NoError(t, err)

	assert.Equal(t, "primary says hi", res.Completion.Text)
	assert.Equal(t, "primary", res.ProviderUsed)
	assert.False(t, res.FallbackUsed)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 0, backup.CallCount())
}

func TestExecute_FallsBackToNextCandidate(t *testing.T) {
	primary := mocks.NewMockProvider("primary").
		WithError(types.NewError(types.ErrUnauthorized, "bad key"))
	backup := mocks.NewMockProvider("backup").WithResponse("backup answer")
	r, registry := setupRouter(t, primary, backup)

	res, err := r.Execute(context.Background(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.NoError(t, err)

	assert.Equal(t, "backup answer", res.Completion.Text)
	assert.Equal(t, "backup", res.ProviderUsed)
	assert.True(t, res.FallbackUsed)
	require.Len(t, res.Attempts, 2)
	assert.Error(t, res.Attempts[0].Err)
	assert.NoError(t, res.Attempts[1].Err)

	// 失败已上报：primary 降级
	h, _ := registry.Health("primary")
	assert.Equal(t, provider.StateDegraded, h.State)
}

func TestExecute_EmptyCompletionIsFailure(t *testing.T) {
	primary := mocks.NewMockProvider("primary").WithResponse("")
	backup := mocks.NewMockProvider("backup").WithResponse("real answer")
	r, registry := setupRouter(t, primary, backup)

	res, err := r.Execute(context.Background(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.NoError(t, err)

	assert.Equal(t, "backup", res.ProviderUsed)
	assert.True(t, res.FallbackUsed)
}

func TestExecute_TransientErrorRetriesSameProvider(t *testing.T) {
	flaky := mocks.NewMockProvider("flaky").
		WithResponse("recovered").
		WithError(types.NewError(types.ErrUpstreamError, "blip").WithRetryable(true)).
		FailTimes(1)
	r, registry := setupRouter(t, flaky)

	res, err := r.Execute(context.Background(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.NoError(t, err)

	assert.Equal(t, "recovered", res.Completion.Text)
	assert.False(t, res.FallbackUsed)
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Retried)
	assert.Equal(t, 2, flaky.CallCount())
}

func TestExecute_NonRetryableErrorSkipsRetry(t *testing.T) {
	bad := mocks.NewMockProvider("bad").
		WithError(types.NewError(types.ErrUnauthorized, "forbidden"))
	r, registry := setupRouter(t, bad)

	_, err := r.Execute(context.Background(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.Error(t, err)
	assert.Equal(t, 1, bad.CallCount(), "permanent errors are not retried on the same provider")
}

func TestExecute_AllCandidatesFail(t *testing.T) {
	a := mocks.NewMockProvider("a").WithError(errors.New("down"))
	b := mocks.NewMockProvider("b").WithError(errors.New("also down"))
	r, registry := setupRouter(t, a, b)

	_, err := r.Execute(context.Background(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorKind(err))
	assert.Contains(t, err.Error(), "a: ")
	assert.Contains(t, err.Error(), "b: ")
}

func TestExecute_NoCandidates(t *testing.T) {
	r, _ := setupRouter(t, mocks.NewMockProvider("unused"))

	_, err := r.Execute(context.Background(), completionReq(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorKind(err))
}

func TestExecute_ExpiredDeadline(t *testing.T) {
	p := mocks.NewMockProvider("p")
	r, registry := setupRouter(t, p)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := r.Execute(ctx, completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.Error(t, err)
	assert.Equal(t, types.ErrDeadlineExceeded, types.GetErrorKind(err))
	assert.Equal(t, 0, p.CallCount())
}

func TestExecute_DeadlineStopsFallbackMidway(t *testing.T) {
	slow := mocks.NewMockProvider("slow").
		WithLatency(300 * time.Millisecond).
		WithError(errors.New("slow failure"))
	backup := mocks.NewMockProvider("backup")
	r, registry := setupRouter(t, slow, backup)

	ctx := testutil.TestContextWithTimeout(t, 150*time.Millisecond)

	_, err := r.Execute(ctx, completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.Error(t, err)
	assert.Equal(t, types.ErrDeadlineExceeded, types.GetErrorKind(err))
	assert.Equal(t, 0, backup.CallCount(), "no fallback once the request deadline passed")
}

func TestExecute_CancelledContextNoAttempts(t *testing.T) {
	p := mocks.NewMockProvider("p").WithResponse("unreachable")
	r, registry := setupRouter(t, p)

	_, err := r.Execute(testutil.CancelledContext(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.Error(t, err)
	assert.Equal(t, types.ErrDeadlineExceeded, types.GetErrorKind(err))
	assert.Equal(t, 0, p.CallCount())
}

func TestExecute_RecordsProviderAttemptMetrics(t *testing.T) {
	failing := mocks.NewMockProvider("failing").
		WithError(types.NewError(types.ErrUnauthorized, "bad key"))
	backup := mocks.NewMockProvider("backup").WithResponse("ok")
	r, registry := setupRouter(t, failing, backup)
	r.WithCollector(metrics.NewCollector("mfrouter", zap.NewNop()))

	_, err := r.Execute(context.Background(), completionReq(),
		registry.Candidates(provider.CapabilityCompletion, true))
	require.NoError(t, err)

	// 每次尝试一条 {provider, status} 序列：failing 失败 + backup 成功
	n, err := promtestutil.GatherAndCount(prometheus.DefaultGatherer,
		"mfrouter_provider_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
