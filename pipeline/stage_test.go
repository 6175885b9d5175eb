package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mindflow/memory"
	"github.com/BaSui01/mindflow/pipeline"
	"github.com/BaSui01/mindflow/types"
)

// recordingStage 记录调用次数的测试阶段。
type recordingStage struct {
	name    string
	calls   int
	fail    *types.Error
	procErr error
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) Process(_ context.Context, ex *pipeline.Exchange) error {
	s.calls++
	if s.fail != nil {
		ex.Fail(s.fail)
	}
	return s.procErr
}

func TestChain_RunsAllStagesOnSuccess(t *testing.T) {
	a := &recordingStage{name: "a"}
	b := &recordingStage{name: "b"}
	final := &recordingStage{name: "final"}
	chain := pipeline.NewChain([]pipeline.Stage{a, b}, final, nil)

	ex := pipeline.NewExchange(&types.OrchestrationRequest{UserID: "u", Message: "hi"})
	chain.Run(context.Background(), ex)

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, final.calls)
	assert.Equal(t, pipeline.StateDone, ex.State)
	assert.Nil(t, ex.Err)
}

func TestChain_FailureSkipsRemainingButRunsFinal(t *testing.T) {
	a := &recordingStage{name: "a", fail: types.NewError(types.ErrRejectedInput, "bad input")}
	b := &recordingStage{name: "b"}
	final := &recordingStage{name: "final"}
	chain := pipeline.NewChain([]pipeline.Stage{a, b}, final, nil)

	ex := pipeline.NewExchange(&types.OrchestrationRequest{UserID: "u", Message: "hi"})
	chain.Run(context.Background(), ex)

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls, "stages after failure must be skipped")
	assert.Equal(t, 1, final.calls, "monitoring stage always runs")
	assert.Equal(t, pipeline.StateError, ex.State)
	require.NotNil(t, ex.Err)
	assert.Equal(t, types.ErrRejectedInput, ex.Err.Kind)
}

func TestChain_UnexpectedStageErrorWrapsInternal(t *testing.T) {
	a := &recordingStage{name: "a", procErr: errors.New("boom")}
	b := &recordingStage{name: "b"}
	chain := pipeline.NewChain([]pipeline.Stage{a, b}, nil, nil)

	ex := pipeline.NewExchange(&types.OrchestrationRequest{UserID: "u", Message: "hi"})
	chain.Run(context.Background(), ex)

	assert.Equal(t, 0, b.calls)
	require.NotNil(t, ex.Err)
	assert.Equal(t, types.ErrInternalError, ex.Err.Kind)
	assert.Contains(t, ex.Err.Message, "stage a")
}

func TestMonitor_NeverFailsExchange(t *testing.T) {
	stage := pipeline.NewMonitorStage(nil, nil)

	ex := pipeline.NewExchange(&types.OrchestrationRequest{UserID: "u", Message: "hi"})
	ex.Verdict = types.VerdictApproved
	require.NoError(t, stage.Process(context.Background(), ex))
	assert.Equal(t, pipeline.StateRecorded, ex.State)

	failed := pipeline.NewExchange(&types.OrchestrationRequest{UserID: "u", Message: "hi"})
	failed.Fail(types.NewError(types.ErrProviderUnavailable, "all backends down"))
	require.NoError(t, stage.Process(context.Background(), failed))
	assert.Equal(t, pipeline.StateError, failed.State, "monitor preserves the error state")
}

func TestMonitor_RedactsSensitiveMemoryContent(t *testing.T) {
	stage := pipeline.NewMonitorStage(nil, nil)

	mem := memoryWithNameFact("rec-1", "my ssn is 123-45-6789")
	mem.Result.Records[0].Record.TagList = memory.Tags{pipeline.TagSensitive}

	ex := pipeline.NewExchange(&types.OrchestrationRequest{UserID: "u", Message: "what do you know?"})
	ex.Memory = mem
	ex.FinalText = "You told me: my ssn is 123-45-6789."

	require.NoError(t, stage.Process(context.Background(), ex))

	assert.Equal(t, "You told me: [redacted].", ex.FinalText)
}

func TestExchange_WarnDeduplicates(t *testing.T) {
	ex := pipeline.NewExchange(&types.OrchestrationRequest{UserID: "u", Message: "hi"})
	ex.Warn("a")
	ex.Warn("b")
	ex.Warn("a")
	assert.Equal(t, []string{"a", "b"}, ex.Warnings)
}
