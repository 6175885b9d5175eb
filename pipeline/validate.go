package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/types"
)

// ValidateConfig 响应校验配置。
type ValidateConfig struct {
	// TimeBoundaryYear 知识时间边界：答案声称知晓此后年份的事件视为违例
	TimeBoundaryYear int `yaml:"time_boundary_year"`
	// HedgePrefix 降级为低置信答案时的显式标记前缀
	HedgePrefix string `yaml:"hedge_prefix"`
}

// DefaultValidateConfig 返回默认校验配置。
func DefaultValidateConfig() ValidateConfig {
	return ValidateConfig{
		TimeBoundaryYear: 2026,
		HedgePrefix:      "[low confidence] ",
	}
}

var (
	yearPattern      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	nameClaimPattern = regexp.MustCompile(`(?i)\byour name is ([\p{L}]+)`)
	nameFactPattern  = regexp.MustCompile(`(?i)\bmy name is ([\p{L}]+)`)
)

// ValidateStage 响应校验阶段。
// 对候选答案做一致性启发式检查；失败时用更严格的指令重新生成一次，
// 仍失败则降级为显式标记的低置信答案，而不是让请求整体失败。
type ValidateStage struct {
	completer *CompleteStage
	config    ValidateConfig
	logger    *zap.Logger
}

// NewValidateStage 创建校验阶段。
func NewValidateStage(completer *CompleteStage, config ValidateConfig, logger *zap.Logger) *ValidateStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TimeBoundaryYear == 0 {
		config = DefaultValidateConfig()
	}
	return &ValidateStage{
		completer: completer,
		config:    config,
		logger:    logger.With(zap.String("stage", "validate")),
	}
}

func (s *ValidateStage) Name() string { return "validate" }

// Process 实现 Stage.Process。
func (s *ValidateStage) Process(ctx context.Context, ex *Exchange) error {
	violation := s.check(ex, ex.FinalText)
	if violation == "" {
		ex.Verdict = types.VerdictApproved
		ex.State = StateValidated
		return nil
	}

	s.logger.Warn("response failed consistency check, regenerating",
		zap.String("violation", violation))

	// 单次重新生成：附加更严格的指令
	instruction := fmt.Sprintf(
		"Answer strictly from the provided context. Do not claim knowledge of events after %d. Do not contradict facts stated in the context.",
		s.config.TimeBoundaryYear)
	regenerated, err := s.completer.Regenerate(ctx, ex, instruction)
	if err == nil {
		if v := s.check(ex, regenerated.Completion.Text); v == "" {
			ex.FinalText = regenerated.Completion.Text
			ex.Verdict = types.VerdictApproved
			ex.State = StateValidated
			return nil
		}
	}

	// 重新生成后仍不通过：降级为显式低置信答案
	ex.FinalText = s.config.HedgePrefix + ex.FinalText
	ex.Verdict = types.VerdictHedged
	ex.Hedged = true
	ex.Warn(string(types.ErrValidationFailed))
	ex.State = StateValidated

	s.logger.Warn("response downgraded to hedged answer",
		zap.String("violation", violation))
	return nil
}

// check 返回第一条违例描述；通过返回空串。
func (s *ValidateStage) check(ex *Exchange, text string) string {
	if v := s.checkTimeBoundary(text); v != "" {
		return v
	}
	if v := s.checkMemoryContradiction(ex, text); v != "" {
		return v
	}
	return ""
}

// checkTimeBoundary 检查答案是否声称知晓时间边界之后的事件。
func (s *ValidateStage) checkTimeBoundary(text string) string {
	for _, match := range yearPattern.FindAllString(text, -1) {
		year, err := strconv.Atoi(match)
		if err != nil {
			continue
		}
		if year > s.config.TimeBoundaryYear {
			return fmt.Sprintf("claims knowledge of year %d beyond boundary %d", year, s.config.TimeBoundaryYear)
		}
	}
	return ""
}

// checkMemoryContradiction 检查答案是否与高置信记忆事实冲突。
// 目前针对姓名类事实：记忆记录 "my name is X" 与答案 "your name is Y" 冲突。
func (s *ValidateStage) checkMemoryContradiction(ex *Exchange, text string) string {
	if ex.Memory == nil || ex.Memory.Result == nil {
		return ""
	}

	claimed := ""
	if m := nameClaimPattern.FindStringSubmatch(text); m != nil {
		claimed = strings.ToLower(m[1])
	}
	if claimed == "" {
		return ""
	}

	for _, sr := range ex.Memory.Result.Records {
		if sr.Record.Importance < 4 {
			continue
		}
		if m := nameFactPattern.FindStringSubmatch(sr.Record.Content); m != nil {
			known := strings.ToLower(m[1])
			if known != claimed {
				return fmt.Sprintf("answer claims name %q but memory records %q", claimed, known)
			}
		}
	}
	return ""
}
