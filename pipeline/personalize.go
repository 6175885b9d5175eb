package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// PersonalizeStage 个性化调整阶段。
// 只使用已进入上下文的记忆引用来改写/补充答案，
// 绝不注入记忆中不存在的个人信息。
type PersonalizeStage struct {
	logger *zap.Logger
}

// NewPersonalizeStage 创建个性化阶段。
func NewPersonalizeStage(logger *zap.Logger) *PersonalizeStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersonalizeStage{
		logger: logger.With(zap.String("stage", "personalize")),
	}
}

func (s *PersonalizeStage) Name() string { return "personalize" }

// Process 实现 Stage.Process。
func (s *PersonalizeStage) Process(_ context.Context, ex *Exchange) error {
	defer func() { ex.State = StatePersonalized }()

	if ex.Category != CategoryPersonal || ex.Memory == nil {
		return nil
	}

	refs := make(map[string]bool, len(ex.Memory.ReferenceIDs))
	for _, id := range ex.Memory.ReferenceIDs {
		refs[id] = true
	}

	// 从被引用的记忆中提取用户姓名；答案缺失时补充
	for _, sr := range ex.Memory.Result.Records {
		if !refs[sr.Record.ID] {
			continue
		}
		m := nameFactPattern.FindStringSubmatch(sr.Record.Content)
		if m == nil {
			continue
		}
		name := m[1]
		if !strings.Contains(strings.ToLower(ex.FinalText), strings.ToLower(name)) {
			ex.FinalText = strings.TrimRight(ex.FinalText, " \n") + " Your name is " + name + "."
			s.logger.Debug("answer personalized with recalled name",
				zap.String("record_id", sr.Record.ID))
		}
		break
	}

	return nil
}
