package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/mindflow/orchestrator"
	"github.com/BaSui01/mindflow/types"
)

// =============================================================================
// 🧠 编排请求 Handler
// =============================================================================

// OrchestrateHandler 编排请求处理器
type OrchestrateHandler struct {
	engine *orchestrator.Engine
	logger *zap.Logger
}

// NewOrchestrateHandler 创建编排处理器
func NewOrchestrateHandler(engine *orchestrator.Engine, logger *zap.Logger) *OrchestrateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrchestrateHandler{
		engine: engine,
		logger: logger.With(zap.String("handler", "orchestrate")),
	}
}

// HandleOrchestrate 处理 POST /orchestrate 请求
// @Summary 编排一次查询
// @Description 接收单条用户查询，返回带记忆引用与校验结论的最终答案
// @Tags 编排
// @Accept json
// @Produce json
// @Success 200 {object} types.OrchestrationResponse "编排成功"
// @Failure 400 {object} types.OrchestrationResponse "输入被拒绝"
// @Failure 503 {object} types.OrchestrationResponse "所有后端不可用"
// @Failure 504 {object} types.OrchestrationResponse "请求超时"
// @Router /orchestrate [post]
func (h *OrchestrateHandler) HandleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, types.NewError(types.ErrRejectedInput, "method not allowed").
			WithHTTPStatus(http.StatusMethodNotAllowed), h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req types.OrchestrationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	resp := h.engine.Orchestrate(r.Context(), &req)

	status := http.StatusOK
	if resp.Error != nil {
		status = MapErrorKindToHTTPStatus(types.ErrorKind(resp.Error.Kind))
		h.logger.Warn("orchestration request failed",
			zap.String("user_id", req.UserID),
			zap.String("kind", resp.Error.Kind),
			zap.Int("status", status))
	}

	WriteJSON(w, status, resp)
}
