// Copyright (c) MindFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 MindFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 MindFlow 所有 HTTP 端点的请求处理逻辑，
包括编排请求、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - OrchestrateHandler — 编排请求处理器 (POST /orchestrate)
  - HealthHandler      — 服务健康检查与后端健康状态 (/health, /healthz, /providers)

# 主要能力

  - 统一响应格式：WriteJSON / WriteError 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorKind → HTTP 状态码自动映射（4xx/5xx）
  - 后端健康快照：HealthHandler 暴露注册表中各后端的熔断状态
*/
package handlers
