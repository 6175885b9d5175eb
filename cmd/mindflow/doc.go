// Copyright (c) MindFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MindFlow 服务端程序入口。

# 概述

cmd/mindflow 是 MindFlow 编排核心的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、.env 文件
（godotenv）、结构化日志（zap）与 Prometheus 指标采集。

# 核心类型

  - Server           — 主服务器，管理后端注册表、记忆存储、编排引擎
    以及 HTTP、Metrics 双端口的优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    RateLimiter（基于 IP 的令牌桶）
  - 组件装配：配置 → 数据库 → 后端注册表 + 探针 → 记忆存储 + 清理器
    → 检索器 → 回退路由 → 处理管线 → 编排引擎
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 停止探针与清理器
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
