// Copyright 2026 MindFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 MindFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor，支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON，简化测试数据构造

# 子包

  - testutil/mocks: Mock 实现，包括 MockProvider（补全/嵌入后端）与
    MockStore（记忆存储），均支持 Builder 模式与错误注入
  - testutil/fixtures: 测试数据工厂，提供预置编排请求与记忆记录样例

# 使用示例

	ctx := testutil.TestContext(t)
	p := mocks.NewMockProvider("primary").WithResponse("hello")
	result, err := p.GenerateCompletion(ctx, req)
*/
package testutil
