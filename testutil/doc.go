/*
Package testutil 提供 campusrag 测试共享的工具函数。

  - 上下文辅助: TestContext（自动注册 Cleanup）/ CancelledContext
  - 通道辅助: DrainChannel，用于流式事件断言

# 子包

  - testutil/mocks: MockProvider（LLM Provider，支持固定响应、流式块、延迟与错误注入）
    和 CountingEmbedder（记录调用次数的确定性 Embedder）
*/
package testutil
