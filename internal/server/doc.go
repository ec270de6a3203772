// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
包 server 管理 HTTP 服务器生命周期：非阻塞启动、优雅关闭与异步错误传播。

API 服务与 Prometheus metrics 服务各自使用一个 Manager。
Run 阻塞到 ctx 结束（通常来自 signal.NotifyContext）后执行 Shutdown，
在 ShutdownTimeout 内排空进行中的请求。
*/
package server
