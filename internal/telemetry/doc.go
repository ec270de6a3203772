// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 集中配置 TracerProvider 和 MeterProvider。
// 未启用时使用 noop 实现，不连接任何外部服务。
package telemetry
