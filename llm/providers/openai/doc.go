// Package openai 提供 OpenAI Chat Completions 的 Provider 适配，
// 复用 openaicompat 的 HTTP 与 SSE 处理，额外支持 OpenAI-Organization 头。
package openai
