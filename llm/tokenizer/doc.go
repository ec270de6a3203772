// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器兜底，用于统计生成答案消耗的 token。
package tokenizer
