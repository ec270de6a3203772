// Package config 提供 campusrag 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（CAMPUSRAG_ 前缀）的顺序叠加，
// 覆盖服务器、向量索引、LLM、embedding、重排序与 RAG 检索参数。
package config
