// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力，
为嵌入向量缓存提供共享存储。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete 与 GetJSON/SetJSON，
    所有键自动加上 KeyPrefix。
  - Config：地址、密码、连接池、默认 TTL、TLS 开关与健康检查间隔。
  - Stats：命中/未命中次数、键数量、内存与连接数，解析自 INFO。

# 错误语义

未命中返回 ErrCacheMiss（用 IsCacheMiss 判断），关闭后调用返回 ErrClosed。
*/
package cache
