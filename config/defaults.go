// =============================================================================
// 📦 campusrag 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		VectorStore: DefaultVectorStoreConfig(),
		LLM:         DefaultLLMConfig(),
		Embedding:   DefaultEmbeddingConfig(),
		Rerank:      DefaultRerankConfig(),
		RAG:         DefaultRAGConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		CORSAllowedOrigins: []string{"*"},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           1,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "campusrag",
		Password:        "",
		Name:            "campusrag.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultVectorStoreConfig 返回默认向量索引配置
func DefaultVectorStoreConfig() VectorStoreConfig {
	return VectorStoreConfig{
		Backend:         "memory",
		Collection:      "ucl_knowledge",
		VectorSize:      1024,
		Distance:        "cosine",
		QdrantURL:       "http://localhost:6333",
		HNSWM:           16,
		HNSWEfConstruct: 100,
		Timeout:         30 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "deepseek",
		BaseURL:    "https://api.deepseek.com",
		Model:      "deepseek-chat",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// DefaultEmbeddingConfig 返回默认 embedding 配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:     "hash",
		Model:        "hash-1024",
		Dimensions:   1024,
		CacheBackend: "memory",
		CacheTTL:     24 * time.Hour,
		Timeout:      30 * time.Second,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Provider: "lexical",
		Timeout:  30 * time.Second,
	}
}

// DefaultRAGConfig 返回默认检索与生成参数
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		ChunkSize:        512,
		ChunkOverlap:     50,
		TopK:             5,
		VectorWeight:     0.7,
		TextWeight:       0.3,
		MMRLambda:        0.7,
		RRFK:             60,
		MaxContextLength: 3000,
		Temperature:      0.3,
		MaxTokens:        800,
		EnableReranking:  true,
		EnableDiversity:  false,
		MultiQuery:       false,
		UseAgents:        true,
		Concurrency:      4,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "campusrag",
		SampleRate:   0.1,
	}
}
