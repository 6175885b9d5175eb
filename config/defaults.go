// =============================================================================
// 📦 MindFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/mindflow/memory"
	"github.com/BaSui01/mindflow/orchestrator"
	"github.com/BaSui01/mindflow/pipeline"
	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/router"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Log:      DefaultLogConfig(),
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
		Health:   provider.DefaultHealthThresholds(),
		Probe:    provider.DefaultProberConfig(),
		Router:   router.DefaultConfig(),
		Memory:   DefaultMemoryConfig(),
		Pipeline: DefaultPipelineConfig(),
		Engine:   orchestrator.DefaultConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "mindflow",
		Name:            "mindflow",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultMemoryConfig 返回默认记忆配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Enabled:   true,
		Store:     memory.DefaultGormStoreConfig(),
		Retrieval: memory.DefaultRetrieverConfig(),
		Sweep:     memory.DefaultSweeperConfig(),
	}
}

// DefaultPipelineConfig 返回默认管线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Classifier: pipeline.DefaultClassifierConfig(),
		Completion: pipeline.DefaultCompletionConfig(),
		Validate:   pipeline.DefaultValidateConfig(),
	}
}
