// =============================================================================
// 📦 MindFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MINDFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/mindflow/memory"
	"github.com/BaSui01/mindflow/orchestrator"
	"github.com/BaSui01/mindflow/pipeline"
	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/router"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MindFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Database 数据库配置（记忆存储）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 缓存配置（幂等缓存）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Providers 后端列表
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Health 健康状态机阈值
	Health provider.HealthThresholds `yaml:"health" env:"-"`

	// Probe 周期探活配置
	Probe provider.ProberConfig `yaml:"probe" env:"-"`

	// Router 回退路由配置
	Router router.Config `yaml:"router" env:"-"`

	// Memory 记忆存储与检索配置
	Memory MemoryConfig `yaml:"memory" env:"-"`

	// Pipeline 管线阶段配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"-"`

	// Engine 编排引擎配置
	Engine orchestrator.Config `yaml:"engine" env:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 单客户端速率限制（每秒请求数，0 表示不限流）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 速率限制突发额度
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用（禁用时不使用幂等缓存）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// ProviderConfig 单个后端的静态配置
type ProviderConfig struct {
	// ID 后端唯一标识
	ID string `yaml:"id"`
	// Type 实现类型: openai, anthropic
	Type string `yaml:"type"`
	// APIKey 凭证（支持 ${ENV_VAR} 引用）
	APIKey string `yaml:"api_key"`
	// BaseURL 自定义网关地址
	BaseURL string `yaml:"base_url"`
	// Model 补全模型
	Model string `yaml:"model"`
	// EmbeddingModel 嵌入模型（仅 openai）
	EmbeddingModel string `yaml:"embedding_model"`
	// Capabilities 声明能力: completion, embedding
	Capabilities []string `yaml:"capabilities"`
	// CostTier 成本档位
	CostTier int `yaml:"cost_tier"`
	// RateLimitPerMin 声明速率上限
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	// PriorityWeight 优先级权重
	PriorityWeight float64 `yaml:"priority_weight"`
}

// Descriptor 转换为注册表描述符
func (p *ProviderConfig) Descriptor() provider.Descriptor {
	caps := make([]provider.Capability, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		caps = append(caps, provider.Capability(c))
	}
	return provider.Descriptor{
		ID:              p.ID,
		Capabilities:    caps,
		CostTier:        p.CostTier,
		RateLimitPerMin: p.RateLimitPerMin,
		PriorityWeight:  p.PriorityWeight,
	}
}

// MemoryConfig 记忆存储与检索配置
type MemoryConfig struct {
	// Enabled 是否启用记忆（禁用时请求不带记忆上下文）
	Enabled bool `yaml:"enabled"`
	// Store 存储配置
	Store memory.GormStoreConfig `yaml:"store"`
	// Retrieval 分档检索配置
	Retrieval memory.RetrieverConfig `yaml:"retrieval"`
	// Sweep 过期清理配置
	Sweep memory.SweeperConfig `yaml:"sweep"`
}

// PipelineConfig 管线阶段配置
type PipelineConfig struct {
	// Classifier 输入分类配置
	Classifier pipeline.ClassifierConfig `yaml:"classifier"`
	// Completion 补全阶段配置
	Completion pipeline.CompletionConfig `yaml:"completion"`
	// Validate 响应校验配置
	Validate pipeline.ValidateConfig `yaml:"validate"`
	// Facts 声明式知识库
	Facts []pipeline.KnowledgeFact `yaml:"facts"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MINDFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 展开 Provider 凭证中的 ${ENV_VAR} 引用
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = expandEnvRef(cfg.Providers[i].APIKey)
	}

	// 5. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// expandEnvRef 展开 ${ENV_VAR} 形式的环境变量引用
func expandEnvRef(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	}
	return value
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	// 验证后端配置
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, "provider id is required")
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("duplicate provider id %q", p.ID))
		}
		seen[p.ID] = true
		if p.Type != "openai" && p.Type != "anthropic" {
			errs = append(errs, fmt.Sprintf("provider %s: unknown type %q", p.ID, p.Type))
		}
		if len(p.Capabilities) == 0 {
			errs = append(errs, fmt.Sprintf("provider %s: no capabilities declared", p.ID))
		}
	}

	// 验证记忆配置
	if c.Memory.Enabled && c.Database.Driver == "" {
		errs = append(errs, "memory enabled but no database driver configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
