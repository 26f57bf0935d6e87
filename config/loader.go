// =============================
// AnimaWatch 配置加载器
// =============================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("animawatch.yaml").
//	    WithEnvPrefix("ANIMAWATCH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 AnimaWatch 的完整配置结构
type Config struct {
	// Vision 视觉后端配置
	Vision VisionConfig `yaml:"vision" env:"VISION"`

	// Cache 内存分析缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 可选的第二层缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Retry 重试策略配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Breaker 熔断器配置
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Concurrency 并发与限速配置
	Concurrency ConcurrencyConfig `yaml:"concurrency" env:"CONCURRENCY"`

	// Browser 页面捕获配置
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// VisionConfig 视觉后端配置
type VisionConfig struct {
	// 后端名称: gemini, ollama
	Provider string `yaml:"provider" env:"PROVIDER"`
	// Gemini 配置
	Gemini GeminiConfig `yaml:"gemini" env:"GEMINI"`
	// Ollama 配置
	Ollama OllamaConfig `yaml:"ollama" env:"OLLAMA"`
}

// GeminiConfig Gemini 后端配置
type GeminiConfig struct {
	// API Key（可在 aistudio.google.com 免费申请）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// OllamaConfig 本地 Ollama 后端配置
type OllamaConfig struct {
	// 服务地址
	Host string `yaml:"host" env:"HOST"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig 内存分析缓存配置
type CacheConfig struct {
	// 条目默认存活时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 最大条目数
	MaxSize int `yaml:"max_size" env:"MAX_SIZE"`
	// 过期条目清扫间隔
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// RedisConfig Redis 第二层缓存配置
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 条目存活时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	// 最大重试次数（不含首次尝试）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 基础退避时间
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	// 退避时间上限
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 指数底数
	ExponentialBase float64 `yaml:"exponential_base" env:"EXPONENTIAL_BASE"`
	// 抖动系数 0-1
	JitterFactor float64 `yaml:"jitter_factor" env:"JITTER_FACTOR"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// 连续失败多少次后熔断
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断后多久允许试探
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
}

// ConcurrencyConfig 并发与限速配置
type ConcurrencyConfig struct {
	// 扇出时同时在途的分析数上限
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// 每秒放行的下游调用数（0 表示不限速）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限速器突发容量
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// BrowserConfig 页面捕获配置
type BrowserConfig struct {
	// 是否无头运行
	Headless bool `yaml:"headless" env:"HEADLESS"`
	// 录制宽度
	VideoWidth int `yaml:"video_width" env:"VIDEO_WIDTH"`
	// 录制高度
	VideoHeight int `yaml:"video_height" env:"VIDEO_HEIGHT"`
	// 最长录制时长
	MaxRecordingDuration time.Duration `yaml:"max_recording_duration" env:"MAX_RECORDING_DURATION"`
	// 录制文件目录（空表示临时目录）
	RecordingsDir string `yaml:"recordings_dir" env:"RECORDINGS_DIR"`
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
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ANIMAWATCH",
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
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

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

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

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

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Vision.Provider != "gemini" && c.Vision.Provider != "ollama" {
		errs = append(errs, fmt.Sprintf("unknown vision provider: %q", c.Vision.Provider))
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, "cache max_size must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry max_retries cannot be negative")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, "retry jitter_factor must be in [0, 1]")
	}
	if c.Retry.ExponentialBase < 1 {
		errs = append(errs, "retry exponential_base must be >= 1")
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker failure_threshold must be positive")
	}
	if c.Concurrency.MaxConcurrent <= 0 {
		errs = append(errs, "concurrency max_concurrent must be positive")
	}
	if c.Browser.VideoWidth <= 0 || c.Browser.VideoHeight <= 0 {
		errs = append(errs, "browser video dimensions must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
