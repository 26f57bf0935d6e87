// =============================
// AnimaWatch 默认配置
// =============================
// 提供所有配置项的合理默认值
// =============================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Vision:      DefaultVisionConfig(),
		Cache:       DefaultCacheConfig(),
		Redis:       DefaultRedisConfig(),
		Retry:       DefaultRetryConfig(),
		Breaker:     DefaultBreakerConfig(),
		Concurrency: DefaultConcurrencyConfig(),
		Browser:     DefaultBrowserConfig(),
		Log:         DefaultLogConfig(),
	}
}

// DefaultVisionConfig 返回默认视觉后端配置
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		Provider: "gemini",
		Gemini: GeminiConfig{
			Model:   "gemini-2.0-flash",
			Timeout: 120 * time.Second,
		},
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Model:   "qwen2.5-vl:7b",
			Timeout: 5 * time.Minute,
		},
	}
}

// DefaultCacheConfig 返回默认内存缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:             time.Hour,
		MaxSize:         100,
		CleanupInterval: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		TTL:      24 * time.Hour,
		PoolSize: 10,
	}
}

// DefaultRetryConfig 返回默认重试策略配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0.5,
	}
}

// DefaultBreakerConfig 返回默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	}
}

// DefaultConcurrencyConfig 返回默认并发配置
func DefaultConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{
		MaxConcurrent: 5,
		RateLimitRPS:  0,
		RateBurst:     1,
	}
}

// DefaultBrowserConfig 返回默认页面捕获配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:             true,
		VideoWidth:           1280,
		VideoHeight:          720,
		MaxRecordingDuration: 30 * time.Second,
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
