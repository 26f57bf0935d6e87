package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/animawatch/providers"
	"github.com/BaSui01/animawatch/providers/factory"
	"github.com/BaSui01/animawatch/vision"
	"github.com/BaSui01/animawatch/vision/cache"
	"github.com/BaSui01/animawatch/vision/circuitbreaker"
	"github.com/BaSui01/animawatch/vision/retry"
)

// FactoryConfig 转换为后端工厂入参
func (c *Config) FactoryConfig() factory.Config {
	return factory.Config{
		Provider: c.Vision.Provider,
		Gemini: providers.GeminiConfig{
			APIKey:  c.Vision.Gemini.APIKey,
			BaseURL: c.Vision.Gemini.BaseURL,
			Model:   c.Vision.Gemini.Model,
			Timeout: c.Vision.Gemini.Timeout,
		},
		Ollama: providers.OllamaConfig{
			Host:    c.Vision.Ollama.Host,
			Model:   c.Vision.Ollama.Model,
			Timeout: c.Vision.Ollama.Timeout,
		},
	}
}

// VisionOptions 转换为视觉客户端选项
// Redis 层与指标收集器由调用方按需注入
func (c *Config) VisionOptions() vision.Options {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = c.Retry.MaxRetries
	retryCfg.BaseDelay = c.Retry.BaseDelay
	retryCfg.MaxDelay = c.Retry.MaxDelay
	retryCfg.ExponentialBase = c.Retry.ExponentialBase
	retryCfg.JitterFactor = c.Retry.JitterFactor

	return vision.Options{
		Retry: retryCfg,
		Breaker: &circuitbreaker.Config{
			Name:             "vision_api",
			FailureThreshold: c.Breaker.FailureThreshold,
			RecoveryTimeout:  c.Breaker.RecoveryTimeout,
		},
		Cache: cache.Config{
			DefaultTTL:      c.Cache.TTL,
			MaxSize:         c.Cache.MaxSize,
			CleanupInterval: c.Cache.CleanupInterval,
		},
		MaxConcurrent: c.Concurrency.MaxConcurrent,
		RateLimit:     rate.Limit(c.Concurrency.RateLimitRPS),
		RateBurst:     c.Concurrency.RateBurst,
	}
}

// BuildLogger 按日志配置构建 zap Logger
func (c LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if c.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if len(c.OutputPaths) > 0 {
		zapCfg.OutputPaths = c.OutputPaths
	}
	zapCfg.DisableCaller = !c.EnableCaller
	zapCfg.DisableStacktrace = !c.EnableStacktrace

	return zapCfg.Build()
}
