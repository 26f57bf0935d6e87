// Package retry provides exponential backoff with jitter for fallible
// operations, optionally guarded by a circuit breaker.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/animawatch/types"
	"github.com/BaSui01/animawatch/vision/circuitbreaker"
	"go.uber.org/zap"
)

// Config 重试策略配置（不可变值对象，构造后只读）
type Config struct {
	// MaxRetries 最大重试次数（0 表示只执行一次，不重试）
	// maxRetries=3 意味着最多 4 次总尝试（1 次初始 + 3 次重试）
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// BaseDelay 初始延迟时间
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// MaxDelay 最大延迟时间
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// ExponentialBase 指数退避倍增因子
	ExponentialBase float64 `yaml:"exponential_base" json:"exponential_base"`

	// JitterFactor 随机抖动因子，取值 [0,1]（防止重试风暴同步化）
	JitterFactor float64 `yaml:"jitter_factor" json:"jitter_factor"`

	// RetryableCodes 可重试的错误类别
	// 不在列表中的错误立即失败，不参与重试与熔断计数
	RetryableCodes []types.ErrorCode `yaml:"retryable_codes" json:"retryable_codes"`

	// OnRetry 重试回调（记录指标等），在每次退避等待前调用
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认重试策略
// 默认只重试连接 / 超时 / 系统 I/O 类瞬时错误
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0.5,
		RetryableCodes: []types.ErrorCode{
			types.ErrConnection,
			types.ErrTimeout,
			types.ErrIO,
		},
	}
}

// Retryer 重试器
// 每次调用前先询问熔断器；熔断打开时立即以 CIRCUIT_OPEN 失败，不产生任何尝试
type Retryer struct {
	config  *Config
	breaker *circuitbreaker.CircuitBreaker // 可为 nil
	logger  *zap.Logger
}

// New 创建重试器，breaker 可为 nil 表示不接入熔断
// 传入的 config 不会被修改：归一化发生在内部副本上，调用方可安全复用同一份配置
func New(config *Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Retryer {
	cfg := DefaultConfig()
	if config != nil {
		c := *config
		cfg = &c
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.ExponentialBase < 1.0 {
		cfg.ExponentialBase = 2.0
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		cfg.JitterFactor = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retryer{
		config:  cfg,
		breaker: breaker,
		logger:  logger,
	}
}

// Do 执行函数，按策略重试
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 执行函数并返回结果，按策略重试
//
// 语义：
//   - 熔断打开：立即返回 CIRCUIT_OPEN 错误，零次尝试、零延迟
//   - 可重试失败：记入熔断器，退避后重试；重试耗尽后返回最后一次的原始错误
//   - 不可重试失败：立即传播，不做熔断记账
//   - 退避等待期间监听 ctx 取消，取消后不再发起新尝试
func (r *Retryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	if r.breaker != nil && r.breaker.IsOpen() {
		return nil, types.NewError(types.ErrCircuitOpen,
			fmt.Sprintf("circuit breaker %s is open", r.breaker.Name()))
	}

	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			if r.breaker != nil {
				r.breaker.RecordSuccess()
			}
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.isRetryable(err) {
			r.logger.Debug("error not retryable",
				zap.String("code", string(types.GetErrorCode(err))),
				zap.Error(err),
			)
			return nil, err
		}

		lastErr = err
		if r.breaker != nil {
			r.breaker.RecordFailure()
		}

		if attempt < r.config.MaxRetries {
			delay := calculateDelay(attempt, r.config)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt+1, err, delay)
			}
			r.logger.Warn("retrying after failure",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", r.config.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	r.logger.Error("all retries exhausted",
		zap.Int("attempts", r.config.MaxRetries+1),
		zap.Error(lastErr),
	)
	// 返回原始错误本身，保留可诊断性，不做包装
	return nil, lastErr
}

// calculateDelay 计算第 attempt 次失败后的退避延迟
//
//	delay  = min(base * expBase^attempt, maxDelay)
//	jitter = delay * jitterFactor
//	delay  = delay + uniform(-jitter, +jitter)，下限为 0
func calculateDelay(attempt int, config *Config) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.ExponentialBase, float64(attempt))
	delay = math.Min(delay, float64(config.MaxDelay))

	jitterRange := delay * config.JitterFactor
	delay += (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(math.Max(0, delay))
}

// isRetryable 检查错误类别是否在可重试列表中
func (r *Retryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	code := types.GetErrorCode(err)
	for _, c := range r.config.RetryableCodes {
		if code == c {
			return true
		}
	}
	return false
}
