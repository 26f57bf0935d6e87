// Package circuitbreaker implements a per-downstream failure tracker that
// fails fast once an error threshold is crossed and recovers after a cooldown.
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Name 熔断器名称（每个下游依赖一个实例）
	Name string `yaml:"name" json:"name"`

	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State) `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Name:             "default",
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	}
}

// CircuitBreaker 熔断器
// 不变量：state == Open 蕴含 failureCount >= FailureThreshold
// 所有状态变更在单把互斥锁下串行化，RecordFailure 与并发的 IsOpen 不会交错出撕裂读
type CircuitBreaker struct {
	config *Config
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
}

// New 创建熔断器
// 传入的 config 不会被修改：归一化发生在内部副本上，调用方可安全复用同一份配置
func New(config *Config, logger *zap.Logger) *CircuitBreaker {
	cfg := DefaultConfig()
	if config != nil {
		c := *config
		cfg = &c
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		config: cfg,
		logger: logger.With(zap.String("breaker", cfg.Name)),
		state:  StateClosed,
	}
}

// IsOpen 检查熔断器是否阻断请求
//
// 注意：这不是纯查询。Open 状态下冷却时间已过时，本方法在读取时顺带把状态
// 切换到 HalfOpen 并返回 false，放行接下来的调用作为探测请求。HalfOpen 期间
// 不做单飞门控，允许多个并发探测同时通过——调用量已被扇出层的并发上限约束，
// 这是有意保留的宽松语义。
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.logger.Info("circuit breaker half-open, allowing probe requests")
			return false
		}
		return true
	}
	return false
}

// RecordSuccess 记录一次成功调用：清零失败计数并回到关闭状态
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.logger.Info("circuit breaker recovered",
			zap.String("from_state", b.state.String()),
		)
	}
	b.failureCount = 0
	b.setState(StateClosed)
}

// RecordFailure 记录一次失败调用
// 失败计数达到阈值时打开熔断器；HalfOpen 下的失败会重新进入 Open 并刷新
// lastFailureTime（计数在半开期间仍然 >= 阈值）
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	if b.failureCount >= b.config.FailureThreshold {
		if b.state != StateOpen {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold),
			)
		}
		b.setState(StateOpen)
	}
}

// Reset 强制回到初始关闭状态（测试与运维工具）
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.setState(StateClosed)

	b.logger.Info("circuit breaker reset",
		zap.String("from_state", oldState.String()),
	)
}

// State 返回当前状态（不触发 Open -> HalfOpen 转换）
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount 返回当前失败计数
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Name 返回熔断器名称
func (b *CircuitBreaker) Name() string {
	return b.config.Name
}

// setState 设置状态并触发回调
// 调用方必须持有 b.mu
func (b *CircuitBreaker) setState(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}
