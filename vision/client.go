package vision

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	icache "github.com/BaSui01/animawatch/internal/cache"
	"github.com/BaSui01/animawatch/internal/metrics"
	"github.com/BaSui01/animawatch/types"
	"github.com/BaSui01/animawatch/vision/cache"
	"github.com/BaSui01/animawatch/vision/circuitbreaker"
	"github.com/BaSui01/animawatch/vision/retry"
)

// artifactKind 被分析的视觉产物类型
type artifactKind string

const (
	kindImage artifactKind = "image"
	kindVideo artifactKind = "video"
)

// Options 客户端配置
type Options struct {
	// Retry 重试策略（nil 使用视觉调用默认值）
	Retry *retry.Config

	// Breaker 熔断器配置（nil 使用默认值，名称 vision_api）
	Breaker *circuitbreaker.Config

	// Cache 内存缓存配置
	Cache cache.Config

	// MaxConcurrent 扇出时同时在途调用的硬上限
	MaxConcurrent int

	// RateLimit 每秒放行的下游调用数（0 表示不限速）
	RateLimit rate.Limit

	// RateBurst 限速器突发容量
	RateBurst int

	// Remote 可选的 Redis 第二层缓存
	Remote *icache.Manager

	// Metrics 可选的指标收集器
	Metrics *metrics.Collector
}

// DefaultOptions 返回视觉调用的默认客户端配置
// 相比包级默认，把上游 5xx 与限流类错误也纳入重试
func DefaultOptions() Options {
	retryCfg := retry.DefaultConfig()
	retryCfg.RetryableCodes = append(retryCfg.RetryableCodes,
		types.ErrUpstreamError,
		types.ErrRateLimited,
	)
	return Options{
		Retry: retryCfg,
		Breaker: &circuitbreaker.Config{
			Name:             "vision_api",
			FailureThreshold: 3,
			RecoveryTimeout:  60 * time.Second,
		},
		Cache:         cache.DefaultConfig(),
		MaxConcurrent: 5,
	}
}

// Client 视觉分析客户端：缓存 -> 熔断/重试 -> 后端调用的编排者
type Client struct {
	provider Provider
	cache    *cache.AnalysisCache
	remote   *icache.Manager
	breaker  *circuitbreaker.CircuitBreaker
	retryer  *retry.Retryer
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger

	maxConcurrent int
}

// NewClient 创建视觉分析客户端
func NewClient(provider Provider, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "vision_client"))

	// 调用方的配置对象只读：回调包装与归一化都作用在本地副本上，
	// 同一份 Options 可以安全地用于构造多个客户端
	retryCfg := DefaultOptions().Retry
	if opts.Retry != nil {
		rc := *opts.Retry
		retryCfg = &rc
	}
	breakerCfg := DefaultOptions().Breaker
	if opts.Breaker != nil {
		bc := *opts.Breaker
		breakerCfg = &bc
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}

	c := &Client{
		provider:      provider,
		cache:         cache.New(opts.Cache, logger),
		remote:        opts.Remote,
		metrics:       opts.Metrics,
		tracer:        otel.Tracer("github.com/BaSui01/animawatch/vision"),
		logger:        logger,
		maxConcurrent: opts.MaxConcurrent,
	}

	if opts.Metrics != nil {
		prev := breakerCfg.OnStateChange
		name := breakerCfg.Name
		if name == "" {
			name = "default"
		}
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			opts.Metrics.SetBreakerState(name, int(to))
			if prev != nil {
				prev(from, to)
			}
		}

		prevRetry := retryCfg.OnRetry
		retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			opts.Metrics.RecordRetryAttempt(provider.Name())
			if prevRetry != nil {
				prevRetry(attempt, err, delay)
			}
		}
	}

	c.breaker = circuitbreaker.New(breakerCfg, logger)
	c.retryer = retry.New(retryCfg, c.breaker, logger)

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	return c
}

// Breaker 返回客户端使用的熔断器（运维工具用）
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.breaker }

// CacheStats 返回内存缓存统计
func (c *Client) CacheStats() cache.Stats { return c.cache.Stats() }

// InvalidateCache 按产物与提示词失效缓存条目
func (c *Client) InvalidateCache(path, prompt string) (bool, error) {
	key, err := cache.HashFile(path, prompt)
	if err != nil {
		return false, err
	}
	return c.cache.Invalidate(key), nil
}

// AnalyzeImage 分析单张图片，返回后端的原始文本回答
func (c *Client) AnalyzeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	return c.analyze(ctx, kindImage, imagePath, prompt)
}

// AnalyzeVideo 分析单个视频，返回后端的原始文本回答
func (c *Client) AnalyzeVideo(ctx context.Context, videoPath, prompt string) (string, error) {
	return c.analyze(ctx, kindVideo, videoPath, prompt)
}

// AnalyzeImageStructured 分析图片并解析为结构化结果
func (c *Client) AnalyzeImageStructured(ctx context.Context, imagePath, prompt string) (*types.AnalysisResult, error) {
	return c.analyzeStructured(ctx, kindImage, imagePath, prompt)
}

// AnalyzeVideoStructured 分析视频并解析为结构化结果
func (c *Client) AnalyzeVideoStructured(ctx context.Context, videoPath, prompt string) (*types.AnalysisResult, error) {
	return c.analyzeStructured(ctx, kindVideo, videoPath, prompt)
}

func (c *Client) analyzeStructured(ctx context.Context, kind artifactKind, path, prompt string) (*types.AnalysisResult, error) {
	start := time.Now()
	raw, err := c.analyze(ctx, kind, path, prompt+JSONOutputInstruction)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)
	return ParseStructuredResponse(raw, c.provider.Name(), c.provider.Model(), duration.Milliseconds(), c.logger), nil
}

// analyze 单次分析的完整流程：哈希 -> 查缓存 -> 未命中时经重试+熔断调用后端 -> 回写缓存
func (c *Client) analyze(ctx context.Context, kind artifactKind, path, prompt string) (string, error) {
	// 哈希失败（文件消失等）按调用方自身的 I/O 错误原样传播
	key, err := cache.HashFile(path, prompt)
	if err != nil {
		return "", err
	}

	if v, ok := c.cache.Get(key); ok {
		c.recordCacheHit("local")
		return v, nil
	}
	c.recordCacheMiss("local")

	if c.remote != nil {
		v, rerr := c.remote.Get(ctx, key)
		if rerr == nil {
			// 回填本地缓存
			c.cache.Set(key, v)
			c.recordCacheHit("remote")
			return v, nil
		}
		if icache.IsCacheMiss(rerr) {
			c.recordCacheMiss("remote")
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	ctx, span := c.tracer.Start(ctx, "vision.analyze",
		trace.WithAttributes(
			attribute.String("provider", c.provider.Name()),
			attribute.String("kind", string(kind)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := retry.DoWithResultTyped[string](c.retryer, ctx, func() (string, error) {
		if kind == kindVideo {
			return c.provider.AnalyzeVideo(ctx, path, prompt)
		}
		return c.provider.AnalyzeImage(ctx, path, prompt)
	})
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		if c.metrics != nil {
			c.metrics.RecordAnalysis(c.provider.Name(), string(kind), "error", duration)
		}
		c.logger.Warn("analysis failed",
			zap.String("kind", string(kind)),
			zap.String("path", path),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return "", err
	}

	if c.metrics != nil {
		c.metrics.RecordAnalysis(c.provider.Name(), string(kind), "ok", duration)
	}
	c.logger.Info("analysis complete",
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Duration("duration", duration),
	)

	c.cache.Set(key, result)
	if c.remote != nil {
		if rerr := c.remote.Set(ctx, key, result, 0); rerr != nil {
			c.logger.Warn("remote cache write-through failed", zap.Error(rerr))
		}
	}

	return result, nil
}

func (c *Client) recordCacheHit(tier string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(tier)
	}
}

func (c *Client) recordCacheMiss(tier string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(tier)
	}
}

// AnalyzeImages 并发分析多张图片，返回与输入同序的结果
//
// prompts 传一个元素时广播到所有图片；传 len(paths) 个时逐一对应；
// 其它长度在发起任何调用前即以 VALIDATION 错误失败。
// 同时在途的调用数不超过 MaxConcurrent，超出的请求排队等待空位。
// 失败语义为 fail-fast：第一个未处理的错误取消其余兄弟任务并使整个扇出失败。
func (c *Client) AnalyzeImages(ctx context.Context, paths []string, prompts ...string) ([]string, error) {
	promptList, err := broadcastPrompts(paths, prompts)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(int64(c.maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)
	results := make([]string, len(paths))

	for i := range paths {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := c.AnalyzeImage(gctx, paths[i], promptList[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AnalyzeImagesStructured 并发分析多张图片并解析为结构化结果，语义同 AnalyzeImages
func (c *Client) AnalyzeImagesStructured(ctx context.Context, paths []string, prompts ...string) ([]*types.AnalysisResult, error) {
	promptList, err := broadcastPrompts(paths, prompts)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(int64(c.maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*types.AnalysisResult, len(paths))

	for i := range paths {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := c.AnalyzeImageStructured(gctx, paths[i], promptList[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// broadcastPrompts 校验并展开提示词列表
func broadcastPrompts(paths []string, prompts []string) ([]string, error) {
	switch {
	case len(prompts) == 1:
		list := make([]string, len(paths))
		for i := range list {
			list[i] = prompts[0]
		}
		return list, nil
	case len(prompts) == len(paths):
		return prompts, nil
	default:
		return nil, types.NewError(types.ErrValidation,
			"number of prompts must be 1 or equal to the number of images")
	}
}
