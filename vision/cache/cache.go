// Package cache provides content-addressed TTL caching for vision analysis
// responses, avoiding redundant paid API calls for identical requests.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config 分析缓存配置
type Config struct {
	// DefaultTTL 缓存条目默认存活时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// MaxSize 最大缓存条目数
	MaxSize int `yaml:"max_size" json:"max_size"`

	// CleanupInterval 过期条目清理间隔（摊还在 Get 调用上执行）
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      1 * time.Hour,
		MaxSize:         100,
		CleanupInterval: 5 * time.Minute,
	}
}

// entry 单个缓存条目
// ExpiresAt > CreatedAt 恒成立；过期判定在读取时进行，而非后台扫描
type entry struct {
	value     string
	createdAt time.Time
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// AnalysisCache 视觉分析结果的 TTL 缓存
// 特性：
//  1. 基于内容哈希的缓存键（SHA-256 前 32 个十六进制字符）
//  2. 惰性过期 + 摊还清理
//  3. 容量满时按 createdAt 淘汰最旧条目（非严格 LRU，访问不刷新新旧顺序）
//  4. 单把互斥锁保护全部可变状态；相对被保护的网络调用，缓存不是热点路径
type AnalysisCache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	config      Config
	lastCleanup time.Time
	hits        int
	misses      int
	logger      *zap.Logger
}

// New 创建分析缓存
func New(config Config, logger *zap.Logger) *AnalysisCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 1 * time.Hour
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 100
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AnalysisCache{
		entries:     make(map[string]*entry),
		config:      config,
		lastCleanup: time.Now(),
		logger:      logger.With(zap.String("component", "analysis_cache")),
	}
}

// HashContent 由内容和提示词生成缓存键
// 对 content || prompt 的 UTF-8 字节做 SHA-256，取前 32 个十六进制字符
func HashContent(content []byte, prompt string) string {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// HashFile 由文件内容和提示词生成缓存键
// 文件读取失败时错误原样返回给调用方，缓存自身不吞掉 I/O 错误
func HashFile(path string, prompt string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashContent(content, prompt), nil
}

// Get 获取未过期的缓存值
// 命中已过期条目时当作未命中处理并顺手删除（惰性过期）
func (c *AnalysisCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.maybeCleanup(now)

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	if e.expired(now) {
		delete(c.entries, key)
		c.misses++
		c.logger.Debug("cache entry expired", zap.String("key", shortKey(key)))
		return "", false
	}

	c.hits++
	c.logger.Debug("cache hit",
		zap.String("key", shortKey(key)),
		zap.Duration("age", now.Sub(e.createdAt)),
	)
	return e.value, true
}

// Set 以默认 TTL 写入缓存
func (c *AnalysisCache) Set(key, value string) {
	c.SetTTL(key, value, c.config.DefaultTTL)
}

// SetTTL 以指定 TTL 写入缓存
// 容量已满时先淘汰 createdAt 最旧的条目再写入
func (c *AnalysisCache) SetTTL(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	for len(c.entries) >= c.config.MaxSize {
		oldest := ""
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldest == "" || e.createdAt.Before(oldestAt) {
				oldest = k
				oldestAt = e.createdAt
			}
		}
		delete(c.entries, oldest)
		c.logger.Debug("cache eviction", zap.String("evicted_key", shortKey(oldest)))
	}

	now := time.Now()
	c.entries[key] = &entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.logger.Debug("cache set",
		zap.String("key", shortKey(key)),
		zap.Duration("ttl", ttl),
	)
}

// Invalidate 删除指定条目，返回该条目是否存在
func (c *AnalysisCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		return true
	}
	return false
}

// Clear 清空缓存，返回被清除的条目数
func (c *AnalysisCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	c.entries = make(map[string]*entry)
	c.logger.Debug("cache cleared", zap.Int("entries_cleared", count))
	return count
}

// maybeCleanup 摊还式清理：距上次清理超过 CleanupInterval 时扫除全部过期条目
// 调用方必须持有 c.mu
func (c *AnalysisCache) maybeCleanup(now time.Time) {
	if now.Sub(c.lastCleanup) < c.config.CleanupInterval {
		return
	}

	expired := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			expired++
		}
	}
	if expired > 0 {
		c.logger.Debug("cache cleanup", zap.Int("expired_count", expired))
	}
	c.lastCleanup = now
}

// Stats 缓存统计信息
type Stats struct {
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	Hits           int     `json:"hits"`
	Misses         int     `json:"misses"`
	HitRatePercent float64 `json:"hit_rate_percent"`
}

// Stats 返回当前统计信息
// 无任何请求时命中率为 0
func (c *AnalysisCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = math.Round(float64(c.hits)/float64(total)*100*100) / 100
	}
	return Stats{
		Size:           len(c.entries),
		MaxSize:        c.config.MaxSize,
		Hits:           c.hits,
		Misses:         c.misses,
		HitRatePercent: rate,
	}
}

// shortKey 日志中只展示键前缀
func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
