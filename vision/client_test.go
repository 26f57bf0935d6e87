package vision

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/internal/metrics"
	"github.com/BaSui01/animawatch/types"
	"github.com/BaSui01/animawatch/vision/circuitbreaker"
	"github.com/BaSui01/animawatch/vision/retry"
)

// stubProvider is an instrumented test double for the downstream backend.
type stubProvider struct {
	mu          sync.Mutex
	calls       int
	inFlight    int64
	maxInFlight int64

	delay   func(path string) time.Duration
	respond func(path, prompt string) (string, error)
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

func (p *stubProvider) AnalyzeImage(ctx context.Context, path, prompt string) (string, error) {
	cur := atomic.AddInt64(&p.inFlight, 1)
	defer atomic.AddInt64(&p.inFlight, -1)
	for {
		max := atomic.LoadInt64(&p.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt64(&p.maxInFlight, max, cur) {
			break
		}
	}

	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.delay != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay(path)):
		}
	}
	if p.respond != nil {
		return p.respond(path, prompt)
	}
	return "analysis of " + filepath.Base(path), nil
}

func (p *stubProvider) AnalyzeVideo(ctx context.Context, path, prompt string) (string, error) {
	return p.AnalyzeImage(ctx, path, prompt)
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func writeArtifact(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func fastRetry() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func newTestClient(p Provider, opts Options) *Client {
	if opts.Retry == nil {
		opts.Retry = fastRetry()
	}
	return NewClient(p, opts, zap.NewNop())
}

// ---------------------------------------------------------------------------
// Single analysis + cache interception
// ---------------------------------------------------------------------------

func TestClient_AnalyzeImage(t *testing.T) {
	stub := &stubProvider{}
	c := newTestClient(stub, Options{})
	path := writeArtifact(t, "shot.png", []byte("pixels"))

	got, err := c.AnalyzeImage(context.Background(), path, "find jank")
	require.NoError(t, err)
	assert.Equal(t, "analysis of shot.png", got)
	assert.Equal(t, 1, stub.callCount())
}

func TestClient_CacheInterceptsSecondCall(t *testing.T) {
	stub := &stubProvider{}
	c := newTestClient(stub, Options{})
	path := writeArtifact(t, "shot.png", []byte("pixels"))

	first, err := c.AnalyzeImage(context.Background(), path, "find jank")
	require.NoError(t, err)

	second, err := c.AnalyzeImage(context.Background(), path, "find jank")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.callCount(), "second identical request must be served from cache")

	stats := c.CacheStats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
}

func TestClient_DifferentPromptBypassesCache(t *testing.T) {
	stub := &stubProvider{}
	c := newTestClient(stub, Options{})
	path := writeArtifact(t, "shot.png", []byte("pixels"))

	_, err := c.AnalyzeImage(context.Background(), path, "find jank")
	require.NoError(t, err)
	_, err = c.AnalyzeImage(context.Background(), path, "check accessibility")
	require.NoError(t, err)

	assert.Equal(t, 2, stub.callCount())
}

func TestClient_MissingArtifactPropagatesIOError(t *testing.T) {
	stub := &stubProvider{}
	c := newTestClient(stub, Options{})

	_, err := c.AnalyzeImage(context.Background(), filepath.Join(t.TempDir(), "gone.png"), "p")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, stub.callCount())
}

// ---------------------------------------------------------------------------
// Retry / breaker integration
// ---------------------------------------------------------------------------

func TestClient_RetriesTransientFailures(t *testing.T) {
	var attempts int32
	stub := &stubProvider{
		respond: func(path, prompt string) (string, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return "", types.NewError(types.ErrConnection, "reset").WithRetryable(true)
			}
			return "recovered", nil
		},
	}
	c := newTestClient(stub, Options{})
	path := writeArtifact(t, "shot.png", []byte("pixels"))

	got, err := c.AnalyzeImage(context.Background(), path, "p")
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, 3, stub.callCount())
}

func TestClient_CircuitOpenFailsFast(t *testing.T) {
	stub := &stubProvider{
		respond: func(path, prompt string) (string, error) {
			return "", types.NewError(types.ErrConnection, "down").WithRetryable(true)
		},
	}
	cfg := fastRetry()
	cfg.MaxRetries = 0
	c := newTestClient(stub, Options{
		Retry: cfg,
		Breaker: &circuitbreaker.Config{
			Name:             "vision_api",
			FailureThreshold: 1,
			RecoveryTimeout:  time.Hour,
		},
	})
	path := writeArtifact(t, "shot.png", []byte("pixels"))

	_, err := c.AnalyzeImage(context.Background(), path, "p")
	require.Error(t, err)
	assert.Equal(t, types.ErrConnection, types.GetErrorCode(err))
	require.Equal(t, circuitbreaker.StateOpen, c.Breaker().State())

	calls := stub.callCount()
	_, err = c.AnalyzeImage(context.Background(), path, "p")
	require.Error(t, err)
	assert.True(t, types.IsCircuitOpen(err), "breaker protection is surfaced distinctly")
	assert.Equal(t, calls, stub.callCount(), "no downstream call while the circuit is open")
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

func TestClient_AnalyzeImages_PreservesOrder(t *testing.T) {
	// B completes fastest, A slowest; the result order must still follow input.
	delays := map[string]time.Duration{
		"a.png": 60 * time.Millisecond,
		"b.png": 5 * time.Millisecond,
		"c.png": 30 * time.Millisecond,
	}
	stub := &stubProvider{
		delay: func(path string) time.Duration { return delays[filepath.Base(path)] },
	}
	c := newTestClient(stub, Options{MaxConcurrent: 3})

	paths := []string{
		writeArtifact(t, "a.png", []byte("a")),
		writeArtifact(t, "b.png", []byte("b")),
		writeArtifact(t, "c.png", []byte("c")),
	}

	results, err := c.AnalyzeImages(context.Background(), paths, "p")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "analysis of a.png", results[0])
	assert.Equal(t, "analysis of b.png", results[1])
	assert.Equal(t, "analysis of c.png", results[2])
}

func TestClient_AnalyzeImages_ConcurrencyCap(t *testing.T) {
	stub := &stubProvider{
		delay: func(string) time.Duration { return 30 * time.Millisecond },
	}
	c := newTestClient(stub, Options{MaxConcurrent: 2})

	paths := make([]string, 5)
	for i := range paths {
		paths[i] = writeArtifact(t, "shot.png", []byte{byte(i)})
	}

	_, err := c.AnalyzeImages(context.Background(), paths, "p")
	require.NoError(t, err)
	assert.Equal(t, 5, stub.callCount())
	assert.LessOrEqual(t, atomic.LoadInt64(&stub.maxInFlight), int64(2),
		"at no instant may more than MaxConcurrent analyses be in flight")
}

func TestClient_AnalyzeImages_PerItemPrompts(t *testing.T) {
	var mu sync.Mutex
	prompts := map[string]string{}
	stub := &stubProvider{
		respond: func(path, prompt string) (string, error) {
			mu.Lock()
			prompts[filepath.Base(path)] = prompt
			mu.Unlock()
			return "ok", nil
		},
	}
	c := newTestClient(stub, Options{})

	paths := []string{
		writeArtifact(t, "a.png", []byte("a")),
		writeArtifact(t, "b.png", []byte("b")),
	}

	_, err := c.AnalyzeImages(context.Background(), paths, "first", "second")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "first", prompts["a.png"])
	assert.Equal(t, "second", prompts["b.png"])
}

func TestClient_AnalyzeImages_PromptCountMismatch(t *testing.T) {
	stub := &stubProvider{}
	c := newTestClient(stub, Options{})

	paths := []string{
		writeArtifact(t, "a.png", []byte("a")),
		writeArtifact(t, "b.png", []byte("b")),
		writeArtifact(t, "c.png", []byte("c")),
	}

	_, err := c.AnalyzeImages(context.Background(), paths, "p1", "p2")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, 0, stub.callCount(), "validation fails before any work starts")
}

func TestClient_AnalyzeImages_FailFast(t *testing.T) {
	stub := &stubProvider{
		delay: func(path string) time.Duration {
			if filepath.Base(path) == "bad.png" {
				return 0
			}
			return 20 * time.Millisecond
		},
		respond: func(path, prompt string) (string, error) {
			if filepath.Base(path) == "bad.png" {
				return "", types.NewError(types.ErrInvalidRequest, "rejected")
			}
			return "ok", nil
		},
	}
	c := newTestClient(stub, Options{MaxConcurrent: 4})

	paths := []string{
		writeArtifact(t, "a.png", []byte("a")),
		writeArtifact(t, "bad.png", []byte("x")),
		writeArtifact(t, "b.png", []byte("b")),
	}

	_, err := c.AnalyzeImages(context.Background(), paths, "p")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// Structured analysis
// ---------------------------------------------------------------------------

func TestClient_AnalyzeImageStructured(t *testing.T) {
	stub := &stubProvider{
		respond: func(path, prompt string) (string, error) {
			// Structured mode must append the JSON instruction to the prompt.
			assert.Contains(t, prompt, "valid JSON object")
			return `{"findings":[{"id":"f1","category":"layout","severity":"major",` +
				`"confidence":90,"element":"header","description":"overlaps nav",` +
				`"suggestion":"add margin"}],"summary":"one layout issue","overall_score":80}`, nil
		},
	}
	c := newTestClient(stub, Options{})
	path := writeArtifact(t, "shot.png", []byte("pixels"))

	result, err := c.AnalyzeImageStructured(context.Background(), path, "check layout")
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, types.CategoryLayout, result.Findings[0].Category)
	assert.Equal(t, types.SeverityMajor, result.Findings[0].Severity)
	assert.Equal(t, 90, result.Findings[0].Confidence)
	assert.Equal(t, 80, result.OverallScore)
	assert.Equal(t, "stub", result.Metadata.Provider)
	assert.Equal(t, "stub-model", result.Metadata.Model)
}

// ---------------------------------------------------------------------------
// Options reuse
// ---------------------------------------------------------------------------

func TestNewClient_SharedOptionsStayUntouched(t *testing.T) {
	collector := metrics.NewCollector("animawatch_client_test", zap.NewNop())
	breakerCfg := &circuitbreaker.Config{
		Name:             "vision_api_gemini",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}
	opts := Options{Retry: fastRetry(), Breaker: breakerCfg, Metrics: collector}

	a := NewClient(&stubProvider{}, opts, zap.NewNop())
	opts.Breaker = &circuitbreaker.Config{
		Name:             "vision_api_ollama",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}
	b := NewClient(&stubProvider{}, opts, zap.NewNop())

	// Callback wrapping happens on internal copies, never on the caller's configs.
	assert.Nil(t, breakerCfg.OnStateChange)
	assert.Nil(t, opts.Breaker.OnStateChange)
	assert.Nil(t, opts.Retry.OnRetry)

	// Each client keeps its own breaker under its own name.
	assert.Equal(t, "vision_api_gemini", a.Breaker().Name())
	assert.Equal(t, "vision_api_ollama", b.Breaker().Name())
	assert.NotSame(t, a.Breaker(), b.Breaker())
}
