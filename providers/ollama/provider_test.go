package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/providers"
	"github.com/BaSui01/animawatch/types"
)

func TestProvider_Name(t *testing.T) {
	p := New(providers.OllamaConfig{}, zap.NewNop())
	assert.Equal(t, "ollama", p.Name())
}

func TestProvider_Defaults(t *testing.T) {
	p := New(providers.OllamaConfig{}, zap.NewNop())
	assert.Equal(t, "qwen2.5-vl:7b", p.Model())
	assert.Equal(t, "http://localhost:11434", p.cfg.Host)
}

func TestProvider_AnalyzeImage(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake-png"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5-vl:7b", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "describe this", req.Messages[0].Content)

		require.Len(t, req.Messages[0].Images, 1)
		decoded, err := base64.StdEncoding.DecodeString(req.Messages[0].Images[0])
		require.NoError(t, err)
		assert.Equal(t, []byte("fake-png"), decoded)

		json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "a screenshot"},
		})
	}))
	defer server.Close()

	p := New(providers.OllamaConfig{Host: server.URL}, zap.NewNop())
	got, err := p.AnalyzeImage(context.Background(), imgPath, "describe this")
	require.NoError(t, err)
	assert.Equal(t, "a screenshot", got)
}

func TestProvider_AnalyzeVideo_Unsupported(t *testing.T) {
	p := New(providers.OllamaConfig{}, zap.NewNop())
	_, err := p.AnalyzeVideo(context.Background(), "/tmp/clip.webm", "p")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestProvider_ModelNotPulled(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("png"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'qwen2.5-vl:7b' not found"}`))
	}))
	defer server.Close()

	p := New(providers.OllamaConfig{Host: server.URL}, zap.NewNop())
	_, err := p.AnalyzeImage(context.Background(), imgPath, "p")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestProvider_ServerErrorRetryable(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("png"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"out of memory"}`))
	}))
	defer server.Close()

	p := New(providers.OllamaConfig{Host: server.URL}, zap.NewNop())
	_, err := p.AnalyzeImage(context.Background(), imgPath, "p")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestProvider_ConnectionRefused(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("png"), 0o644))

	p := New(providers.OllamaConfig{Host: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := p.AnalyzeImage(context.Background(), imgPath, "p")
	require.Error(t, err)
	assert.Equal(t, types.ErrConnection, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	p := New(providers.OllamaConfig{Host: server.URL}, zap.NewNop())
	assert.NoError(t, p.HealthCheck(context.Background()))
}
