package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/providers"
	"github.com/BaSui01/animawatch/types"
)

// Provider 实现本地 Ollama 的视觉后端
// 完全本地运行，不依赖外部 API；图片以 base64 附在 chat 消息上
type Provider struct {
	cfg    providers.OllamaConfig
	client *http.Client
	logger *zap.Logger
}

// New 创建 Ollama 视觉后端
func New(cfg providers.OllamaConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// 本地推理可能较慢
		timeout = 5 * time.Minute
	}
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5-vl:7b"
	}

	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("provider", "ollama")),
	}
}

func (p *Provider) Name() string  { return "ollama" }
func (p *Provider) Model() string { return p.cfg.Model }

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

type ollamaErrorResp struct {
	Error string `json:"error"`
}

// AnalyzeImage 通过 /api/chat 分析图片
func (p *Provider) AnalyzeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", types.NewError(types.ErrIO, fmt.Sprintf("read image: %v", err)).
			WithCause(err).WithProvider(p.Name())
	}

	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(data)},
		}},
		Stream: false,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithProvider(p.Name())
	}

	endpoint := strings.TrimRight(p.cfg.Host, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithProvider(p.Name())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", mapOllamaError(resp.StatusCode, readOllamaErrMsg(resp.Body), p.Name())
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.Name())
	}
	return chatResp.Message.Content, nil
}

// AnalyzeVideo Ollama 不支持直接分析视频，请改用抽帧后的 AnalyzeImage 或切换到 Gemini
func (p *Provider) AnalyzeVideo(ctx context.Context, videoPath, prompt string) (string, error) {
	return "", types.NewError(types.ErrInvalidRequest,
		"ollama does not support direct video analysis; use AnalyzeImage with extracted frames or switch to gemini").
		WithProvider(p.Name())
}

// HealthCheck 探测 Ollama 服务是否可达
func (p *Provider) HealthCheck(ctx context.Context) error {
	endpoint := strings.TrimRight(p.cfg.Host, "/") + "/api/tags"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mapOllamaError(resp.StatusCode, readOllamaErrMsg(resp.Body), p.Name())
	}
	return nil
}

func readOllamaErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp ollamaErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return string(data)
}

func mapOllamaError(status int, msg, provider string) *types.Error {
	switch {
	case status == http.StatusNotFound:
		// 模型未拉取时 Ollama 返回 404
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusBadRequest:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithProvider(provider)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithProvider(provider)
	}
}
