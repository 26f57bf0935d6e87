package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/providers"
	"github.com/BaSui01/animawatch/types"
)

// maxProcessingSeconds 等待视频处理完成的墙钟上限（5 分钟）
const maxProcessingSeconds = 300

// pollInterval 视频处理状态轮询间隔
var pollInterval = time.Second

// Provider 实现 Google Gemini 的视觉后端
// Gemini API 特点：
// 1. 使用 x-goog-api-key 请求头认证
// 2. 图片以 inlineData 内联 base64 传输
// 3. 视频需先经 Files API 上传，等待服务端处理完成后再引用
type Provider struct {
	cfg    providers.GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// New 创建 Gemini 视觉后端
func New(cfg providers.GeminiConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("provider", "gemini")),
	}
}

func (p *Provider) Name() string  { return "gemini" }
func (p *Provider) Model() string { return p.cfg.Model }

// Gemini 请求/响应结构
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiFile struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"` // PROCESSING, ACTIVE, FAILED
}

type geminiUploadResponse struct {
	File geminiFile `json:"file"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request, contentType string) {
	// Gemini 使用 x-goog-api-key 认证
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
}

// AnalyzeImage 以 inlineData 携带图片内容调用 generateContent
func (p *Provider) AnalyzeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", types.NewError(types.ErrIO, fmt.Sprintf("read image: %v", err)).
			WithCause(err).WithProvider(p.Name())
	}

	body := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{
					MimeType: guessMIME(imagePath, "image/png"),
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
				{Text: prompt},
			},
		}},
	}

	return p.generateContent(ctx, body)
}

// AnalyzeVideo 先上传视频到 Files API，等服务端处理完成后引用其 URI 调用
// generateContent，最后尽力删除上传的文件
func (p *Provider) AnalyzeVideo(ctx context.Context, videoPath, prompt string) (string, error) {
	file, err := p.uploadFile(ctx, videoPath)
	if err != nil {
		return "", err
	}

	file, err = p.waitForProcessing(ctx, file)
	if err != nil {
		return "", err
	}

	body := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{FileData: &geminiFileData{
					MimeType: guessMIME(videoPath, "video/webm"),
					FileURI:  file.URI,
				}},
				{Text: prompt},
			},
		}},
	}

	result, err := p.generateContent(ctx, body)

	// 上传文件可能已被服务端回收，删除失败只记日志
	if derr := p.deleteFile(ctx, file.Name); derr != nil {
		p.logger.Debug("failed to delete uploaded video", zap.String("file", file.Name), zap.Error(derr))
	}

	return result, err
}

func (p *Provider) generateContent(ctx context.Context, body geminiRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithProvider(p.Name())
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithProvider(p.Name())
	}
	p.buildHeaders(httpReq, "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", mapGeminiError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return "", types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.Name())
	}

	var text strings.Builder
	for _, candidate := range geminiResp.Candidates {
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	return text.String(), nil
}

// uploadFile 通过 Files API 上传视频文件
func (p *Provider) uploadFile(ctx context.Context, path string) (geminiFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geminiFile{}, types.NewError(types.ErrIO, fmt.Sprintf("read video: %v", err)).
			WithCause(err).WithProvider(p.Name())
	}

	endpoint := fmt.Sprintf("%s/upload/v1beta/files?uploadType=media", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return geminiFile{}, types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithProvider(p.Name())
	}
	p.buildHeaders(httpReq, guessMIME(path, "video/webm"))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return geminiFile{}, types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return geminiFile{}, mapGeminiError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}

	var upload geminiUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return geminiFile{}, types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.Name())
	}
	if upload.File.Name == "" {
		return geminiFile{}, types.NewError(types.ErrUpstreamError, "uploaded file name not available").
			WithRetryable(true).WithProvider(p.Name())
	}
	return upload.File, nil
}

// waitForProcessing 轮询直到视频处理完成，超出墙钟预算返回可重试的超时错误
func (p *Provider) waitForProcessing(ctx context.Context, file geminiFile) (geminiFile, error) {
	start := time.Now()
	for file.State == "PROCESSING" {
		if time.Since(start) > maxProcessingSeconds*time.Second {
			return geminiFile{}, types.NewError(types.ErrTimeout,
				fmt.Sprintf("video processing timed out after %ds for file: %s", maxProcessingSeconds, file.Name)).
				WithRetryable(true).WithProvider(p.Name())
		}

		select {
		case <-ctx.Done():
			return geminiFile{}, ctx.Err()
		case <-time.After(pollInterval):
		}

		updated, err := p.getFile(ctx, file.Name)
		if err != nil {
			return geminiFile{}, err
		}
		file = updated
	}

	if file.State == "FAILED" {
		return geminiFile{}, types.NewError(types.ErrProcessingFailed,
			fmt.Sprintf("video processing failed for file: %s", file.Name)).WithProvider(p.Name())
	}
	if file.URI == "" {
		return geminiFile{}, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("video file URI not available for: %s", file.Name)).
			WithRetryable(true).WithProvider(p.Name())
	}
	return file, nil
}

func (p *Provider) getFile(ctx context.Context, name string) (geminiFile, error) {
	endpoint := fmt.Sprintf("%s/v1beta/%s", strings.TrimRight(p.cfg.BaseURL, "/"), name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return geminiFile{}, types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithProvider(p.Name())
	}
	p.buildHeaders(httpReq, "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return geminiFile{}, types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return geminiFile{}, mapGeminiError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}

	var file geminiFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return geminiFile{}, types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider(p.Name())
	}
	return file, nil
}

func (p *Provider) deleteFile(ctx context.Context, name string) error {
	endpoint := fmt.Sprintf("%s/v1beta/%s", strings.TrimRight(p.cfg.BaseURL, "/"), name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	p.buildHeaders(httpReq, "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delete file %s: status=%d", name, resp.StatusCode)
	}
	return nil
}

// HealthCheck 探测 models 列表端点是否可达
func (p *Provider) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1beta/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	p.buildHeaders(httpReq, "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrConnection, err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mapGeminiError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}
	return nil
}

func readGeminiErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}

func mapGeminiError(status int, msg, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status).WithProvider(provider)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status).WithProvider(provider)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	case http.StatusBadRequest:
		if strings.Contains(msg, "quota") || strings.Contains(msg, "limit") {
			return types.NewError(types.ErrQuotaExceeded, msg).WithHTTPStatus(status).WithProvider(provider)
		}
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithProvider(provider)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(status >= 500).WithProvider(provider)
	}
}

// guessMIME 按文件扩展名推断 MIME 类型
func guessMIME(path, fallback string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return fallback
}
