package vision

import "context"

// Provider 视觉 AI 后端的能力契约
// 两类后端（Gemini 云端 / Ollama 本地）共享同一接口，核心弹性层对后端无感知
type Provider interface {
	// Name 返回后端名称（gemini / ollama）
	Name() string

	// Model 返回后端使用的模型名
	Model() string

	// AnalyzeImage 将图片与提示词发给后端，返回其文本回答
	AnalyzeImage(ctx context.Context, imagePath string, prompt string) (string, error)

	// AnalyzeVideo 将视频与提示词发给后端，返回其文本回答
	// 不支持视频的后端返回 INVALID_REQUEST 错误
	AnalyzeVideo(ctx context.Context, videoPath string, prompt string) (string, error)
}
