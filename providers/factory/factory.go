// Package factory 按名称创建视觉后端实例。它导入所有后端子包并把字符串名称
// 映射到对应构造函数，避免该逻辑放在 providers 包里造成的循环导入。
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/providers"
	"github.com/BaSui01/animawatch/providers/gemini"
	"github.com/BaSui01/animawatch/providers/ollama"
	"github.com/BaSui01/animawatch/types"
	"github.com/BaSui01/animawatch/vision"
)

// Config 工厂入参：选择哪个后端及各后端的配置
type Config struct {
	// Provider 后端名称：gemini 或 ollama
	Provider string `json:"provider" yaml:"provider"`

	Gemini providers.GeminiConfig `json:"gemini" yaml:"gemini"`
	Ollama providers.OllamaConfig `json:"ollama" yaml:"ollama"`
}

// New 按名称创建视觉后端
//
// 支持的名称：gemini、ollama。
func New(cfg Config, logger *zap.Logger) (vision.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, types.NewError(types.ErrValidation,
				"gemini api key not set; get a free key at https://aistudio.google.com/")
		}
		return gemini.New(cfg.Gemini, logger), nil

	case "ollama":
		return ollama.New(cfg.Ollama, logger), nil

	default:
		return nil, types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown vision provider: %q (supported: gemini, ollama)", cfg.Provider))
	}
}
