// Package browser 定义页面捕获的窄接口
// 具体实现由驱动真实浏览器的适配器提供（例如基于 CDP 的录制器），
// 分析管线只依赖这里的契约
package browser

import (
	"context"
	"time"

	"github.com/BaSui01/animawatch/devices"
)

// Action 一次页面交互动作
type Action struct {
	// Type 动作类型: click, type, scroll, hover, wait
	Type string `json:"type" yaml:"type"`
	// Selector 目标元素选择器
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	// Text 输入文本（type 动作）
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
	// ScrollY 垂直滚动距离（scroll 动作）
	ScrollY int `json:"scroll_y,omitempty" yaml:"scroll_y,omitempty"`
	// Duration 等待时长（wait 动作）
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// RecordOptions 录制参数
type RecordOptions struct {
	// Actions 导航后依次执行的交互动作
	Actions []Action
	// WaitTime 动作结束后等待动画收尾的时间
	WaitTime time.Duration
	// VideoDir 录制文件输出目录（空表示临时目录）
	VideoDir string
	// Device 移动设备仿真档案（零值表示默认桌面视口）
	Device devices.Profile
}

// ScreenshotOptions 截图参数
type ScreenshotOptions struct {
	// FullPage 截取整个可滚动页面还是仅视口
	FullPage bool
	// Device 移动设备仿真档案（零值表示默认桌面视口）
	Device devices.Profile
}

// Capturer 捕获页面视觉产物，产出供视觉分析的文件路径
type Capturer interface {
	// RecordInteraction 录制一段页面交互，返回视频文件路径
	RecordInteraction(ctx context.Context, url string, opts RecordOptions) (string, error)

	// TakeScreenshot 截取页面，返回图片文件路径
	TakeScreenshot(ctx context.Context, url string, opts ScreenshotOptions) (string, error)

	// Close 释放浏览器资源
	Close(ctx context.Context) error
}
