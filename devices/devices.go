// Package devices 提供浏览器测试用的移动设备仿真档案
// 预置档案对应常见的手机、平板与桌面视口，
// 用于响应式设计测试与移动端动画分析
package devices

import "strings"

// Category 设备分类
type Category string

const (
	CategoryMobile  Category = "mobile"
	CategoryTablet  Category = "tablet"
	CategoryDesktop Category = "desktop"
)

// Profile 设备仿真档案
type Profile struct {
	Name              string   `json:"name" yaml:"name"`
	Category          Category `json:"category" yaml:"category"`
	Width             int      `json:"width" yaml:"width"`
	Height            int      `json:"height" yaml:"height"`
	DeviceScaleFactor float64  `json:"device_scale_factor" yaml:"device_scale_factor"`
	IsMobile          bool     `json:"is_mobile" yaml:"is_mobile"`
	HasTouch          bool     `json:"has_touch" yaml:"has_touch"`
	UserAgent         string   `json:"user_agent" yaml:"user_agent"`
}

// Viewport 返回视口尺寸
func (p Profile) Viewport() (width, height int) {
	return p.Width, p.Height
}

// User agent 字符串
const (
	uaIPhone17 = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaIPhone16 = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	uaIPhone15 = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1"
	uaAndroidPixel = "Mozilla/5.0 (Linux; Android 14; Pixel 8) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaAndroidGalaxy = "Mozilla/5.0 (Linux; Android 14; SM-S921B) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaIPad17 = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaIPad16 = "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	uaWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// profiles 基于 Playwright 设备描述符的常见设备档案
var profiles = map[string]Profile{
	// iPhone
	"iphone_15_pro": {
		Name: "iPhone 15 Pro", Category: CategoryMobile,
		Width: 393, Height: 852, DeviceScaleFactor: 3,
		IsMobile: true, HasTouch: true, UserAgent: uaIPhone17,
	},
	"iphone_14": {
		Name: "iPhone 14", Category: CategoryMobile,
		Width: 390, Height: 844, DeviceScaleFactor: 3,
		IsMobile: true, HasTouch: true, UserAgent: uaIPhone16,
	},
	"iphone_se": {
		Name: "iPhone SE", Category: CategoryMobile,
		Width: 375, Height: 667, DeviceScaleFactor: 2,
		IsMobile: true, HasTouch: true, UserAgent: uaIPhone15,
	},
	// Android 手机
	"pixel_8": {
		Name: "Pixel 8", Category: CategoryMobile,
		Width: 412, Height: 915, DeviceScaleFactor: 2.625,
		IsMobile: true, HasTouch: true, UserAgent: uaAndroidPixel,
	},
	"galaxy_s24": {
		Name: "Galaxy S24", Category: CategoryMobile,
		Width: 360, Height: 780, DeviceScaleFactor: 3,
		IsMobile: true, HasTouch: true, UserAgent: uaAndroidGalaxy,
	},
	// 平板
	"ipad_pro_12": {
		Name: "iPad Pro 12.9", Category: CategoryTablet,
		Width: 1024, Height: 1366, DeviceScaleFactor: 2,
		IsMobile: true, HasTouch: true, UserAgent: uaIPad17,
	},
	"ipad_air": {
		Name: "iPad Air", Category: CategoryTablet,
		Width: 820, Height: 1180, DeviceScaleFactor: 2,
		IsMobile: true, HasTouch: true, UserAgent: uaIPad16,
	},
	// 桌面视口
	"desktop_1080p": {
		Name: "Desktop 1080p", Category: CategoryDesktop,
		Width: 1920, Height: 1080, DeviceScaleFactor: 1,
		UserAgent: uaWindows,
	},
	"desktop_1440p": {
		Name: "Desktop 1440p", Category: CategoryDesktop,
		Width: 2560, Height: 1440, DeviceScaleFactor: 1,
		UserAgent: uaMac,
	},
	"laptop": {
		Name: "Laptop", Category: CategoryDesktop,
		Width: 1366, Height: 768, DeviceScaleFactor: 1,
		UserAgent: uaWindows,
	},
}

// Get 按名称查找设备档案，名称大小写不敏感，空格和连字符视同下划线
func Get(name string) (Profile, bool) {
	key := strings.ToLower(name)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	p, ok := profiles[key]
	return p, ok
}

// List 列出所有设备档案，category 为空串时不过滤
func List(category Category) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, key := range Names() {
		p := profiles[key]
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Names 返回所有档案键名，顺序固定
func Names() []string {
	return []string{
		"iphone_15_pro",
		"iphone_14",
		"iphone_se",
		"pixel_8",
		"galaxy_s24",
		"ipad_pro_12",
		"ipad_air",
		"desktop_1080p",
		"desktop_1440p",
		"laptop",
	}
}
