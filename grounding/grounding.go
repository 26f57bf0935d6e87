// Package grounding 通过视觉证据锚定与二次校验降低视觉模型的幻觉率
// 手段：
//  1. 锚定提示词：强制模型报告问题的屏幕位置、元素与坐标
//  2. 自校验第二遍：让模型带着怀疑态度复核第一遍的每条发现
//  3. 置信度调整：通过校验的发现加分，被否决的降级为 info 并扣分
package grounding

import (
	"context"
	"fmt"
	"image"
	"os"
	"regexp"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/types"
)

// VerificationStatus 发现的校验状态
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusVerified   VerificationStatus = "verified"
	StatusRejected   VerificationStatus = "rejected"
)

// GroundedFinding 带视觉证据的发现
type GroundedFinding struct {
	types.Finding

	// ScreenshotPath 作为证据的截图路径
	ScreenshotPath string `json:"screenshot_path,omitempty"`
	// GroundingBox 问题所在的边界框
	GroundingBox *types.BoundingBox `json:"grounding_box,omitempty"`
	// VerificationStatus 校验状态
	VerificationStatus VerificationStatus `json:"verification_status"`
	// VerificationReason 给出该状态的依据（模型复核回答的截断）
	VerificationReason string `json:"verification_reason,omitempty"`
}

// VerificationResult 单条发现的校验结论
type VerificationResult struct {
	Finding types.Finding
	// Verified 复核是否通过
	Verified bool
	// ConfidenceAdjustment 置信度调整量（正数加分，负数扣分）
	ConfidenceAdjustment int
	// Reason 模型复核回答的摘录
	Reason string
	// EvidencePath 证据截图路径
	EvidencePath string
}

// 校验通过 / 否决时的置信度调整量
const (
	verifiedConfidenceBonus   = 10
	rejectedConfidencePenalty = -30
)

// groundingPrompt 强制模型给出视觉证据的提示词附录
const groundingPrompt = `
When reporting issues, you MUST:
1. Describe exactly WHERE on the screen the issue appears (top/bottom/left/right/center)
2. Specify the ELEMENT involved (button, text, image, etc.)
3. Provide COORDINATES if possible (approximate x,y or bounding box)
4. Explain HOW you identified this issue visually

Format each finding as:
- Location: [exact screen position]
- Element: [specific element description]
- Coordinates: [x, y, width, height] or "unknown"
- Visual Evidence: [what you see that indicates this issue]
- Issue: [description of the problem]
`

// verificationPrompt 复核第一遍发现用的提示词模板
const verificationPrompt = `
Review the following findings and verify each one:

%s

For EACH finding, answer:
1. Is this issue clearly visible in the image? (yes/no/uncertain)
2. Is the location description accurate? (yes/no)
3. Could this be a false positive? (yes/no)
4. Confidence level after review (0-100)

Be skeptical. Reject findings that:
- Reference elements not visible in the image
- Have vague or incorrect location descriptions
- Could be misinterpretations of normal UI elements
`

// boundingBoxPrompt 要求模型给出像素级边界框的提示词模板
const boundingBoxPrompt = `
For each issue you identify, provide precise bounding box coordinates:

Format: [x, y, width, height] in pixels where:
- x: distance from left edge
- y: distance from top edge
- width: horizontal extent of the issue area
- height: vertical extent of the issue area

Image dimensions: %dx%d pixels

Only report issues where you can specify at least approximate coordinates.
If you cannot determine coordinates, mark as "location_uncertain": true.
`

// GroundedPrompt 在基础提示词上叠加证据锚定与边界框要求
func GroundedPrompt(base string, width, height int) string {
	return fmt.Sprintf("%s\n%s\n%s", base, groundingPrompt,
		fmt.Sprintf(boundingBoxPrompt, width, height))
}

// VerificationPromptFor 为一组发现生成复核提示词
func VerificationPromptFor(findings []types.Finding) string {
	var lines []string
	for i, f := range findings {
		location := f.Element
		if location == "" {
			location = "unknown location"
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s at %s", i+1, f.Severity, f.Description, location))
	}
	return fmt.Sprintf(verificationPrompt, strings.Join(lines, "\n"))
}

// boundingBoxPattern 匹配 [100, 200, 50, 30] 或 (100, 200, 50, 30) 形式的坐标
var boundingBoxPattern = regexp.MustCompile(`[\[(]\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*[\])]`)

// ParseBoundingBox 从模型回答中解析边界框坐标，找不到时返回 nil
func ParseBoundingBox(text string) *types.BoundingBox {
	m := boundingBoxPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	// 正则保证四个分组都是纯数字
	x, _ := strconv.Atoi(m[1])
	y, _ := strconv.Atoi(m[2])
	width, _ := strconv.Atoi(m[3])
	height, _ := strconv.Atoi(m[4])
	return &types.BoundingBox{X: x, Y: y, Width: width, Height: height}
}

// ApplyVerification 把校验结论套用到发现上，产出带证据的发现
// 被否决的发现降级为 info；置信度调整后截断在 [0, 100]
func ApplyVerification(f types.Finding, v VerificationResult) GroundedFinding {
	confidence := f.Confidence + v.ConfidenceAdjustment
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}

	severity := f.Severity
	status := StatusVerified
	if !v.Verified {
		severity = types.SeverityInfo
		status = StatusRejected
	}

	grounded := GroundedFinding{
		Finding:            f,
		GroundingBox:       f.BoundingBox,
		ScreenshotPath:     v.EvidencePath,
		VerificationStatus: status,
		VerificationReason: v.Reason,
	}
	grounded.Confidence = confidence
	grounded.Severity = severity
	return grounded
}

// Analyzer 校验流程依赖的视觉分析能力
type Analyzer interface {
	AnalyzeImage(ctx context.Context, imagePath, prompt string) (string, error)
	AnalyzeImageStructured(ctx context.Context, imagePath, prompt string) (*types.AnalysisResult, error)
}

// Verifier 多遍分析校验器
// 第一遍用锚定提示词找问题，第二遍逐条复核并过滤掉未通过的发现
type Verifier struct {
	analyzer Analyzer
	passes   int
	logger   *zap.Logger
}

// New 创建校验器，默认两遍分析（一遍发现 + 一遍复核）
func New(analyzer Analyzer, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		analyzer: analyzer,
		passes:   2,
		logger:   logger.With(zap.String("component", "grounding")),
	}
}

// WithPasses 调整分析遍数；小于 2 时跳过复核，所有发现保持 unverified
func (v *Verifier) WithPasses(n int) *Verifier {
	v.passes = n
	return v
}

// AnalyzeImage 对图片做多遍锚定分析
// 流程：读取图片尺寸 -> 锚定提示词做结构化分析 -> 逐条复核 -> 只保留通过的发现
func (v *Verifier) AnalyzeImage(ctx context.Context, imagePath, prompt string) ([]GroundedFinding, error) {
	width, height, err := imageSize(imagePath)
	if err != nil {
		return nil, err
	}

	initial, err := v.analyzer.AnalyzeImageStructured(ctx, imagePath, GroundedPrompt(prompt, width, height))
	if err != nil {
		return nil, err
	}

	if len(initial.Findings) == 0 || v.passes < 2 {
		grounded := make([]GroundedFinding, 0, len(initial.Findings))
		for _, f := range initial.Findings {
			grounded = append(grounded, unverified(f, imagePath))
		}
		return grounded, nil
	}

	verified := make([]GroundedFinding, 0, len(initial.Findings))
	for _, finding := range initial.Findings {
		answer, err := v.analyzer.AnalyzeImage(ctx, imagePath, VerificationPromptFor([]types.Finding{finding}))
		if err != nil {
			return nil, err
		}

		pass := parseVerification(answer)
		adjustment := rejectedConfidencePenalty
		if pass {
			adjustment = verifiedConfidenceBonus
		}

		result := VerificationResult{
			Finding:              finding,
			Verified:             pass,
			ConfidenceAdjustment: adjustment,
			Reason:               truncate(answer, 200),
			EvidencePath:         imagePath,
		}

		grounded := ApplyVerification(finding, result)
		if grounded.VerificationStatus == StatusVerified {
			verified = append(verified, grounded)
		} else {
			v.logger.Debug("finding rejected by verification pass",
				zap.String("finding_id", finding.ID),
				zap.String("description", finding.Description),
			)
		}
	}

	v.logger.Info("grounded analysis complete",
		zap.Int("initial", len(initial.Findings)),
		zap.Int("verified", len(verified)),
	)
	return verified, nil
}

// unverified 把普通发现包装成未校验的带证据发现
func unverified(f types.Finding, imagePath string) GroundedFinding {
	return GroundedFinding{
		Finding:            f,
		GroundingBox:       f.BoundingBox,
		ScreenshotPath:     imagePath,
		VerificationStatus: StatusUnverified,
	}
}

// parseVerification 从复核回答里统计正反两类信号，多数为正则通过
func parseVerification(answer string) bool {
	lower := strings.ToLower(answer)

	positive := 0
	for _, word := range []string{"yes", "verified", "confirmed", "visible", "accurate"} {
		if strings.Contains(lower, word) {
			positive++
		}
	}
	negative := 0
	for _, word := range []string{"no", "rejected", "not visible", "false positive", "uncertain"} {
		if strings.Contains(lower, word) {
			negative++
		}
	}
	return positive > negative
}

// imageSize 读取图片的像素尺寸（只解码头部，不加载整图）
func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
