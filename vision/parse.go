package vision

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/types"
)

// JSONOutputInstruction 追加到提示词末尾的结构化输出要求
const JSONOutputInstruction = `

IMPORTANT: Respond with a valid JSON object following this exact structure:
{
  "findings": [
    {
      "id": "unique-id",
      "category": "animation|visual_artifact|layout|timing|accessibility|performance",
      "severity": "critical|major|minor|info",
      "confidence": 0-100,
      "timestamp": null or seconds (for video),
      "element": "description of affected element",
      "description": "what is wrong",
      "suggestion": "how to fix it",
      "bounding_box": null or {"x": 0, "y": 0, "width": 100, "height": 100},
      "evidence": "visual evidence supporting this finding"
    }
  ],
  "summary": "brief overall summary",
  "overall_score": 0-100 (100 = no issues)
}

Only return the JSON object, no markdown formatting or additional text.`

// structuredPayload 模型返回的 JSON 结构
type structuredPayload struct {
	Findings []struct {
		ID          string             `json:"id"`
		Category    string             `json:"category"`
		Severity    string             `json:"severity"`
		Confidence  *int               `json:"confidence"`
		Timestamp   *float64           `json:"timestamp"`
		Element     string             `json:"element"`
		Description string             `json:"description"`
		Suggestion  string             `json:"suggestion"`
		BoundingBox *types.BoundingBox `json:"bounding_box"`
		Evidence    string             `json:"evidence"`
	} `json:"findings"`
	Summary      string `json:"summary"`
	OverallScore *int   `json:"overall_score"`
}

// ParseStructuredResponse 将模型回答解析为结构化分析结果
// 模型经常把 JSON 包在 Markdown 代码块里，先剥掉围栏再解析；
// 解析失败时降级为把原始文本（截断到 500 字符）作为摘要返回，不让调用失败
func ParseStructuredResponse(response, provider, model string, durationMS int64, logger *zap.Logger) *types.AnalysisResult {
	if logger == nil {
		logger = zap.NewNop()
	}

	clean := stripCodeFences(strings.TrimSpace(response))

	var payload structuredPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		logger.Warn("failed to parse structured response", zap.Error(err))

		summary := response
		if len(summary) > 500 {
			summary = summary[:500]
		}
		return &types.AnalysisResult{
			ID:           shortID(),
			Success:      true,
			Findings:     []types.Finding{},
			Summary:      summary,
			OverallScore: 100,
			Metadata: types.AnalysisMetadata{
				Provider:           provider,
				Model:              model,
				AnalysisDurationMS: durationMS,
			},
		}
	}

	findings := make([]types.Finding, 0, len(payload.Findings))
	for _, f := range payload.Findings {
		finding := types.Finding{
			ID:          f.ID,
			Category:    types.IssueCategory(f.Category),
			Severity:    types.Severity(f.Severity),
			Confidence:  50,
			Timestamp:   f.Timestamp,
			Element:     f.Element,
			Description: f.Description,
			Suggestion:  f.Suggestion,
			BoundingBox: f.BoundingBox,
			Evidence:    f.Evidence,
		}
		if finding.ID == "" {
			finding.ID = shortID()
		}
		if finding.Category == "" {
			finding.Category = types.CategoryVisualArtifact
		}
		if finding.Severity == "" {
			finding.Severity = types.SeverityMinor
		}
		if f.Confidence != nil {
			finding.Confidence = *f.Confidence
		}
		if finding.Element == "" {
			finding.Element = "Unknown element"
		}
		findings = append(findings, finding)
	}

	score := 100 - len(findings)*10
	if payload.OverallScore != nil {
		score = *payload.OverallScore
	}
	if score < 0 {
		score = 0
	}

	summary := payload.Summary
	if summary == "" {
		summary = "Analysis complete"
	}

	return &types.AnalysisResult{
		ID:           shortID(),
		Success:      true,
		Findings:     findings,
		Summary:      summary,
		OverallScore: score,
		Metadata: types.AnalysisMetadata{
			Provider:           provider,
			Model:              model,
			AnalysisDurationMS: durationMS,
		},
	}
}

// stripCodeFences 剥离 Markdown 代码块围栏，保留围栏内部内容
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}

	var inner []string
	inBlock := false
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "```") {
			inBlock = !inBlock
			continue
		}
		if inBlock {
			inner = append(inner, line)
		}
	}
	return strings.Join(inner, "\n")
}

// shortID 生成 8 字符的短 ID
func shortID() string {
	return uuid.NewString()[:8]
}
