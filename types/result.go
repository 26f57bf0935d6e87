package types

import (
	"fmt"
	"strings"
)

// Severity 问题严重程度
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// severityRank 用于比较严重程度（越大越严重）
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityMajor:    3,
	SeverityMinor:    2,
	SeverityInfo:     1,
}

// MaxSeverity 返回两个严重程度中更高的一个
func MaxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

// IssueCategory 视觉问题分类
type IssueCategory string

const (
	CategoryAnimation      IssueCategory = "animation"
	CategoryVisualArtifact IssueCategory = "visual_artifact"
	CategoryLayout         IssueCategory = "layout"
	CategoryTiming         IssueCategory = "timing"
	CategoryAccessibility  IssueCategory = "accessibility"
	CategoryPerformance    IssueCategory = "performance"
)

// BoundingBox 问题所在位置的边界框（像素坐标）
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Finding 单条视觉分析发现
// Confidence 为 0-100 的置信度分数，用于抑制模型幻觉
type Finding struct {
	ID          string        `json:"id"`
	Category    IssueCategory `json:"category"`
	Severity    Severity      `json:"severity"`
	Confidence  int           `json:"confidence"`
	Timestamp   *float64      `json:"timestamp,omitempty"` // 视频分析时的时间点（秒）
	Element     string        `json:"element"`
	Description string        `json:"description"`
	Suggestion  string        `json:"suggestion"`
	BoundingBox *BoundingBox  `json:"bounding_box,omitempty"`
	Evidence    string        `json:"evidence,omitempty"`
}

// AnalysisMetadata 分析过程元数据
type AnalysisMetadata struct {
	Provider           string `json:"provider"`
	Model              string `json:"model"`
	AnalysisDurationMS int64  `json:"analysis_duration_ms"`
	FrameCount         int    `json:"frame_count,omitempty"`
}

// AnalysisResult 完整的结构化分析结果
type AnalysisResult struct {
	ID           string           `json:"id"`
	URL          string           `json:"url,omitempty"`
	Success      bool             `json:"success"`
	Findings     []Finding        `json:"findings"`
	Summary      string           `json:"summary"`
	OverallScore int              `json:"overall_score"` // 0-100，100 表示没有问题
	Metadata     AnalysisMetadata `json:"metadata"`
}

// CountBySeverity 统计指定严重程度的发现数量
func (r *AnalysisResult) CountBySeverity(s Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// CriticalCount 严重问题数量
func (r *AnalysisResult) CriticalCount() int { return r.CountBySeverity(SeverityCritical) }

// MajorCount 主要问题数量
func (r *AnalysisResult) MajorCount() int { return r.CountBySeverity(SeverityMajor) }

// MinorCount 次要问题数量
func (r *AnalysisResult) MinorCount() int { return r.CountBySeverity(SeverityMinor) }

// AverageConfidence 所有发现的平均置信度（无发现时返回 100）
func (r *AnalysisResult) AverageConfidence() float64 {
	if len(r.Findings) == 0 {
		return 100.0
	}
	total := 0
	for _, f := range r.Findings {
		total += f.Confidence
	}
	return float64(total) / float64(len(r.Findings))
}

// ToMarkdown 渲染为人类可读的 Markdown 摘要
func (r *AnalysisResult) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Visual Analysis %s\n\n", r.ID)
	if r.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n\n", r.URL)
	}
	fmt.Fprintf(&b, "**Score**: %d/100\n\n%s\n", r.OverallScore, r.Summary)

	if len(r.Findings) > 0 {
		b.WriteString("\n## Findings\n")
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "- [%s/%s] %s: %s (confidence %d)\n",
				f.Severity, f.Category, f.Element, f.Description, f.Confidence)
			if f.Suggestion != "" {
				fmt.Fprintf(&b, "  - Fix: %s\n", f.Suggestion)
			}
		}
	}
	return b.String()
}
