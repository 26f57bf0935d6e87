// Package consensus 用多个视觉后端交叉分析同一产物并合并结果
// 两个模型都报告的问题可信度更高，合并时取更高的严重程度与置信度
package consensus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/types"
)

// DefaultSimilarityThreshold 判定两条发现为同一问题的词重叠阈值
const DefaultSimilarityThreshold = 0.7

// StructuredAnalyzer 能产出结构化分析结果的客户端
type StructuredAnalyzer interface {
	AnalyzeImageStructured(ctx context.Context, imagePath, prompt string) (*types.AnalysisResult, error)
}

// Result 多模型共识分析结果
type Result struct {
	// MergedFindings 合并后的全部发现：先放双方一致的，再放各自独有的
	MergedFindings []types.Finding `json:"merged_findings"`
	// PrimaryOnly 仅主后端报告的发现
	PrimaryOnly []types.Finding `json:"primary_only"`
	// SecondaryOnly 仅次后端报告的发现
	SecondaryOnly []types.Finding `json:"secondary_only"`
	// AgreedFindings 双方一致的发现
	AgreedFindings []types.Finding `json:"agreed_findings"`
	// PrimaryResult 主后端原始结果（失败时为 nil）
	PrimaryResult *types.AnalysisResult `json:"primary_result,omitempty"`
	// SecondaryResult 次后端原始结果（失败时为 nil）
	SecondaryResult *types.AnalysisResult `json:"secondary_result,omitempty"`
	// ConsensusScore 0-100，越高说明两个模型的判断越一致
	ConsensusScore float64 `json:"consensus_score"`
}

// Analyzer 跨两个后端做共识分析
type Analyzer struct {
	primary   StructuredAnalyzer
	secondary StructuredAnalyzer
	threshold float64
	logger    *zap.Logger
}

// New 创建共识分析器
func New(primary, secondary StructuredAnalyzer, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		primary:   primary,
		secondary: secondary,
		threshold: DefaultSimilarityThreshold,
		logger:    logger.With(zap.String("component", "consensus")),
	}
}

// WithSimilarityThreshold 调整相似度阈值（0-1）
func (a *Analyzer) WithSimilarityThreshold(threshold float64) *Analyzer {
	a.threshold = threshold
	return a
}

// AnalyzeImage 并发调用两个后端并合并发现
// 允许其中一个后端失败；两个都失败时返回错误
func (a *Analyzer) AnalyzeImage(ctx context.Context, imagePath, prompt string) (*Result, error) {
	var (
		wg                       sync.WaitGroup
		primaryRes, secondaryRes *types.AnalysisResult
		primaryErr, secondaryErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		primaryRes, primaryErr = a.primary.AnalyzeImageStructured(ctx, imagePath, prompt)
		if primaryErr != nil {
			a.logger.Warn("primary analysis failed", zap.Error(primaryErr))
		}
	}()
	go func() {
		defer wg.Done()
		secondaryRes, secondaryErr = a.secondary.AnalyzeImageStructured(ctx, imagePath, prompt)
		if secondaryErr != nil {
			a.logger.Warn("secondary analysis failed", zap.Error(secondaryErr))
		}
	}()
	wg.Wait()

	if primaryErr != nil && secondaryErr != nil {
		return nil, types.NewError(types.ErrProcessingFailed,
			fmt.Sprintf("all providers failed: primary: %v; secondary: %v", primaryErr, secondaryErr))
	}

	result := a.merge(primaryRes, secondaryRes)

	a.logger.Info("consensus analysis complete",
		zap.Int("agreed", len(result.AgreedFindings)),
		zap.Int("primary_only", len(result.PrimaryOnly)),
		zap.Int("secondary_only", len(result.SecondaryOnly)),
		zap.Float64("consensus_score", result.ConsensusScore),
	)

	return result, nil
}

// merge 按类别与描述相似度把两组发现配对
func (a *Analyzer) merge(primaryRes, secondaryRes *types.AnalysisResult) *Result {
	var primaryFindings, secondaryFindings []types.Finding
	if primaryRes != nil {
		primaryFindings = primaryRes.Findings
	}
	if secondaryRes != nil {
		secondaryFindings = secondaryRes.Findings
	}

	agreed := []types.Finding{}
	primaryOnly := []types.Finding{}
	matched := make(map[int]bool, len(secondaryFindings))

	for _, pf := range primaryFindings {
		found := false
		for i, sf := range secondaryFindings {
			if matched[i] {
				continue
			}
			if !findingsSimilar(pf, sf, a.threshold) {
				continue
			}

			// 合并：取更高的严重程度与置信度，描述并列展示
			mergedFinding := pf
			mergedFinding.Severity = types.MaxSeverity(pf.Severity, sf.Severity)
			if sf.Confidence > mergedFinding.Confidence {
				mergedFinding.Confidence = sf.Confidence
			}
			if mergedFinding.Timestamp == nil {
				mergedFinding.Timestamp = sf.Timestamp
			}
			mergedFinding.Description = fmt.Sprintf("%s / %s", pf.Description, sf.Description)
			if mergedFinding.Suggestion == "" {
				mergedFinding.Suggestion = sf.Suggestion
			}
			if mergedFinding.Evidence == "" {
				mergedFinding.Evidence = sf.Evidence
			}

			agreed = append(agreed, mergedFinding)
			matched[i] = true
			found = true
			break
		}
		if !found {
			primaryOnly = append(primaryOnly, pf)
		}
	}

	secondaryOnly := []types.Finding{}
	for i, sf := range secondaryFindings {
		if !matched[i] {
			secondaryOnly = append(secondaryOnly, sf)
		}
	}

	total := len(primaryFindings) + len(secondaryFindings)
	score := 100.0
	if total > 0 {
		// 每条一致的发现在双方各计一次
		score = float64(len(agreed)*2) / float64(total) * 100
	}

	merged := make([]types.Finding, 0, len(agreed)+len(primaryOnly)+len(secondaryOnly))
	merged = append(merged, agreed...)
	merged = append(merged, primaryOnly...)
	merged = append(merged, secondaryOnly...)

	return &Result{
		MergedFindings:  merged,
		PrimaryOnly:     primaryOnly,
		SecondaryOnly:   secondaryOnly,
		AgreedFindings:  agreed,
		PrimaryResult:   primaryRes,
		SecondaryResult: secondaryRes,
		ConsensusScore:  score,
	}
}

// findingsSimilar 判断两条发现是否指向同一问题：类别必须相同，
// 描述按小写分词后的 Jaccard 相似度达到阈值
func findingsSimilar(f1, f2 types.Finding, threshold float64) bool {
	if f1.Category != f2.Category {
		return false
	}

	words1 := wordSet(f1.Description)
	words2 := wordSet(f2.Description)
	if len(words1) == 0 || len(words2) == 0 {
		return false
	}

	overlap := 0
	for w := range words1 {
		if words2[w] {
			overlap++
		}
	}
	union := len(words1) + len(words2) - overlap
	if union == 0 {
		return false
	}

	return float64(overlap)/float64(union) >= threshold
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
