// Package baseline 存取分析基线并与当前结果比较，检测视觉回归
// 基线以 JSON 文件落盘，一个目录一套基线；比较本身是纯函数
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/animawatch/types"
)

// DefaultScoreThreshold 视为显著变化的分数差
const DefaultScoreThreshold = 5

// Baseline 一份已保存的分析基线
type Baseline struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	URL            string                `json:"url"`
	CreatedAt      time.Time             `json:"created_at"`
	AnalysisResult *types.AnalysisResult `json:"analysis_result"`
	// ScreenshotHash 基线截图的 SHA-256（保存时提供了截图才有）
	ScreenshotHash string            `json:"screenshot_hash,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Comparison 当前结果与基线的比较结论
type Comparison struct {
	BaselineID   string `json:"baseline_id"`
	BaselineName string `json:"baseline_name"`
	IsRegression bool   `json:"is_regression"`
	// ScoreDelta 正数为改善，负数为回归
	ScoreDelta        int             `json:"score_delta"`
	NewFindings       []types.Finding `json:"new_findings"`
	ResolvedFindings  []types.Finding `json:"resolved_findings"`
	UnchangedFindings []types.Finding `json:"unchanged_findings"`
	Summary           string          `json:"summary"`
}

// Store 基线的文件存储
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore 创建基线存储，目录不存在时自动创建
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create baseline directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    dir,
		logger: logger.With(zap.String("component", "baseline_store")),
	}, nil
}

// Save 保存一份新基线
// screenshotPath 非空且文件存在时记录其内容哈希，供后续像素级比对参考
func (s *Store) Save(name, url string, result *types.AnalysisResult, screenshotPath string) (*Baseline, error) {
	now := time.Now()
	b := &Baseline{
		ID:             generateID(name, url, now),
		Name:           name,
		URL:            url,
		CreatedAt:      now,
		AnalysisResult: result,
	}

	if screenshotPath != "" {
		hash, err := hashFile(screenshotPath)
		if err == nil {
			b.ScreenshotHash = hash
		}
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal baseline: %w", err)
	}
	if err := os.WriteFile(s.path(b.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("write baseline: %w", err)
	}

	s.logger.Info("baseline saved",
		zap.String("id", b.ID),
		zap.String("name", name),
	)
	return b, nil
}

// Load 按 ID 加载基线；不存在时错误满足 os.IsNotExist
func (s *Store) Load(id string) (*Baseline, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal baseline %s: %w", id, err)
	}
	return &b, nil
}

// List 列出目录下的全部基线
func (s *Store) List() ([]*Baseline, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}

	baselines := make([]*Baseline, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var b Baseline
		if err := json.Unmarshal(data, &b); err != nil {
			s.logger.Warn("skipping malformed baseline file",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		baselines = append(baselines, &b)
	}
	return baselines, nil
}

// Delete 按 ID 删除基线，返回是否存在
func (s *Store) Delete(id string) (bool, error) {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// generateID 由名称、URL 与时间生成基线 ID（SHA-256 前 16 个十六进制字符）
func generateID(name, url string, now time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", name, url, now.Format(time.RFC3339Nano))))
	return hex.EncodeToString(h[:])[:16]
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compare 比较当前分析结果与基线
//
// 回归判定：分数下跌超过 scoreThreshold，或出现任何 critical/major 级别的新发现。
// 发现按 ID 配对：出现在当前而不在基线里的算新增，反之算已解决。
func Compare(current *types.AnalysisResult, baseline *Baseline, scoreThreshold int) *Comparison {
	baselineResult := baseline.AnalysisResult
	scoreDelta := current.OverallScore - baselineResult.OverallScore

	currentIDs := findingIDs(current.Findings)
	baselineIDs := findingIDs(baselineResult.Findings)

	newFindings := []types.Finding{}
	unchangedFindings := []types.Finding{}
	for _, f := range current.Findings {
		if baselineIDs[f.ID] {
			unchangedFindings = append(unchangedFindings, f)
		} else {
			newFindings = append(newFindings, f)
		}
	}

	resolvedFindings := []types.Finding{}
	for _, f := range baselineResult.Findings {
		if !currentIDs[f.ID] {
			resolvedFindings = append(resolvedFindings, f)
		}
	}

	isRegression := scoreDelta < -scoreThreshold
	for _, f := range newFindings {
		if f.Severity == types.SeverityCritical || f.Severity == types.SeverityMajor {
			isRegression = true
			break
		}
	}

	var summary string
	switch {
	case isRegression:
		summary = fmt.Sprintf("REGRESSION: score dropped by %d points; %d new issues found.",
			abs(scoreDelta), len(newFindings))
	case scoreDelta > scoreThreshold:
		summary = fmt.Sprintf("IMPROVEMENT: score improved by %d points; %d issues resolved.",
			scoreDelta, len(resolvedFindings))
	default:
		summary = fmt.Sprintf("STABLE: score unchanged (%d/100).", current.OverallScore)
	}

	return &Comparison{
		BaselineID:        baseline.ID,
		BaselineName:      baseline.Name,
		IsRegression:      isRegression,
		ScoreDelta:        scoreDelta,
		NewFindings:       newFindings,
		ResolvedFindings:  resolvedFindings,
		UnchangedFindings: unchangedFindings,
		Summary:           summary,
	}
}

func findingIDs(findings []types.Finding) map[string]bool {
	ids := make(map[string]bool, len(findings))
	for _, f := range findings {
		ids[f.ID] = true
	}
	return ids
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
