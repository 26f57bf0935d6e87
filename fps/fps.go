// Package fps 分析动画帧时序，检测掉帧与卡顿
// 帧时间戳由调用方提供（通常来自录制管线或 ffprobe 输出），
// 本包只做纯计算，不解码视频
package fps

import (
	"fmt"
	"math"
	"strings"
)

// JankSeverity 卡顿严重程度
type JankSeverity string

const (
	JankMinor  JankSeverity = "minor"
	JankMajor  JankSeverity = "major"
	JankSevere JankSeverity = "severe"
)

// FrameTiming 单帧时序信息
type FrameTiming struct {
	FrameNumber int     `json:"frame_number"`
	TimestampMS float64 `json:"timestamp_ms"`
	// DeltaMS 与上一帧的间隔
	DeltaMS float64 `json:"delta_ms"`
}

// JankEvent 一次检测到的卡顿或掉帧事件
type JankEvent struct {
	FrameNumber     int          `json:"frame_number"`
	TimestampMS     float64      `json:"timestamp_ms"`
	ExpectedDeltaMS float64      `json:"expected_delta_ms"`
	ActualDeltaMS   float64      `json:"actual_delta_ms"`
	Severity        JankSeverity `json:"severity"`
	DroppedFrames   int          `json:"dropped_frames"`
}

// AnalysisResult FPS 与卡顿分析结果
type AnalysisResult struct {
	AverageFPS  float64     `json:"average_fps"`
	TargetFPS   float64     `json:"target_fps"`
	MinFPS      float64     `json:"min_fps"`
	MaxFPS      float64     `json:"max_fps"`
	TotalFrames int         `json:"total_frames"`
	JankEvents  []JankEvent `json:"jank_events"`
	// JankPercentage 出现卡顿的帧占比
	JankPercentage float64 `json:"jank_percentage"`
	// FrameTimeConsistency 0-100，越高帧间隔越稳定
	FrameTimeConsistency float64 `json:"frame_time_consistency"`
	DurationMS           float64 `json:"duration_ms"`
}

// Options 分析参数
type Options struct {
	// TargetFPS 期望帧率
	TargetFPS float64
	// JankThresholdMS 帧间隔偏离多少毫秒算作卡顿
	JankThresholdMS float64
}

// DefaultOptions 返回默认分析参数
func DefaultOptions() Options {
	return Options{
		TargetFPS:       60.0,
		JankThresholdMS: 5.0,
	}
}

// TimingsFromTimestamps 把帧时间戳（秒）转换为帧时序序列
func TimingsFromTimestamps(timestampsSec []float64) []FrameTiming {
	timings := make([]FrameTiming, 0, len(timestampsSec))
	prev := 0.0
	for i, sec := range timestampsSec {
		ms := sec * 1000
		delta := 0.0
		if i > 0 {
			delta = ms - prev
		}
		timings = append(timings, FrameTiming{
			FrameNumber: i,
			TimestampMS: ms,
			DeltaMS:     delta,
		})
		prev = ms
	}
	return timings
}

// Analyze 对帧时序做 FPS 一致性与卡顿分析
func Analyze(timings []FrameTiming, opts Options) *AnalysisResult {
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = 60.0
	}
	if opts.JankThresholdMS <= 0 {
		opts.JankThresholdMS = 5.0
	}

	if len(timings) < 2 {
		return &AnalysisResult{
			TargetFPS:            opts.TargetFPS,
			TotalFrames:          len(timings),
			JankEvents:           []JankEvent{},
			FrameTimeConsistency: 100.0,
		}
	}

	expectedDelta := 1000.0 / opts.TargetFPS

	var deltas []float64
	for _, f := range timings {
		if f.DeltaMS > 0 {
			deltas = append(deltas, f.DeltaMS)
		}
	}

	avgDelta := expectedDelta
	if len(deltas) > 0 {
		sum := 0.0
		for _, d := range deltas {
			sum += d
		}
		avgDelta = sum / float64(len(deltas))
	}

	minDelta, maxDelta := expectedDelta, expectedDelta
	if len(deltas) > 0 {
		minDelta, maxDelta = deltas[0], deltas[0]
		for _, d := range deltas[1:] {
			minDelta = math.Min(minDelta, d)
			maxDelta = math.Max(maxDelta, d)
		}
	}

	averageFPS := 0.0
	if avgDelta > 0 {
		averageFPS = 1000.0 / avgDelta
	}
	maxFPS := 0.0
	if minDelta > 0 {
		maxFPS = 1000.0 / minDelta
	}
	minFPS := 0.0
	if maxDelta > 0 {
		minFPS = 1000.0 / maxDelta
	}

	// 卡顿检测
	jankEvents := []JankEvent{}
	for _, frame := range timings {
		if frame.DeltaMS <= 0 {
			continue
		}

		deviation := math.Abs(frame.DeltaMS - expectedDelta)
		if deviation <= opts.JankThresholdMS {
			continue
		}

		var severity JankSeverity
		var dropped int
		switch {
		case deviation > expectedDelta*2:
			severity = JankSevere
			dropped = int(frame.DeltaMS/expectedDelta) - 1
		case deviation > expectedDelta:
			severity = JankMajor
			dropped = 1
		default:
			severity = JankMinor
		}

		jankEvents = append(jankEvents, JankEvent{
			FrameNumber:     frame.FrameNumber,
			TimestampMS:     frame.TimestampMS,
			ExpectedDeltaMS: expectedDelta,
			ActualDeltaMS:   frame.DeltaMS,
			Severity:        severity,
			DroppedFrames:   dropped,
		})
	}

	jankPercentage := float64(len(jankEvents)) / float64(len(timings)) * 100

	// 帧间隔稳定性
	variance := 0.0
	if len(deltas) > 0 {
		for _, d := range deltas {
			variance += (d - avgDelta) * (d - avgDelta)
		}
		variance /= float64(len(deltas))
	}
	stdDev := math.Sqrt(variance)
	consistency := math.Max(0.0, 100.0-stdDev/expectedDelta*100)

	return &AnalysisResult{
		AverageFPS:           averageFPS,
		TargetFPS:            opts.TargetFPS,
		MinFPS:               minFPS,
		MaxFPS:               maxFPS,
		TotalFrames:          len(timings),
		JankEvents:           jankEvents,
		JankPercentage:       jankPercentage,
		FrameTimeConsistency: consistency,
		DurationMS:           timings[len(timings)-1].TimestampMS,
	}
}

// Report 生成可读的 FPS 分析报告
func (r *AnalysisResult) Report() string {
	var b strings.Builder
	b.WriteString("# FPS Analysis Report\n\n## Summary\n")
	fmt.Fprintf(&b, "- **Average FPS**: %.1f (target: %g)\n", r.AverageFPS, r.TargetFPS)
	fmt.Fprintf(&b, "- **FPS Range**: %.1f - %.1f\n", r.MinFPS, r.MaxFPS)
	fmt.Fprintf(&b, "- **Total Frames**: %d\n", r.TotalFrames)
	fmt.Fprintf(&b, "- **Duration**: %.2fs\n", r.DurationMS/1000)
	fmt.Fprintf(&b, "- **Frame Time Consistency**: %.1f%%\n", r.FrameTimeConsistency)
	b.WriteString("\n## Jank Analysis\n")
	fmt.Fprintf(&b, "- **Jank Events**: %d\n", len(r.JankEvents))
	fmt.Fprintf(&b, "- **Jank Percentage**: %.2f%%\n", r.JankPercentage)

	if len(r.JankEvents) > 0 {
		b.WriteString("\n### Jank Events\n")
		shown := r.JankEvents
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for _, event := range shown {
			fmt.Fprintf(&b, "- Frame %d @ %.0fms: %.1fms (expected %.1fms) [%s]\n",
				event.FrameNumber, event.TimestampMS,
				event.ActualDeltaMS, event.ExpectedDeltaMS, event.Severity)
		}
		if len(r.JankEvents) > 10 {
			fmt.Fprintf(&b, "- ... and %d more events\n", len(r.JankEvents)-10)
		}
	}

	return b.String()
}
