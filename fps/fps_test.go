package fps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steadyTimings 生成间隔完全一致的帧序列
func steadyTimings(frames int, deltaMS float64) []FrameTiming {
	timings := make([]FrameTiming, frames)
	for i := 0; i < frames; i++ {
		delta := deltaMS
		if i == 0 {
			delta = 0
		}
		timings[i] = FrameTiming{
			FrameNumber: i,
			TimestampMS: float64(i) * deltaMS,
			DeltaMS:     delta,
		}
	}
	return timings
}

func TestAnalyze_SteadySixtyFPS(t *testing.T) {
	result := Analyze(steadyTimings(120, 1000.0/60), DefaultOptions())

	assert.InDelta(t, 60.0, result.AverageFPS, 0.01)
	assert.InDelta(t, 60.0, result.MinFPS, 0.01)
	assert.InDelta(t, 60.0, result.MaxFPS, 0.01)
	assert.Equal(t, 120, result.TotalFrames)
	assert.Empty(t, result.JankEvents)
	assert.Zero(t, result.JankPercentage)
	assert.InDelta(t, 100.0, result.FrameTimeConsistency, 0.01)
}

func TestAnalyze_TooFewFrames(t *testing.T) {
	result := Analyze(steadyTimings(1, 16.67), DefaultOptions())

	assert.Zero(t, result.AverageFPS)
	assert.Equal(t, 1, result.TotalFrames)
	assert.Empty(t, result.JankEvents)
	assert.Equal(t, 100.0, result.FrameTimeConsistency)
	assert.Zero(t, result.DurationMS)
}

func TestAnalyze_JankSeverities(t *testing.T) {
	expected := 1000.0 / 60 // ~16.67ms

	timings := steadyTimings(10, expected)
	// minor: 偏差超过阈值但不到一个帧间隔
	timings[3].DeltaMS = expected + 10
	// major: 偏差超过一个帧间隔
	timings[5].DeltaMS = expected * 2.5
	// severe: 偏差超过两个帧间隔，估算掉帧数
	timings[7].DeltaMS = expected * 4

	result := Analyze(timings, DefaultOptions())
	require.Len(t, result.JankEvents, 3)

	minor := result.JankEvents[0]
	assert.Equal(t, 3, minor.FrameNumber)
	assert.Equal(t, JankMinor, minor.Severity)
	assert.Equal(t, 0, minor.DroppedFrames)

	major := result.JankEvents[1]
	assert.Equal(t, JankMajor, major.Severity)
	assert.Equal(t, 1, major.DroppedFrames)

	severe := result.JankEvents[2]
	assert.Equal(t, JankSevere, severe.Severity)
	assert.Equal(t, 3, severe.DroppedFrames)

	assert.InDelta(t, 30.0, result.JankPercentage, 0.01)
}

func TestAnalyze_DeviationWithinThresholdIgnored(t *testing.T) {
	expected := 1000.0 / 60
	timings := steadyTimings(10, expected)
	timings[4].DeltaMS = expected + 4.9 // 低于默认 5ms 阈值

	result := Analyze(timings, DefaultOptions())
	assert.Empty(t, result.JankEvents)
}

func TestAnalyze_ConsistencyDegradesWithVariance(t *testing.T) {
	steady := Analyze(steadyTimings(60, 16.67), DefaultOptions())

	jittery := steadyTimings(60, 16.67)
	for i := 1; i < len(jittery); i += 2 {
		jittery[i].DeltaMS = 33.0
	}
	noisy := Analyze(jittery, DefaultOptions())

	assert.Greater(t, steady.FrameTimeConsistency, noisy.FrameTimeConsistency)
	assert.GreaterOrEqual(t, noisy.FrameTimeConsistency, 0.0)
}

func TestAnalyze_ThirtyFPSTarget(t *testing.T) {
	result := Analyze(steadyTimings(30, 1000.0/30), Options{TargetFPS: 30})

	assert.InDelta(t, 30.0, result.AverageFPS, 0.01)
	assert.Equal(t, 30.0, result.TargetFPS)
	assert.Empty(t, result.JankEvents)
}

func TestTimingsFromTimestamps(t *testing.T) {
	timings := TimingsFromTimestamps([]float64{0, 0.0167, 0.0334, 0.0667})
	require.Len(t, timings, 4)

	assert.Equal(t, 0, timings[0].FrameNumber)
	assert.Zero(t, timings[0].DeltaMS)
	assert.InDelta(t, 16.7, timings[1].DeltaMS, 0.01)
	assert.InDelta(t, 33.3, timings[3].DeltaMS, 0.01)
	assert.InDelta(t, 66.7, timings[3].TimestampMS, 0.01)
}

func TestReport(t *testing.T) {
	expected := 1000.0 / 60
	timings := steadyTimings(20, expected)
	timings[6].DeltaMS = expected * 4

	result := Analyze(timings, DefaultOptions())
	report := result.Report()

	assert.Contains(t, report, "# FPS Analysis Report")
	assert.Contains(t, report, "**Total Frames**: 20")
	assert.Contains(t, report, "**Jank Events**: 1")
	assert.Contains(t, report, "[severe]")
}

func TestReport_TruncatesEventList(t *testing.T) {
	expected := 1000.0 / 60
	timings := steadyTimings(40, expected)
	for i := 1; i < 16; i++ {
		timings[i].DeltaMS = expected * 3
	}

	result := Analyze(timings, DefaultOptions())
	require.Greater(t, len(result.JankEvents), 10)

	report := result.Report()
	assert.Contains(t, report, "more events")
}
