package analysis_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/itrack/internal/analysis"
	"codeberg.org/mutker/itrack/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(t *testing.T, ms []analysis.Metric, questionID, key string) analysis.Metric {
	t.Helper()
	for _, m := range ms {
		if m.QuestionID == questionID && m.Key == key {
			return m
		}
	}
	require.Failf(t, "metric not found", "%s/%s", questionID, key)
	return analysis.Metric{}
}

func has(ms []analysis.Metric, questionID, key string) bool {
	for _, m := range ms {
		if m.QuestionID == questionID && m.Key == key {
			return true
		}
	}
	return false
}

func typed(questionID string, keys []string, start, step, hold float64) []telemetry.KeyEvent {
	var out []telemetry.KeyEvent
	for i, k := range keys {
		at := start + float64(i)*step
		out = append(out,
			telemetry.KeyEvent{Type: telemetry.KeyDown, Key: k, Timestamp: at, QuestionID: questionID},
			telemetry.KeyEvent{Type: telemetry.KeyUp, Key: k, Timestamp: at + hold, QuestionID: questionID},
		)
	}
	return out
}

func TestCalculateEmptyPayload(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{})
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.All())
}

func TestClickPrecision(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		Interactions: []telemetry.InteractionEvent{
			{TargetID: "a", ClickX: 100, ClickY: 0, TargetX: 100, TargetY: 0},
			{TargetID: "a", ClickX: 40, ClickY: 0, TargetX: 100, TargetY: 0},
		},
	})

	m := find(t, r.Global, analysis.GlobalQuestion, analysis.ClickPrecision)
	assert.InDelta(t, 0.5, m.Value, 1e-9)
	assert.Equal(t, 2, m.SampleSize)
}

func TestExtremeCoordinatesYieldNoMetric(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		Interactions: []telemetry.InteractionEvent{
			{TargetID: "a", QuestionID: "q1", ClickX: -1.7e308, ClickY: -1.7e308, TargetX: 1.7e308, TargetY: 1.7e308},
		},
	})

	assert.False(t, has(r.Questions, "q1", analysis.ClickPrecision))
	for _, m := range r.All() {
		assert.False(t, math.IsNaN(m.Value) || math.IsInf(m.Value, 0), m.Key)
	}
}

func TestPathEfficiency(t *testing.T) {
	tests := []struct {
		name  string
		moves []telemetry.MovementSample
		want  float64
	}{
		{
			name: "straight",
			moves: []telemetry.MovementSample{
				{X: 0, Y: 0, Timestamp: 0, TargetID: "t1"},
				{X: 30, Y: 40, Timestamp: 50, TargetID: "t1"},
			},
			want: 1,
		},
		{
			name: "detour",
			moves: []telemetry.MovementSample{
				{X: 0, Y: 0, Timestamp: 0, TargetID: "t1"},
				{X: 0, Y: 80, Timestamp: 50, TargetID: "t1"},
			},
			want: 100.0 / 140.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := analysis.Calculate(telemetry.Payload{
				Movements: tt.moves,
				Interactions: []telemetry.InteractionEvent{
					{TargetID: "t1", ClickX: 60, ClickY: 80, TargetX: 60, TargetY: 80, Timestamp: 100},
				},
			})
			m := find(t, r.Global, analysis.GlobalQuestion, analysis.PathEfficiency)
			assert.InDelta(t, tt.want, m.Value, 1e-9)
			assert.Equal(t, 1, m.SampleSize)
		})
	}
}

func TestPathEfficiencyIgnoresShortApproach(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		Movements: []telemetry.MovementSample{
			{X: 0, Y: 0, Timestamp: 0, TargetID: "t1"},
			{X: 3, Y: 3, Timestamp: 50, TargetID: "t1"},
		},
		Interactions: []telemetry.InteractionEvent{{TargetID: "t1", ClickX: 5, ClickY: 5}},
	})
	assert.False(t, has(r.Global, analysis.GlobalQuestion, analysis.PathEfficiency))
}

func TestOvershootRate(t *testing.T) {
	path := func(xs ...float64) []telemetry.MovementSample {
		out := make([]telemetry.MovementSample, len(xs))
		for i, x := range xs {
			out[i] = telemetry.MovementSample{X: x, Y: 100, Timestamp: float64(i * 50), TargetID: "t1"}
		}
		return out
	}
	click := []telemetry.InteractionEvent{{TargetID: "t1", ClickX: 100, ClickY: 100, TargetX: 100, TargetY: 100}}

	r := analysis.Calculate(telemetry.Payload{Movements: path(0, 50, 100, 130, 150), Interactions: click})
	assert.InDelta(t, 1, find(t, r.Global, analysis.GlobalQuestion, analysis.OvershootRate).Value, 1e-9)

	r = analysis.Calculate(telemetry.Payload{Movements: path(0, 25, 50, 75, 100), Interactions: click})
	assert.InDelta(t, 0, find(t, r.Global, analysis.GlobalQuestion, analysis.OvershootRate).Value, 1e-9)

	r = analysis.Calculate(telemetry.Payload{Movements: path(0, 50, 100), Interactions: click})
	assert.False(t, has(r.Global, analysis.GlobalQuestion, analysis.OvershootRate))
}

func TestVelocity(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		Movements: []telemetry.MovementSample{
			{X: 0, Y: 0, Timestamp: 0},
			{X: 100, Y: 0, Timestamp: 100},
			{X: 300, Y: 0, Timestamp: 200},
			{X: 600, Y: 0, Timestamp: 300},
		},
	})

	avg := find(t, r.Global, analysis.GlobalQuestion, analysis.AverageVelocity)
	assert.InDelta(t, 2000, avg.Value, 1e-6)
	assert.Equal(t, 3, avg.SampleSize)

	cv := find(t, r.Global, analysis.GlobalQuestion, analysis.VelocityVariability)
	assert.InDelta(t, 0.5, cv.Value, 1e-9)
}

func TestVelocitySkipsNoiseAndJumps(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		Movements: []telemetry.MovementSample{
			{X: 0, Y: 0, Timestamp: 0},
			{X: 0.5, Y: 0, Timestamp: 100},
			{X: 5000, Y: 0, Timestamp: 150},
		},
	})
	assert.False(t, has(r.Global, analysis.GlobalQuestion, analysis.AverageVelocity))
}

func TestTypingMetrics(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		KeyboardEvents: typed("q1", []string{"h", "e", "l", "p", "o"}, 0, 200, 100),
	})

	assert.Empty(t, r.Global)
	assert.InDelta(t, 6.25, find(t, r.Questions, "q1", analysis.TypingSpeed).Value, 1e-9)
	assert.InDelta(t, 200, find(t, r.Questions, "q1", analysis.AverageInterKeyInterval).Value, 1e-9)
	assert.InDelta(t, 0, find(t, r.Questions, "q1", analysis.TypingRhythmVariability).Value, 1e-9)
	assert.InDelta(t, 100, find(t, r.Questions, "q1", analysis.AverageKeyHoldTime).Value, 1e-9)
	assert.InDelta(t, 0, find(t, r.Questions, "q1", analysis.CorrectionRate).Value, 1e-9)
	assert.InDelta(t, 100, find(t, r.Questions, "q1", analysis.KeyboardFluency).Value, 1e-9)

	// Four intervals are not enough for pause detection, and there were
	// no corrections to classify.
	assert.False(t, has(r.Questions, "q1", analysis.PauseRate))
	assert.False(t, has(r.Questions, "q1", analysis.ImmediateCorrectionTendency))
}

func TestPauseRates(t *testing.T) {
	var events []telemetry.KeyEvent
	for i, at := range []float64{0, 100, 200, 300, 400, 6400} {
		events = append(events, telemetry.KeyEvent{Type: telemetry.KeyDown, Key: string(rune('a' + i)), Timestamp: at})
	}

	r := analysis.Calculate(telemetry.Payload{KeyboardEvents: events})

	assert.InDelta(t, 0.2, find(t, r.Global, analysis.GlobalQuestion, analysis.PauseRate).Value, 1e-9)
	assert.InDelta(t, 0.2, find(t, r.Global, analysis.GlobalQuestion, analysis.DeepThinkingPauseRate).Value, 1e-9)
}

func TestCorrections(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		KeyboardEvents: typed("", []string{"a", "b", "Backspace", "c", "Backspace", "d"}, 0, 150, 80),
	})

	rate := find(t, r.Global, analysis.GlobalQuestion, analysis.CorrectionRate)
	assert.InDelta(t, 0.5, rate.Value, 1e-9)
	assert.Equal(t, 4, rate.SampleSize)

	tendency := find(t, r.Global, analysis.GlobalQuestion, analysis.ImmediateCorrectionTendency)
	assert.InDelta(t, 0.5, tendency.Value, 1e-9)
	assert.Equal(t, 2, tendency.SampleSize)
}

func TestHoldTimesOutsideRangeAreIgnored(t *testing.T) {
	r := analysis.Calculate(telemetry.Payload{
		KeyboardEvents: typed("", []string{"a", "b", "c", "d", "e"}, 0, 2000, 1500),
	})
	assert.False(t, has(r.Global, analysis.GlobalQuestion, analysis.AverageKeyHoldTime))
}

func TestBucketsByQuestion(t *testing.T) {
	p := telemetry.Payload{
		Interactions: []telemetry.InteractionEvent{
			{TargetID: "a", QuestionID: "q1", ClickX: 10, ClickY: 10, TargetX: 10, TargetY: 10},
			{TargetID: "b", QuestionID: "q2", ClickX: 10, ClickY: 10, TargetX: 10, TargetY: 10},
			{TargetID: "c", ClickX: 10, ClickY: 10, TargetX: 10, TargetY: 10},
		},
	}

	r := analysis.Calculate(p)

	require.Len(t, r.Global, 1)
	require.Len(t, r.Questions, 2)
	assert.Equal(t, "q1", r.Questions[0].QuestionID)
	assert.Equal(t, "q2", r.Questions[1].QuestionID)
	for _, m := range r.All() {
		assert.Equal(t, analysis.ClickPrecision, m.Key)
		assert.Equal(t, 1, m.SampleSize)
	}
}
