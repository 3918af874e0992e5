// Package analysis derives pointer and keyboard behaviour metrics from a
// telemetry payload.
package analysis

import (
	"math"
	"sort"

	"codeberg.org/mutker/itrack/internal/telemetry"
)

// GlobalQuestion is the question id reported for observations that were
// not attributed to a question.
const GlobalQuestion = "global"

// Metric keys.
const (
	ClickPrecision      = "click_precision"
	PathEfficiency      = "path_efficiency"
	OvershootRate       = "overshoot_rate"
	AverageVelocity     = "average_velocity"
	VelocityVariability = "velocity_variability"

	TypingSpeed                 = "typing_speed"
	AverageInterKeyInterval     = "average_inter_key_interval"
	TypingRhythmVariability     = "typing_rhythm_variability"
	AverageKeyHoldTime          = "average_key_hold_time"
	KeyPressVariability         = "key_press_variability"
	CorrectionRate              = "correction_rate"
	ImmediateCorrectionTendency = "immediate_correction_tendency"
	PauseRate                   = "pause_rate"
	DeepThinkingPauseRate       = "deep_thinking_pause_rate"
	KeyboardFluency             = "keyboard_fluency"
)

// Metric is one calculated value for a question bucket.
type Metric struct {
	QuestionID string  `json:"questionId"`
	Key        string  `json:"key"`
	Value      float64 `json:"value"`
	SampleSize int     `json:"sampleSize"`
}

// Result holds the metrics of one payload. Only metrics with enough data
// are present. Both lists are sorted by question id, then key.
type Result struct {
	Global    []Metric `json:"global"`
	Questions []Metric `json:"questions"`
}

// All returns global and per-question metrics in one list.
func (r Result) All() []Metric {
	out := make([]Metric, 0, len(r.Global)+len(r.Questions))
	out = append(out, r.Global...)
	return append(out, r.Questions...)
}

// Len is the number of calculated metrics.
func (r Result) Len() int {
	return len(r.Global) + len(r.Questions)
}

type value struct {
	v          float64
	calculated bool
	samples    int
}

// calculated marks v as reportable. Values that are not finite numbers
// cannot be stored and count as not calculated.
func calculated(v float64, samples int) value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return value{}
	}
	return value{v: v, calculated: true, samples: samples}
}

type bucket struct {
	movements    []telemetry.MovementSample
	interactions []telemetry.InteractionEvent
	keys         []telemetry.KeyEvent
}

// Calculate splits the payload into a global bucket and one bucket per
// question id and computes every metric for each.
func Calculate(p telemetry.Payload) Result {
	global := &bucket{}
	questions := make(map[string]*bucket)

	pick := func(questionID string) *bucket {
		if questionID == "" {
			return global
		}
		b, ok := questions[questionID]
		if !ok {
			b = &bucket{}
			questions[questionID] = b
		}
		return b
	}

	for _, m := range p.Movements {
		b := pick(m.QuestionID)
		b.movements = append(b.movements, m)
	}
	for _, i := range p.Interactions {
		b := pick(i.QuestionID)
		b.interactions = append(b.interactions, i)
	}
	for _, k := range p.KeyboardEvents {
		b := pick(k.QuestionID)
		b.keys = append(b.keys, k)
	}

	var r Result
	r.Global = global.metrics(GlobalQuestion)
	for id, b := range questions {
		r.Questions = append(r.Questions, b.metrics(id)...)
	}
	sortMetrics(r.Global)
	sortMetrics(r.Questions)
	return r
}

func (b *bucket) metrics(questionID string) []Metric {
	b.sort()

	values := map[string]value{
		ClickPrecision:      clickPrecision(b.interactions),
		PathEfficiency:      pathEfficiency(b.movements, b.interactions),
		OvershootRate:       overshootRate(b.movements, b.interactions),
		AverageVelocity:     averageVelocity(b.movements),
		VelocityVariability: velocityVariability(b.movements),
	}
	for k, v := range keyboardMetrics(b.keys) {
		values[k] = v
	}

	var out []Metric
	for key, v := range values {
		if !v.calculated {
			continue
		}
		out = append(out, Metric{
			QuestionID: questionID,
			Key:        key,
			Value:      v.v,
			SampleSize: v.samples,
		})
	}
	return out
}

func (b *bucket) sort() {
	sort.SliceStable(b.movements, func(i, j int) bool {
		return b.movements[i].Timestamp < b.movements[j].Timestamp
	})
	sort.SliceStable(b.keys, func(i, j int) bool {
		return b.keys[i].Timestamp < b.keys[j].Timestamp
	})
}

func sortMetrics(ms []Metric) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].QuestionID != ms[j].QuestionID {
			return ms[i].QuestionID < ms[j].QuestionID
		}
		return ms[i].Key < ms[j].Key
	})
}
