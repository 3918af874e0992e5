package analysis

import (
	"math"

	"codeberg.org/mutker/itrack/internal/telemetry"
)

const (
	minKeyEvents       = 3
	minKeydowns        = 5
	minIntervals       = 3
	minPauseIntervals  = 5
	minHoldTimes       = 5
	minCharacters      = 3
	immediateWindow    = 3 // keydowns between two corrections
	intervalPercentile = 0.95
	intervalCeiling    = 1.5

	minHoldTime      = 20.0   // ms
	maxHoldTime      = 1000.0 // ms
	minPauseTime     = 1000.0 // ms
	pauseFactor      = 3.0
	deepThinkingTime = 5000.0 // ms

	fluencyReferenceSpeed = 5.0 // keys/s
)

func isContentKey(key string) bool {
	return len(key) == 1 || key == "Space" || key == "Enter"
}

func isCorrectionKey(key string) bool {
	return key == "Backspace" || key == "Delete"
}

// keyboardMetrics expects events sorted by timestamp.
func keyboardMetrics(events []telemetry.KeyEvent) map[string]value {
	out := make(map[string]value)
	if len(events) < minKeyEvents {
		return out
	}

	var downs []telemetry.KeyEvent
	for _, ev := range events {
		if ev.Type == telemetry.KeyDown {
			downs = append(downs, ev)
		}
	}

	if v := typingSpeed(downs); v.calculated {
		out[TypingSpeed] = v
	}

	intervals := make([]float64, 0, len(downs))
	for i := 1; i < len(downs); i++ {
		intervals = append(intervals, downs[i].Timestamp-downs[i-1].Timestamp)
	}
	rhythm(out, intervals)
	pauses(out, intervals)
	holdTimes(out, events)
	corrections(out, downs)
	fluency(out)

	return out
}

func typingSpeed(downs []telemetry.KeyEvent) value {
	if len(downs) < minKeydowns {
		return value{}
	}
	content := 0
	for _, ev := range downs {
		if isContentKey(ev.Key) {
			content++
		}
	}
	seconds := (downs[len(downs)-1].Timestamp - downs[0].Timestamp) / 1000
	if seconds <= 0 || content == 0 {
		return value{}
	}
	return calculated(float64(content)/seconds, content)
}

// rhythm measures inter-key intervals after discarding those beyond 1.5x
// the 95th percentile.
func rhythm(out map[string]value, intervals []float64) {
	if len(intervals) < minIntervals {
		return
	}
	all := sorted(intervals)
	idx := int(float64(len(all)) * intervalPercentile)
	if idx >= len(all) {
		idx = len(all) - 1
	}
	ceiling := all[idx] * intervalCeiling

	kept := make([]float64, 0, len(intervals))
	for _, iv := range intervals {
		if iv <= ceiling {
			kept = append(kept, iv)
		}
	}
	if len(kept) < minIntervals {
		return
	}

	out[AverageInterKeyInterval] = calculated(mean(kept), len(kept))
	if cv, ok := coefficientOfVariation(kept); ok {
		out[TypingRhythmVariability] = calculated(cv, len(kept))
	}
}

func pauses(out map[string]value, intervals []float64) {
	if len(intervals) < minPauseIntervals {
		return
	}
	threshold := math.Max(mean(intervals)*pauseFactor, minPauseTime)

	var pause, deep int
	for _, iv := range intervals {
		if iv > threshold {
			pause++
			if iv > deepThinkingTime {
				deep++
			}
		}
	}
	n := float64(len(intervals))
	out[PauseRate] = calculated(float64(pause)/n, len(intervals))
	out[DeepThinkingPauseRate] = calculated(float64(deep)/n, len(intervals))
}

// holdTimes pairs each keyup with the latest keydown of the same key.
func holdTimes(out map[string]value, events []telemetry.KeyEvent) {
	pressed := make(map[string]float64)
	var holds []float64
	for _, ev := range events {
		switch ev.Type {
		case telemetry.KeyDown:
			pressed[ev.Key] = ev.Timestamp
		case telemetry.KeyUp:
			down, ok := pressed[ev.Key]
			if !ok {
				continue
			}
			delete(pressed, ev.Key)
			if hold := ev.Timestamp - down; hold >= minHoldTime && hold <= maxHoldTime {
				holds = append(holds, hold)
			}
		}
	}
	if len(holds) < minHoldTimes {
		return
	}

	kept := withinIQR(sorted(holds))
	if len(kept) < minHoldTimes {
		return
	}
	out[AverageKeyHoldTime] = calculated(mean(kept), len(kept))
	if cv, ok := coefficientOfVariation(kept); ok {
		out[KeyPressVariability] = calculated(cv, len(kept))
	}
}

func corrections(out map[string]value, downs []telemetry.KeyEvent) {
	if len(downs) < minKeydowns {
		return
	}

	var count, immediate, chars int
	last := -1
	for i, ev := range downs {
		switch {
		case isCorrectionKey(ev.Key):
			count++
			if last >= 0 && i-last <= immediateWindow {
				immediate++
			}
			last = i
		case isContentKey(ev.Key):
			chars++
		}
	}
	if chars < minCharacters {
		return
	}

	out[CorrectionRate] = calculated(float64(count)/float64(chars), chars)
	if count > 0 {
		out[ImmediateCorrectionTendency] = calculated(float64(immediate)/float64(count), count)
	}
}

// fluency combines speed, rhythm consistency and correction quality into a
// 0-100 score.
func fluency(out map[string]value) {
	speed, ok1 := out[TypingSpeed]
	_, ok2 := out[AverageInterKeyInterval]
	variability, ok3 := out[TypingRhythmVariability]
	if !ok1 || !ok2 || !ok3 {
		return
	}

	consistency := 1 / (1 + variability.v)
	quality := 1.0
	if c, ok := out[CorrectionRate]; ok {
		quality = 1 / (1 + c.v)
	}

	score := 100 * ((speed.v/fluencyReferenceSpeed)*0.4 + consistency*0.4 + quality*0.2)
	out[KeyboardFluency] = calculated(math.Min(score, 100), speed.samples)
}
