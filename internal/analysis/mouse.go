package analysis

import (
	"math"

	"codeberg.org/mutker/itrack/internal/telemetry"
)

const (
	minPathDistance   = 10.0  // px; shorter approaches say nothing about efficiency
	noiseDistance     = 1.0   // px
	maxVelocity       = 10000 // px/s
	overshootSamples  = 5
	overshootMargin   = 1.1
	overshootScale    = 50.0 // px of retreat that scores a full overshoot
	velocityTrim      = 0.05
	minFilterSamples  = 10
	minVariabilitySet = 3
)

// clickPrecision is 1 minus the mean normalised distance between click
// and target centre.
func clickPrecision(clicks []telemetry.InteractionEvent) value {
	if len(clicks) == 0 {
		return value{}
	}

	var sum float64
	for _, c := range clicks {
		d := distance(c.ClickX, c.ClickY, c.TargetX, c.TargetY)
		limit := math.Hypot(c.TargetX, c.TargetY) / 2
		if limit <= 0 {
			limit = 1
		}
		sum += math.Min(d/limit, 1)
	}
	return calculated(1-sum/float64(len(clicks)), len(clicks))
}

func movementsByTarget(moves []telemetry.MovementSample) map[string][]telemetry.MovementSample {
	out := make(map[string][]telemetry.MovementSample)
	for _, m := range moves {
		if m.TargetID != "" {
			out[m.TargetID] = append(out[m.TargetID], m)
		}
	}
	return out
}

// pathEfficiency compares the straight line from the first sample over a
// target to the click with the distance actually travelled.
func pathEfficiency(moves []telemetry.MovementSample, clicks []telemetry.InteractionEvent) value {
	if len(moves) == 0 {
		return value{}
	}
	byTarget := movementsByTarget(moves)

	var total float64
	count := 0
	for _, c := range clicks {
		path := byTarget[c.TargetID]
		if len(path) < 2 {
			continue
		}

		first := path[0]
		direct := distance(first.X, first.Y, c.ClickX, c.ClickY)
		if direct < minPathDistance {
			continue
		}

		var travelled float64
		lastX, lastY := first.X, first.Y
		for _, m := range path[1:] {
			if d := distance(lastX, lastY, m.X, m.Y); d > noiseDistance {
				travelled += d
				lastX, lastY = m.X, m.Y
			}
		}
		if d := distance(lastX, lastY, c.ClickX, c.ClickY); d > noiseDistance {
			travelled += d
		}
		if travelled <= 0 {
			continue
		}

		total += math.Min(direct/travelled, 1)
		count++
	}

	if count == 0 {
		return value{}
	}
	return calculated(total/float64(count), count)
}

// overshootRate scores how far the pointer moved away from a target after
// its closest approach.
func overshootRate(moves []telemetry.MovementSample, clicks []telemetry.InteractionEvent) value {
	if len(moves) == 0 || len(clicks) == 0 {
		return value{}
	}
	byTarget := movementsByTarget(moves)

	var total float64
	count := 0
	for _, c := range clicks {
		path := byTarget[c.TargetID]
		if len(path) < overshootSamples {
			continue
		}

		closest, closestIdx := -1.0, -1
		for i, m := range path {
			d := distance(m.X, m.Y, c.TargetX, c.TargetY)
			if closest < 0 || d < closest {
				closest, closestIdx = d, i
			}
		}

		var score float64
		if closestIdx > 0 && closestIdx < len(path)-1 {
			last := path[len(path)-1]
			final := distance(last.X, last.Y, c.TargetX, c.TargetY)
			if final > closest*overshootMargin {
				score = math.Min(1, (final-closest)/overshootScale)
			}
		}
		total += score
		count++
	}

	if count == 0 {
		return value{}
	}
	return calculated(total/float64(count), count)
}

// velocities returns pointer speeds in px/s between consecutive samples,
// ignoring noise-sized steps and implausible jumps.
func velocities(moves []telemetry.MovementSample) []float64 {
	var out []float64
	for i := 1; i < len(moves); i++ {
		dt := (moves[i].Timestamp - moves[i-1].Timestamp) / 1000
		if dt <= 0 {
			continue
		}
		d := distance(moves[i-1].X, moves[i-1].Y, moves[i].X, moves[i].Y)
		if d < noiseDistance {
			continue
		}
		if v := d / dt; v > 0 && v < maxVelocity {
			out = append(out, v)
		}
	}
	return out
}

func averageVelocity(moves []telemetry.MovementSample) value {
	if len(moves) < 2 {
		return value{}
	}
	vs := velocities(moves)
	if len(vs) == 0 {
		return value{}
	}
	if len(vs) > minFilterSamples {
		vs = trimmed(sorted(vs), velocityTrim)
	}
	return calculated(mean(vs), len(vs))
}

func velocityVariability(moves []telemetry.MovementSample) value {
	if len(moves) < minVariabilitySet {
		return value{}
	}
	vs := velocities(moves)
	if len(vs) < minVariabilitySet {
		return value{}
	}
	if len(vs) > minFilterSamples {
		all := sorted(vs)
		if kept := withinIQR(all); len(kept) > len(all)/2 {
			vs = kept
		}
	}
	cv, ok := coefficientOfVariation(vs)
	if !ok {
		return value{}
	}
	return calculated(cv, len(vs))
}
