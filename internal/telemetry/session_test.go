package telemetry_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/itrack/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSinceIsRelative(t *testing.T) {
	start := time.Unix(1700000000, 0)
	s := telemetry.NewSession(start)

	assert.InDelta(t, 0, s.Since(start), 1e-9)
	assert.InDelta(t, 125.5, s.Since(start.Add(125500*time.Microsecond)), 1e-9)
}

func TestSessionResetRedefinesZero(t *testing.T) {
	start := time.Unix(1700000000, 0)
	s := telemetry.NewSession(start)
	s.AddMovement(telemetry.MovementSample{X: 1, Y: 2})
	s.AddKey(telemetry.KeyEvent{Type: telemetry.KeyDown, Key: "a"})
	require.False(t, s.Empty())

	later := start.Add(3 * time.Second)
	s.Reset(later)

	assert.True(t, s.Empty())
	assert.Equal(t, later, s.Start())
	assert.InDelta(t, 0, s.Since(later), 1e-9)
}

func TestPayloadIsDetached(t *testing.T) {
	s := telemetry.NewSession(time.Unix(1700000000, 0))
	s.AddInteraction(telemetry.InteractionEvent{TargetID: "abc"})

	p := s.Payload()
	s.Reset(time.Unix(1700000001, 0))

	require.Len(t, p.Interactions, 1)
	assert.Equal(t, "abc", p.Interactions[0].TargetID)
	assert.NotNil(t, p.Movements)
	assert.InDelta(t, 1700000000000, p.StartTime, 1e-3)
}

func TestEncodeUsesWireNames(t *testing.T) {
	p := telemetry.Payload{
		Movements:      []telemetry.MovementSample{{X: 3, Y: 4, Timestamp: 10}},
		Interactions:   []telemetry.InteractionEvent{},
		KeyboardEvents: []telemetry.KeyEvent{{Type: telemetry.KeyUp, Key: "b", QuestionID: "q1"}},
		StartTime:      42,
	}

	data, err := telemetry.Encode(p)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"movements": [{"x": 3, "y": 4, "timestamp": 10}],
		"interactions": [],
		"keyboardEvents": [{"type": "keyup", "key": "b", "isModifier": false, "timestamp": 0, "questionId": "q1"}],
		"startTime": 42
	}`, string(data))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := telemetry.Decode([]byte("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode_payload_failed")
}
