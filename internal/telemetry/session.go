package telemetry

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/itrack/internal/errors"
)

// Session is the mutable buffer of observations since the last reset.
// It is not safe for concurrent use; the owner serialises access.
type Session struct {
	start        time.Time
	movements    []MovementSample
	interactions []InteractionEvent
	keys         []KeyEvent
}

func NewSession(now time.Time) *Session {
	return &Session{start: now}
}

// Start is the instant all timestamps in the session are relative to.
func (s *Session) Start() time.Time {
	return s.start
}

// Since returns now as milliseconds relative to the session start.
func (s *Session) Since(now time.Time) float64 {
	return float64(now.Sub(s.start)) / float64(time.Millisecond)
}

func (s *Session) AddMovement(m MovementSample) {
	s.movements = append(s.movements, m)
}

func (s *Session) AddInteraction(i InteractionEvent) {
	s.interactions = append(s.interactions, i)
}

func (s *Session) AddKey(k KeyEvent) {
	s.keys = append(s.keys, k)
}

func (s *Session) Empty() bool {
	return len(s.movements) == 0 && len(s.interactions) == 0 && len(s.keys) == 0
}

// Counts returns the number of movements, interactions and key events.
func (s *Session) Counts() (movements, interactions, keys int) {
	return len(s.movements), len(s.interactions), len(s.keys)
}

// Payload snapshots the buffers. The returned slices are not shared
// with the session.
func (s *Session) Payload() Payload {
	p := Payload{
		Movements:      make([]MovementSample, len(s.movements)),
		Interactions:   make([]InteractionEvent, len(s.interactions)),
		KeyboardEvents: make([]KeyEvent, len(s.keys)),
		StartTime:      float64(s.start.UnixNano()) / float64(time.Millisecond),
	}
	copy(p.Movements, s.movements)
	copy(p.Interactions, s.interactions)
	copy(p.KeyboardEvents, s.keys)
	return p
}

// Reset clears all buffers and moves the session start to now.
func (s *Session) Reset(now time.Time) {
	s.movements = nil
	s.interactions = nil
	s.keys = nil
	s.start = now
}

// Encode marshals a payload for the wire.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrEncodePayload, err)
	}
	return data, nil
}

// Decode parses a wire payload. Missing lists decode as empty.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, errors.New().Wrap(errors.ErrDecodePayload, err)
	}
	return p, nil
}
