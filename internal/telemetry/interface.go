package telemetry

// MovementSample is one throttled pointer position.
type MovementSample struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Timestamp  float64 `json:"timestamp"`
	TargetID   string  `json:"targetId,omitempty"`
	QuestionID string  `json:"questionId,omitempty"`
}

// InteractionEvent is one click on a tracked target.
type InteractionEvent struct {
	TargetID   string  `json:"targetId"`
	TargetType string  `json:"targetType"`
	QuestionID string  `json:"questionId,omitempty"`
	ClickX     float64 `json:"clickX"`
	ClickY     float64 `json:"clickY"`
	TargetX    float64 `json:"targetX"`
	TargetY    float64 `json:"targetY"`
	Timestamp  float64 `json:"timestamp"`
}

type KeyKind string

const (
	KeyDown KeyKind = "keydown"
	KeyUp   KeyKind = "keyup"
)

// KeyEvent is one non-modifier key transition.
type KeyEvent struct {
	Type       KeyKind `json:"type"`
	Key        string  `json:"key"`
	IsModifier bool    `json:"isModifier"`
	Timestamp  float64 `json:"timestamp"`
	QuestionID string  `json:"questionId,omitempty"`
}

// Target describes an instrumented element at discovery time.
type Target struct {
	ID         string  `json:"id"`
	QuestionID string  `json:"questionId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Type       string  `json:"type"`
}

// Payload is the body of POST /metrics.
// StartTime is the session start in Unix milliseconds.
type Payload struct {
	Movements      []MovementSample   `json:"movements"`
	Interactions   []InteractionEvent `json:"interactions"`
	KeyboardEvents []KeyEvent         `json:"keyboardEvents"`
	StartTime      float64            `json:"startTime"`
}

// Empty reports whether the payload carries no observations.
func (p Payload) Empty() bool {
	return len(p.Movements) == 0 && len(p.Interactions) == 0 && len(p.KeyboardEvents) == 0
}

// Len is the total number of observations in the payload.
func (p Payload) Len() int {
	return len(p.Movements) + len(p.Interactions) + len(p.KeyboardEvents)
}
