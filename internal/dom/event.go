package dom

type EventType string

const (
	EventMouseMove     EventType = "mousemove"
	EventMouseOver     EventType = "mouseover"
	EventClick         EventType = "click"
	EventFocus         EventType = "focus"
	EventKeyDown       EventType = "keydown"
	EventKeyUp         EventType = "keyup"
	EventContentLoaded EventType = "DOMContentLoaded"
	EventBeforeSwap    EventType = "htmx:beforeSwap"
	EventBeforeUnload  EventType = "beforeunload"
)

// Bubbles reports whether events of this type propagate to ancestors and
// the document.
func (t EventType) Bubbles() bool {
	switch t {
	case EventFocus, EventContentLoaded, EventBeforeUnload:
		return false
	default:
		return true
	}
}

// Event is a dispatched input or lifecycle event. Coordinates are client
// (viewport) coordinates.
type Event struct {
	Type    EventType
	Target  *Element
	ClientX float64
	ClientY float64
	Key     string
	Ctrl    bool
	Shift   bool
	Alt     bool
	Meta    bool
}

// Handler receives dispatched events.
type Handler func(*Event)

// Cancel detaches a listener or observer. Calling it more than once is safe.
type Cancel func()

type listener struct {
	fn     Handler
	active bool
}
