package dom

// Modifiers are the modifier keys held during a key event.
type Modifiers struct {
	Ctrl  bool `json:"ctrl,omitempty"`
	Shift bool `json:"shift,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// ElementAt returns the top-most connected element whose box contains the
// client point, or nil.
func (d *Document) ElementAt(clientX, clientY float64) *Element {
	d.mu.RLock()
	x := clientX + d.viewport.ScrollX
	y := clientY + d.viewport.ScrollY
	d.mu.RUnlock()

	var hit *Element
	d.body.walk(func(e *Element) {
		if e.Rect().Contains(x, y) {
			hit = e
		}
	})
	return hit
}

// PointerMove synthesises pointer movement to a client point. A mouseover
// is dispatched when the pointer enters a new element.
func (d *Document) PointerMove(clientX, clientY float64) {
	hit := d.ElementAt(clientX, clientY)

	d.mu.Lock()
	entered := hit != nil && hit != d.hovered
	d.hovered = hit
	d.mu.Unlock()

	if entered {
		hit.Dispatch(&Event{Type: EventMouseOver, ClientX: clientX, ClientY: clientY})
	}

	ev := &Event{Type: EventMouseMove, ClientX: clientX, ClientY: clientY}
	if hit != nil {
		hit.Dispatch(ev)
		return
	}
	d.Dispatch(ev)
}

// Click synthesises a primary click at a client point. Focusable elements
// receive focus before the click, as in a browser.
func (d *Document) Click(clientX, clientY float64) *Element {
	hit := d.ElementAt(clientX, clientY)
	if hit == nil {
		d.Dispatch(&Event{Type: EventClick, ClientX: clientX, ClientY: clientY})
		return nil
	}

	if Focusable(hit) {
		hit.Dispatch(&Event{Type: EventFocus, ClientX: clientX, ClientY: clientY})
	}
	hit.Dispatch(&Event{Type: EventClick, ClientX: clientX, ClientY: clientY})
	return hit
}

// KeyDown synthesises a key press at document level.
func (d *Document) KeyDown(key string, mods Modifiers) {
	d.Dispatch(keyEvent(EventKeyDown, key, mods))
}

// KeyUp synthesises a key release at document level.
func (d *Document) KeyUp(key string, mods Modifiers) {
	d.Dispatch(keyEvent(EventKeyUp, key, mods))
}

func keyEvent(t EventType, key string, mods Modifiers) *Event {
	return &Event{
		Type:  t,
		Key:   key,
		Ctrl:  mods.Ctrl,
		Shift: mods.Shift,
		Alt:   mods.Alt,
		Meta:  mods.Meta,
	}
}

// Focusable reports whether e is a form control that takes focus.
func Focusable(e *Element) bool {
	switch e.Tag() {
	case "input", "textarea", "select", "button":
		return true
	default:
		return false
	}
}
