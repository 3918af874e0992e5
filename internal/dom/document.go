package dom

import (
	"strings"
	"sync"
)

// Document owns the element tree, the viewport and all observers.
type Document struct {
	mu        sync.RWMutex
	body      *Element
	viewport  Viewport
	listeners map[EventType][]*listener
	mutations []*mutationObserver
	visible   []*visibilityObserver
	hovered   *Element

	// OnListenerPanic, when set, receives values recovered from panicking
	// listeners and observers.
	OnListenerPanic func(recovered any)
}

type mutationObserver struct {
	fn     func()
	active bool
}

type visibilityObserver struct {
	el        *Element
	threshold float64
	fn        func(visible bool)
	visible   bool
	active    bool
}

// New returns an empty document with the given viewport.
func New(viewport Viewport) *Document {
	d := &Document{
		viewport:  viewport,
		listeners: make(map[EventType][]*listener),
	}
	d.body = d.CreateElement("body")
	return d
}

func (d *Document) Body() *Element {
	return d.body
}

// CreateElement returns a detached element. The tag is lower-cased.
func (d *Document) CreateElement(tag string) *Element {
	return &Element{
		doc:       d,
		tag:       strings.ToLower(tag),
		attrs:     make(map[string]string),
		listeners: make(map[EventType][]*listener),
	}
}

func (d *Document) Viewport() Viewport {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.viewport
}

// ScrollTo moves the viewport and re-evaluates visibility observers.
func (d *Document) ScrollTo(x, y float64) {
	d.mu.Lock()
	d.viewport.ScrollX = x
	d.viewport.ScrollY = y
	d.mu.Unlock()

	d.updateVisibility()
}

// Resize changes the viewport size and re-evaluates visibility observers.
func (d *Document) Resize(width, height float64) {
	d.mu.Lock()
	d.viewport.Width = width
	d.viewport.Height = height
	d.mu.Unlock()

	d.updateVisibility()
}

// QueryAll returns all elements in the body matching match, in document order.
func (d *Document) QueryAll(match func(*Element) bool) []*Element {
	return d.body.QueryAll(match)
}

// Listen attaches a document-level handler. It receives events dispatched
// on the document and bubbling events dispatched on connected elements.
func (d *Document) Listen(t EventType, fn Handler) Cancel {
	return d.addListener(&d.listeners, t, fn)
}

// ListenerCount returns how many active document-level listeners of type t exist.
func (d *Document) ListenerCount(t EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, l := range d.listeners[t] {
		if l.active {
			n++
		}
	}
	return n
}

// Dispatch delivers ev to document-level listeners only.
func (d *Document) Dispatch(ev *Event) {
	d.mu.RLock()
	chain := appendActive(nil, d.listeners[ev.Type])
	d.mu.RUnlock()

	d.invoke(chain, ev)
}

// ObserveMutations calls fn after every structural change below the body.
func (d *Document) ObserveMutations(fn func()) Cancel {
	obs := &mutationObserver{fn: fn, active: true}

	d.mu.Lock()
	d.mutations = append(d.mutations, obs)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		obs.active = false
		d.mutations = pruneMutations(d.mutations)
	}
}

// ObserveVisibility reports whether at least threshold of el's area is
// inside the viewport. fn is called once immediately with the current
// state and again whenever the state flips.
func (d *Document) ObserveVisibility(el *Element, threshold float64, fn func(visible bool)) Cancel {
	obs := &visibilityObserver{el: el, threshold: threshold, fn: fn, active: true}

	d.mu.Lock()
	obs.visible = d.visibleLocked(obs)
	d.visible = append(d.visible, obs)
	initial := obs.visible
	d.mu.Unlock()

	d.safely(func() { fn(initial) })

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		obs.active = false
		d.visible = pruneVisibility(d.visible)
	}
}

// VisibilityObserverCount returns the number of active visibility observers.
func (d *Document) VisibilityObserverCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.visible)
}

// MutationObserverCount returns the number of active mutation observers.
func (d *Document) MutationObserverCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.mutations)
}

// ReplaceBody swaps the body content for children, as a server-rendered
// partial swap would. A before-swap event is dispatched first so observers
// can act on the outgoing content.
func (d *Document) ReplaceBody(children ...*Element) {
	d.Dispatch(&Event{Type: EventBeforeSwap})

	d.mu.Lock()
	for _, c := range d.body.children {
		c.parent = nil
	}
	d.body.children = nil
	for _, c := range children {
		if c.parent != nil {
			c.parent.removeChildLocked(c)
		}
		c.parent = d.body
		d.body.children = append(d.body.children, c)
	}
	d.hovered = nil
	d.mu.Unlock()

	d.notifyMutation()
	d.updateVisibility()
}

// Ready dispatches DOMContentLoaded.
func (d *Document) Ready() {
	d.Dispatch(&Event{Type: EventContentLoaded})
}

// Unload dispatches the before-unload event.
func (d *Document) Unload() {
	d.Dispatch(&Event{Type: EventBeforeUnload})
}

func (d *Document) addListener(set *map[EventType][]*listener, t EventType, fn Handler) Cancel {
	l := &listener{fn: fn, active: true}

	d.mu.Lock()
	(*set)[t] = append((*set)[t], l)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if !l.active {
			return
		}
		l.active = false
		kept := (*set)[t][:0]
		for _, other := range (*set)[t] {
			if other.active {
				kept = append(kept, other)
			}
		}
		(*set)[t] = kept
	}
}

func (d *Document) notifyMutation() {
	d.mu.RLock()
	fns := make([]func(), 0, len(d.mutations))
	for _, m := range d.mutations {
		if m.active {
			fns = append(fns, m.fn)
		}
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		d.safely(fn)
	}
	d.updateVisibility()
}

func (d *Document) updateVisibility() {
	type change struct {
		fn      func(bool)
		visible bool
	}

	var changes []change
	d.mu.Lock()
	for _, obs := range d.visible {
		if !obs.active {
			continue
		}
		now := d.visibleLocked(obs)
		if now != obs.visible {
			obs.visible = now
			changes = append(changes, change{fn: obs.fn, visible: now})
		}
	}
	d.mu.Unlock()

	for _, c := range changes {
		c := c
		d.safely(func() { c.fn(c.visible) })
	}
}

func (d *Document) visibleLocked(obs *visibilityObserver) bool {
	if !obs.el.attachedLocked() {
		return false
	}
	ratio := obs.el.rect.IntersectionRatio(d.viewport.Rect())
	return ratio > 0 && ratio >= obs.threshold
}

func (d *Document) invoke(chain []Handler, ev *Event) {
	for _, fn := range chain {
		fn := fn
		d.safely(func() { fn(ev) })
	}
}

func (d *Document) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil && d.OnListenerPanic != nil {
			d.OnListenerPanic(r)
		}
	}()
	fn()
}

func appendActive(chain []Handler, ls []*listener) []Handler {
	for _, l := range ls {
		if l.active {
			chain = append(chain, l.fn)
		}
	}
	return chain
}

func pruneMutations(in []*mutationObserver) []*mutationObserver {
	out := in[:0]
	for _, m := range in {
		if m.active {
			out = append(out, m)
		}
	}
	return out
}

func pruneVisibility(in []*visibilityObserver) []*visibilityObserver {
	out := in[:0]
	for _, v := range in {
		if v.active {
			out = append(out, v)
		}
	}
	return out
}
