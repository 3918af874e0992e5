package dom

import "strings"

// Element is a node in the page tree. All accessors are safe for
// concurrent use; they synchronise on the owning document.
type Element struct {
	doc       *Document
	tag       string
	classes   []string
	attrs     map[string]string
	rect      Rect
	parent    *Element
	children  []*Element
	listeners map[EventType][]*listener
}

// Tag returns the lower-case tag name.
func (e *Element) Tag() string {
	return e.tag
}

func (e *Element) Document() *Document {
	return e.doc
}

func (e *Element) HasClass(class string) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	for _, c := range e.classes {
		if c == class {
			return true
		}
	}
	return false
}

func (e *Element) AddClass(classes ...string) *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.classes = append(e.classes, classes...)
	return e
}

// Attr returns the attribute value and whether it is present.
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	v, ok := e.attrs[strings.ToLower(name)]
	return v, ok
}

// SetAttr sets an attribute. Attribute changes are not structural and do
// not notify mutation observers.
func (e *Element) SetAttr(name, value string) *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.attrs[strings.ToLower(name)] = value
	return e
}

// RemoveAttr deletes an attribute.
func (e *Element) RemoveAttr(name string) *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	delete(e.attrs, strings.ToLower(name))
	return e
}

// Data reads a data-* attribute by its short name.
func (e *Element) Data(name string) string {
	v, _ := e.Attr("data-" + name)
	return v
}

func (e *Element) SetData(name, value string) *Element {
	return e.SetAttr("data-"+name, value)
}

// Rect returns the element box in document coordinates.
func (e *Element) Rect() Rect {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	return e.rect
}

// ClientRect returns the element box relative to the viewport, like a
// browser's getBoundingClientRect.
func (e *Element) ClientRect() Rect {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	return e.rect.Translate(-e.doc.viewport.ScrollX, -e.doc.viewport.ScrollY)
}

// SetRect moves or resizes the element and re-evaluates visibility.
func (e *Element) SetRect(r Rect) *Element {
	e.doc.mu.Lock()
	e.rect = r
	e.doc.mu.Unlock()

	e.doc.updateVisibility()
	return e
}

func (e *Element) Parent() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	return e.parent
}

func (e *Element) Children() []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	out := make([]*Element, len(e.children))
	copy(out, e.children)
	return out
}

// Append attaches children to e. Mutation observers are notified once if
// e is part of the document.
func (e *Element) Append(children ...*Element) *Element {
	e.doc.mu.Lock()
	for _, c := range children {
		if c.parent != nil {
			c.parent.removeChildLocked(c)
		}
		c.parent = e
		e.children = append(e.children, c)
	}
	attached := e.attachedLocked()
	e.doc.mu.Unlock()

	if attached && len(children) > 0 {
		e.doc.notifyMutation()
	}
	return e
}

// Remove detaches e from its parent.
func (e *Element) Remove() {
	e.doc.mu.Lock()
	parent := e.parent
	attached := e.attachedLocked()
	if parent != nil {
		parent.removeChildLocked(e)
	}
	e.doc.mu.Unlock()

	if parent != nil && attached {
		e.doc.notifyMutation()
	}
}

func (e *Element) removeChildLocked(child *Element) {
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i:i], e.children[i+1:]...)
			break
		}
	}
	child.parent = nil
}

func (e *Element) attachedLocked() bool {
	for n := e; n != nil; n = n.parent {
		if n == e.doc.body {
			return true
		}
	}
	return false
}

// Connected reports whether e is currently part of the document.
func (e *Element) Connected() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	return e.attachedLocked()
}

// Closest returns the nearest ancestor (excluding e) matching match.
func (e *Element) Closest(match func(*Element) bool) *Element {
	for n := e.Parent(); n != nil; n = n.Parent() {
		if match(n) {
			return n
		}
	}
	return nil
}

// QueryFirst returns the first descendant of e, in document order,
// matching match.
func (e *Element) QueryFirst(match func(*Element) bool) *Element {
	for _, c := range e.Children() {
		if match(c) {
			return c
		}
		if found := c.QueryFirst(match); found != nil {
			return found
		}
	}
	return nil
}

// QueryAll returns all descendants of e, in document order, matching match.
func (e *Element) QueryAll(match func(*Element) bool) []*Element {
	var out []*Element
	e.walk(func(n *Element) {
		if match(n) {
			out = append(out, n)
		}
	})
	return out
}

func (e *Element) walk(fn func(*Element)) {
	for _, c := range e.Children() {
		fn(c)
		c.walk(fn)
	}
}

// Listen attaches a handler for events of type t targeted at e or, for
// bubbling events, at its descendants.
func (e *Element) Listen(t EventType, fn Handler) Cancel {
	return e.doc.addListener(&e.listeners, t, fn)
}

// ListenerCount returns how many active listeners of type t e has.
func (e *Element) ListenerCount(t EventType) int {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	n := 0
	for _, l := range e.listeners[t] {
		if l.active {
			n++
		}
	}
	return n
}

// Dispatch delivers ev to e, then to its ancestors and the document when
// the event type bubbles.
func (e *Element) Dispatch(ev *Event) {
	ev.Target = e

	var chain []Handler
	e.doc.mu.RLock()
	for n := e; n != nil; n = n.parent {
		chain = appendActive(chain, n.listeners[ev.Type])
		if !ev.Type.Bubbles() {
			break
		}
	}
	if ev.Type.Bubbles() && e.attachedLocked() {
		chain = appendActive(chain, e.doc.listeners[ev.Type])
	}
	e.doc.mu.RUnlock()

	e.doc.invoke(chain, ev)
}

// Is matches a tag name.
func Is(tag string) func(*Element) bool {
	return func(e *Element) bool { return e.tag == tag }
}

// HasClass matches a class name.
func HasClass(class string) func(*Element) bool {
	return func(e *Element) bool { return e.HasClass(class) }
}

// Any matches elements accepted by at least one predicate.
func Any(preds ...func(*Element) bool) func(*Element) bool {
	return func(e *Element) bool {
		for _, p := range preds {
			if p(e) {
				return true
			}
		}
		return false
	}
}

// All matches elements accepted by every predicate.
func All(preds ...func(*Element) bool) func(*Element) bool {
	return func(e *Element) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}
