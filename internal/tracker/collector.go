package tracker

import (
	"sync"
	"time"

	"codeberg.org/mutker/itrack/internal/dom"
	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
	"codeberg.org/mutker/itrack/internal/telemetry"
)

var modifierKeys = map[string]bool{
	"Control": true,
	"Shift":   true,
	"Alt":     true,
	"Meta":    true,
}

// Collector observes pointer, keyboard and click activity on a document,
// buffers it per session and uploads it in batches.
//
// Every entry point serialises on one mutex, so recording, rescans and the
// periodic flush never interleave partially. Uploads run after the lock is
// released and are never cancelled.
type Collector struct {
	doc  *dom.Document
	opts Options
	log  logger.Logger

	mu              sync.Mutex
	session         *telemetry.Session
	lastSample      time.Time
	sampled         bool
	currentQuestion string
	currentTarget   *telemetry.Target
	targets         map[*dom.Element]*telemetry.Target

	docCancels     []dom.Cancel
	targetCancels  map[*dom.Element][]dom.Cancel
	sectionCancels []dom.Cancel

	observing  bool
	tornDown   bool
	onTeardown func()
	shutdown   chan struct{}
	flushDone  chan struct{}
}

// New builds a collector for doc. It does not observe anything until
// Observe is called.
func New(doc *dom.Document, opts Options) (*Collector, error) {
	if doc == nil {
		return nil, errors.New().WithMessage(errors.ErrInvalidArgument, "document is required")
	}

	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Collector{
		doc:     doc,
		opts:    opts,
		log:     opts.Logger.With("tracker"),
		session: telemetry.NewSession(opts.Clock()),
		targets: make(map[*dom.Element]*telemetry.Target),

		targetCancels: make(map[*dom.Element][]dom.Cancel),
	}, nil
}

// Observe attaches document listeners and the mutation observer, runs the
// first section and target scan, and starts the periodic flush.
func (c *Collector) Observe() error {
	c.mu.Lock()
	if c.observing || c.tornDown {
		c.mu.Unlock()
		return errors.New().New(errors.ErrAlreadyRunning)
	}
	c.observing = true

	c.docCancels = append(c.docCancels,
		c.doc.Listen(dom.EventMouseMove, c.guard(func(ev *dom.Event) {
			c.RecordMovement(ev.ClientX, ev.ClientY, c.opts.Clock())
		})),
		c.doc.Listen(dom.EventKeyDown, c.guard(c.RecordKey)),
		c.doc.Listen(dom.EventKeyUp, c.guard(c.RecordKey)),
		c.doc.Listen(dom.EventBeforeSwap, c.guard(func(*dom.Event) {
			c.Flush()
			c.Reset()
		})),
		c.doc.ObserveMutations(func() {
			c.guard(func(*dom.Event) { c.rescan() })(nil)
		}),
	)

	c.shutdown = make(chan struct{})
	c.flushDone = make(chan struct{})
	ticker := time.NewTicker(c.opts.SendInterval)
	go c.flusher(ticker)
	c.mu.Unlock()

	c.rescan()

	c.log.Debug().
		Dur("throttle_interval", c.opts.ThrottleInterval).
		Dur("send_interval", c.opts.SendInterval).
		Msg("Interaction tracking started")

	return nil
}

func (c *Collector) rescan() {
	c.DetectActiveQuestion()
	c.DiscoverTargets()
}

func (c *Collector) flusher(ticker *time.Ticker) {
	defer close(c.flushDone)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.shutdown:
			return
		}
	}
}

// RecordMovement stores a pointer sample unless one was stored less than
// the throttle interval before at.
func (c *Collector) RecordMovement(x, y float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown {
		return
	}
	if c.sampled && at.Sub(c.lastSample) < c.opts.ThrottleInterval {
		return
	}
	c.sampled = true
	c.lastSample = at

	sample := telemetry.MovementSample{
		X:          x,
		Y:          y,
		Timestamp:  c.session.Since(at),
		QuestionID: c.currentQuestion,
	}
	if c.currentTarget != nil {
		sample.TargetID = c.currentTarget.ID
	}
	c.session.AddMovement(sample)
}

// RecordKey stores a keydown or keyup. Pure modifier keys are ignored;
// IsModifier marks keys pressed while a modifier was held.
func (c *Collector) RecordKey(ev *dom.Event) {
	var kind telemetry.KeyKind
	switch ev.Type {
	case dom.EventKeyDown:
		kind = telemetry.KeyDown
	case dom.EventKeyUp:
		kind = telemetry.KeyUp
	default:
		return
	}
	if modifierKeys[ev.Key] {
		return
	}

	now := c.opts.Clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown {
		return
	}
	c.session.AddKey(telemetry.KeyEvent{
		Type:       kind,
		Key:        ev.Key,
		IsModifier: ev.Ctrl || ev.Shift || ev.Alt || ev.Meta,
		Timestamp:  c.session.Since(now),
		QuestionID: c.currentQuestion,
	})
}

// RecordInteraction stores a click on a tracked element. The target centre
// is re-measured because layout may have moved since discovery. Clicks on
// elements that are untracked or no longer in the document are skipped.
func (c *Collector) RecordInteraction(ev *dom.Event, el *dom.Element) {
	if el == nil || !el.Connected() {
		return
	}
	rect := el.ClientRect()
	cx, cy := rect.Center()
	now := c.opts.Clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.targets[el]
	if !ok || c.tornDown {
		return
	}
	target.X, target.Y = cx, cy
	target.Width, target.Height = rect.Width, rect.Height

	c.session.AddInteraction(telemetry.InteractionEvent{
		TargetID:   target.ID,
		TargetType: target.Type,
		QuestionID: target.QuestionID,
		ClickX:     ev.ClientX,
		ClickY:     ev.ClientY,
		TargetX:    cx,
		TargetY:    cy,
		Timestamp:  c.session.Since(now),
	})
}

// Flush uploads the buffered session and resets it. It reports whether a
// payload was handed to the sender; an empty session is left untouched.
func (c *Collector) Flush() bool {
	c.mu.Lock()
	if c.session.Empty() {
		c.mu.Unlock()
		return false
	}
	moves, clicks, keys := c.session.Counts()
	payload := c.session.Payload()
	c.resetLocked()
	c.mu.Unlock()

	data, err := telemetry.Encode(payload)
	if err != nil {
		c.log.Debug().Err(err).Msg("Dropping telemetry batch")
		return false
	}
	c.opts.Sender.Send(data)

	c.log.Debug().
		Int("movements", moves).
		Int("interactions", clicks).
		Int("keyboard_events", keys).
		Msg("Telemetry flushed")

	return true
}

// Reset clears all buffers and restarts the session clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
}

func (c *Collector) resetLocked() {
	c.session.Reset(c.opts.Clock())
}

// Teardown detaches every listener and observer, clears the tracked marker
// from instrumented elements and stops the periodic flush. Buffered data is
// not flushed. Safe to call more than once.
func (c *Collector) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	cancels := make([]dom.Cancel, 0, len(c.docCancels)+2*len(c.targetCancels)+len(c.sectionCancels))
	cancels = append(cancels, c.docCancels...)
	for _, elCancels := range c.targetCancels {
		cancels = append(cancels, elCancels...)
	}
	cancels = append(cancels, c.sectionCancels...)
	c.docCancels, c.sectionCancels = nil, nil
	c.targetCancels = make(map[*dom.Element][]dom.Cancel)
	tracked := make([]*dom.Element, 0, len(c.targets))
	for el := range c.targets {
		tracked = append(tracked, el)
	}
	shutdown, flushDone := c.shutdown, c.flushDone
	onTeardown := c.onTeardown
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, el := range tracked {
		el.RemoveAttr("data-" + dataTracked)
	}
	if shutdown != nil {
		close(shutdown)
		<-flushDone
	}

	if onTeardown != nil {
		onTeardown()
	}
	c.log.Debug().Msg("Interaction tracking stopped")
}

// SessionStart returns the instant current timestamps are relative to.
func (c *Collector) SessionStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.Start()
}

// Pending returns a copy of the buffered session.
func (c *Collector) Pending() telemetry.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.Payload()
}

// CurrentQuestion returns the question the user is currently on, or "".
func (c *Collector) CurrentQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentQuestion
}

// Target returns the metadata recorded for a tracked element.
func (c *Collector) Target(el *dom.Element) (telemetry.Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.targets[el]
	if !ok {
		return telemetry.Target{}, false
	}
	return *t, true
}

// Tracked returns the number of instrumented elements.
func (c *Collector) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.targets)
}

// guard keeps a failing handler from reaching the host page.
func (c *Collector) guard(fn dom.Handler) dom.Handler {
	return func(ev *dom.Event) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("Tracker handler failed")
			}
		}()
		fn(ev)
	}
}
