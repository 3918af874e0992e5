package tracker_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/itrack/internal/dom"
	"codeberg.org/mutker/itrack/internal/telemetry"
	"codeberg.org/mutker/itrack/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type recorder struct {
	mu       sync.Mutex
	payloads []telemetry.Payload
}

func (r *recorder) Send(data []byte) {
	p, err := telemetry.Decode(data)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
}

func (r *recorder) sent() []telemetry.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Payload(nil), r.payloads...)
}

type page struct {
	doc      *dom.Document
	section1 *dom.Element
	button   *dom.Element
	input1   *dom.Element
	section2 *dom.Element
	input2   *dom.Element
	next     *dom.Element
}

// newPage lays out two question sections and a loose button:
//
//	section1 (q1)  y=0..300    button, input "answer1"
//	section2       y=700..1000 input "q2"
//	next           y=1100..1140
func newPage() *page {
	d := dom.New(dom.Viewport{Width: 800, Height: 600})
	p := &page{doc: d}

	p.section1 = d.CreateElement("div").AddClass("form-group").SetData("question-id", "q1").
		SetRect(dom.Rect{Width: 800, Height: 300})
	p.button = d.CreateElement("button").SetRect(dom.Rect{Left: 10, Top: 10, Width: 100, Height: 40})
	p.input1 = d.CreateElement("input").SetAttr("name", "answer1").
		SetRect(dom.Rect{Left: 10, Top: 100, Width: 300, Height: 30})
	p.section1.Append(p.button, p.input1)

	p.section2 = d.CreateElement("div").AddClass("form-group").
		SetRect(dom.Rect{Top: 700, Width: 800, Height: 300})
	p.input2 = d.CreateElement("input").SetAttr("name", "q2").
		SetRect(dom.Rect{Left: 10, Top: 750, Width: 300, Height: 30})
	p.section2.Append(p.input2)

	p.next = d.CreateElement("button").SetAttr("name", "next").
		SetRect(dom.Rect{Left: 10, Top: 1100, Width: 80, Height: 40})

	d.Body().Append(p.section1, p.section2, p.next)
	return p
}

func observe(t *testing.T, p *page, clock *fakeClock, rec *recorder) *tracker.Collector {
	t.Helper()
	c, err := tracker.New(p.doc, tracker.Options{
		SendInterval: time.Hour,
		Sender:       rec,
		Clock:        clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, c.Observe())
	t.Cleanup(c.Teardown)
	return c
}

func TestNewRequiresSender(t *testing.T) {
	_, err := tracker.New(dom.New(dom.Viewport{}), tracker.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_configuration")
}

func TestMovementThrottle(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	for i := 0; i < 100; i++ {
		p.doc.PointerMove(400, 500)
		clock.Advance(2 * time.Millisecond)
	}

	moves := c.Pending().Movements
	require.Len(t, moves, 4)
	for i, m := range moves {
		assert.InDelta(t, float64(i*50), m.Timestamp, 1e-9)
	}
}

func TestMovementsWithinIntervalRecordAtMostOne(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	at := clock.Now()
	for i := 0; i < 20; i++ {
		c.RecordMovement(float64(i), float64(i), at.Add(time.Duration(i)*2*time.Millisecond))
	}

	assert.Len(t, c.Pending().Movements, 1)
}

func TestMovementCarriesHoverTargetAndQuestion(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	p.doc.PointerMove(20, 20) // over the button

	moves := c.Pending().Movements
	require.Len(t, moves, 1)
	assert.Equal(t, p.button.Data("target-id"), moves[0].TargetID)
	assert.Equal(t, "q1", moves[0].QuestionID)
}

func TestModifierKeysAreFiltered(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	p.doc.KeyDown("Shift", dom.Modifiers{Shift: true})
	p.doc.KeyDown("a", dom.Modifiers{Shift: true})
	p.doc.KeyUp("Control", dom.Modifiers{})
	p.doc.KeyUp("Meta", dom.Modifiers{})
	p.doc.KeyUp("Alt", dom.Modifiers{})

	keys := c.Pending().KeyboardEvents
	require.Len(t, keys, 1)
	assert.Equal(t, telemetry.KeyDown, keys[0].Type)
	assert.Equal(t, "a", keys[0].Key)
	assert.True(t, keys[0].IsModifier)
}

func TestPlainKeyIsNotModifier(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	clock.Advance(120 * time.Millisecond)
	p.doc.KeyUp("Enter", dom.Modifiers{})

	keys := c.Pending().KeyboardEvents
	require.Len(t, keys, 1)
	assert.Equal(t, telemetry.KeyUp, keys[0].Type)
	assert.False(t, keys[0].IsModifier)
	assert.InDelta(t, 120, keys[0].Timestamp, 1e-9)
	assert.Equal(t, "q1", keys[0].QuestionID)
}

func TestClickOnTrackedButton(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	p.doc.Click(30, 20)

	clicks := c.Pending().Interactions
	require.Len(t, clicks, 1)
	assert.Equal(t, p.button.Data("target-id"), clicks[0].TargetID)
	assert.Equal(t, "button", clicks[0].TargetType)
	assert.Equal(t, "q1", clicks[0].QuestionID)
	assert.InDelta(t, 30, clicks[0].ClickX, 1e-9)
	assert.InDelta(t, 20, clicks[0].ClickY, 1e-9)
	assert.InDelta(t, 60, clicks[0].TargetX, 1e-9)
	assert.InDelta(t, 30, clicks[0].TargetY, 1e-9)
}

func TestClickRemeasuresTargetAfterLayoutShift(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	p.button.SetRect(dom.Rect{Left: 200, Top: 200, Width: 100, Height: 40})
	p.doc.Click(210, 210)

	clicks := c.Pending().Interactions
	require.Len(t, clicks, 1)
	assert.InDelta(t, 250, clicks[0].TargetX, 1e-9)
	assert.InDelta(t, 220, clicks[0].TargetY, 1e-9)

	target, ok := c.Target(p.button)
	require.True(t, ok)
	assert.InDelta(t, 250, target.X, 1e-9)
}

func TestClickOnRemovedTargetIsSkipped(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	p.button.Remove()
	c.RecordInteraction(&dom.Event{Type: dom.EventClick}, p.button)
	c.RecordInteraction(&dom.Event{Type: dom.EventClick}, nil)

	assert.Empty(t, c.Pending().Interactions)
}

func TestFlushEmptyIsNoop(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)
	start := c.SessionStart()

	clock.Advance(time.Second)
	assert.False(t, c.Flush())

	assert.Empty(t, rec.sent())
	assert.Equal(t, start, c.SessionStart())
	assert.True(t, c.Pending().Empty())
}

func TestFlushSendsAndResets(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)
	start := c.SessionStart()

	p.doc.PointerMove(400, 500)
	p.doc.KeyDown("x", dom.Modifiers{})
	p.doc.Click(30, 20)
	clock.Advance(5 * time.Second)

	require.True(t, c.Flush())

	sent := rec.sent()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].Movements, 1)
	assert.Len(t, sent[0].KeyboardEvents, 1)
	assert.Len(t, sent[0].Interactions, 1)
	assert.InDelta(t, float64(start.UnixMilli()), sent[0].StartTime, 1)

	assert.True(t, c.Pending().Empty())
	assert.Equal(t, clock.Now(), c.SessionStart())
}

func TestTimestampsRestartAfterFlush(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	clock.Advance(800 * time.Millisecond)
	p.doc.KeyDown("a", dom.Modifiers{})
	c.Flush()

	clock.Advance(30 * time.Millisecond)
	p.doc.KeyDown("b", dom.Modifiers{})

	keys := c.Pending().KeyboardEvents
	require.Len(t, keys, 1)
	assert.InDelta(t, 30, keys[0].Timestamp, 1e-9)
}

func TestPeriodicFlush(t *testing.T) {
	p, rec := newPage(), &recorder{}
	c, err := tracker.New(p.doc, tracker.Options{
		SendInterval: 10 * time.Millisecond,
		Sender:       rec,
	})
	require.NoError(t, err)
	require.NoError(t, c.Observe())
	defer c.Teardown()

	p.doc.KeyDown("a", dom.Modifiers{})

	assert.Eventually(t, func() bool { return len(rec.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Pending().Empty())
}

func TestTeardownIsIdempotentAndDetaches(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c, err := tracker.New(p.doc, tracker.Options{SendInterval: time.Hour, Sender: rec, Clock: clock.Now})
	require.NoError(t, err)
	require.NoError(t, c.Observe())

	c.Teardown()
	assert.NotPanics(t, c.Teardown)

	assert.Equal(t, 0, p.doc.ListenerCount(dom.EventMouseMove))
	assert.Equal(t, 0, p.doc.ListenerCount(dom.EventKeyDown))
	assert.Equal(t, 0, p.doc.MutationObserverCount())
	assert.Equal(t, 0, p.doc.VisibilityObserverCount())
	assert.Equal(t, 0, p.button.ListenerCount(dom.EventClick))

	p.doc.KeyDown("a", dom.Modifiers{})
	assert.True(t, c.Pending().Empty())

	assert.Error(t, c.Observe())
}

func TestObserveTwiceFails(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	c := observe(t, p, clock, rec)

	err := c.Observe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already_running")
}
