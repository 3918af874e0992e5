package replay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/itrack/internal/config"
	"codeberg.org/mutker/itrack/internal/dom"
	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
	"codeberg.org/mutker/itrack/internal/tracker"
	"codeberg.org/mutker/itrack/internal/transport"
)

// idleInterval keeps the collector's wall-clock ticker out of the way; the
// player raises periodic flushes itself on the virtual clock.
const idleInterval = 24 * time.Hour

// Options configures playback.
type Options struct {
	Tracker config.TrackerConfig
	Sender  transport.Sender
	Logger  logger.Logger
	// Start is the virtual time playback begins at. Zero means now.
	Start time.Time
}

// Result summarises a playback.
type Result struct {
	Steps    int
	Uploads  int
	Duration time.Duration
	Unloaded bool
}

type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type countingSender struct {
	next  transport.Sender
	count atomic.Int64
}

func (s *countingSender) Send(payload []byte) {
	s.count.Add(1)
	s.next.Send(payload)
}

// Run builds the script's page, installs a collector once the page is
// ready and plays every step. The periodic flush fires on the virtual clock at the configured
// send interval. If the script does not unload the page, Run unloads it at
// the end so buffered data is delivered.
func Run(ctx context.Context, s *Script, opts Options) (Result, error) {
	if opts.Sender == nil {
		return Result{}, errors.New().WithMessage(errors.ErrInvalidConfig, "replay requires a sender")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("replay")

	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	clock := &virtualClock{now: start}
	sender := &countingSender{next: opts.Sender}

	doc := s.Build()
	doc.OnListenerPanic = func(r any) {
		log.Error().Interface("panic", r).Msg("Listener failed during replay")
	}

	trackerOpts := tracker.OptionsFromConfig(opts.Tracker, sender, log)
	trackerOpts.SendInterval = idleInterval
	trackerOpts.Clock = clock.Now
	var (
		c   *tracker.Collector
		err error
	)
	tracker.InstallOnReady(doc, trackerOpts, func(got *tracker.Collector, installErr error) {
		c, err = got, installErr
	})
	doc.Ready()
	if err != nil {
		return Result{}, err
	}
	if c == nil {
		return Result{}, errors.New().WithMessage(errors.ErrInitFailed, "collector did not start")
	}

	interval := opts.Tracker.SendInterval
	if interval <= 0 {
		interval = tracker.DefaultSendInterval
	}
	nextTick := start.Add(interval)

	var res Result
	for _, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			c.Teardown()
			return res, errors.New().Wrap(errors.ErrTimeout, err)
		}

		at := start.Add(time.Duration(st.At * float64(time.Millisecond)))
		for !nextTick.After(at) {
			clock.Set(nextTick)
			c.Flush()
			nextTick = nextTick.Add(interval)
		}
		clock.Set(at)

		apply(doc, st)
		res.Steps++
		if st.Type == StepUnload {
			res.Unloaded = true
		}
	}

	if !res.Unloaded {
		doc.Unload()
	}

	res.Duration = clock.Now().Sub(start)
	res.Uploads = int(sender.count.Load())

	log.Debug().
		Int("steps", res.Steps).
		Int("uploads", res.Uploads).
		Dur("duration", res.Duration).
		Msg("Replay finished")

	return res, nil
}

func apply(doc *dom.Document, st Step) {
	switch st.Type {
	case StepMouseMove:
		doc.PointerMove(st.X, st.Y)
	case StepClick:
		doc.Click(st.X, st.Y)
	case StepKeyDown:
		doc.KeyDown(st.Key, st.Mods)
	case StepKeyUp:
		doc.KeyUp(st.Key, st.Mods)
	case StepScroll:
		doc.ScrollTo(st.X, st.Y)
	case StepResize:
		doc.Resize(st.Width, st.Height)
	case StepSwap:
		doc.ReplaceBody(buildNodes(doc, st.Page)...)
	case StepUnload:
		doc.Unload()
	}
}
