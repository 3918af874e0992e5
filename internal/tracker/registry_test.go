package tracker_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/itrack/internal/dom"
	"codeberg.org/mutker/itrack/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func install(t *testing.T, p *page, clock *fakeClock, rec *recorder) *tracker.Collector {
	t.Helper()
	c, err := tracker.Install(p.doc, tracker.Options{
		SendInterval: time.Hour,
		Sender:       rec,
		Clock:        clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(c.Teardown)
	return c
}

func TestInstallIsSingletonPerDocument(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	first := install(t, p, clock, rec)

	second, err := tracker.Install(p.doc, tracker.Options{Sender: &recorder{}})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, p.doc.ListenerCount(dom.EventMouseMove))
	assert.Equal(t, 1, p.button.ListenerCount(dom.EventClick))

	running, ok := tracker.Running(p.doc)
	require.True(t, ok)
	assert.Same(t, first, running)

	other := newPage()
	third := install(t, other, clock, rec)
	assert.NotSame(t, first, third)
}

func TestInstallRejectsInvalidOptions(t *testing.T) {
	p := newPage()

	_, err := tracker.Install(p.doc, tracker.Options{})
	require.Error(t, err)

	_, ok := tracker.Running(p.doc)
	assert.False(t, ok)
	assert.Equal(t, 0, p.doc.ListenerCount(dom.EventBeforeUnload))
}

func TestUnloadFlushesAndTearsDown(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	install(t, p, clock, rec)

	p.doc.KeyDown("q", dom.Modifiers{})
	p.doc.Click(30, 20)
	p.doc.Unload()

	sent := rec.sent()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].KeyboardEvents, 1)
	assert.Len(t, sent[0].Interactions, 1)

	_, ok := tracker.Running(p.doc)
	assert.False(t, ok)
	assert.Equal(t, 0, p.doc.ListenerCount(dom.EventBeforeUnload))
	assert.Equal(t, 0, p.doc.ListenerCount(dom.EventKeyDown))

	// A second unload has nothing left to flush.
	p.doc.Unload()
	assert.Len(t, rec.sent(), 1)
}

func TestUnloadWithEmptyBuffersSendsNothing(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	install(t, p, clock, rec)

	p.doc.Unload()

	assert.Empty(t, rec.sent())
	_, ok := tracker.Running(p.doc)
	assert.False(t, ok)
}

func TestReinstallAfterTeardown(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}
	first := install(t, p, clock, rec)
	first.Teardown()

	_, ok := tracker.Running(p.doc)
	require.False(t, ok)

	second := install(t, p, clock, rec)
	assert.NotSame(t, first, second)

	assert.Equal(t, 1, p.button.ListenerCount(dom.EventClick))
	_, known := second.Target(p.button)
	assert.True(t, known)
}

func TestInstallOnReadyWaitsForContentLoaded(t *testing.T) {
	p, clock, rec := newPage(), newClock(), &recorder{}

	var (
		got   *tracker.Collector
		calls int
	)
	tracker.InstallOnReady(p.doc, tracker.Options{
		SendInterval: time.Hour,
		Sender:       rec,
		Clock:        clock.Now,
	}, func(c *tracker.Collector, err error) {
		require.NoError(t, err)
		got = c
		calls++
	})

	_, ok := tracker.Running(p.doc)
	assert.False(t, ok)
	assert.Equal(t, 0, p.button.ListenerCount(dom.EventClick))

	p.doc.Ready()
	require.NotNil(t, got)
	t.Cleanup(got.Teardown)
	assert.Equal(t, 1, p.button.ListenerCount(dom.EventClick))

	p.doc.Ready()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, p.doc.ListenerCount(dom.EventContentLoaded))
}

func TestInstallOnReadyCancel(t *testing.T) {
	p := newPage()

	cancel := tracker.InstallOnReady(p.doc, tracker.Options{Sender: &recorder{}}, nil)
	cancel()
	p.doc.Ready()

	_, ok := tracker.Running(p.doc)
	assert.False(t, ok)
}
