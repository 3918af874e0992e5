package tracker

import (
	"sync"

	"codeberg.org/mutker/itrack/internal/dom"
)

var (
	registryMu sync.Mutex
	registry   = make(map[*dom.Document]*Collector)
)

// Install starts the single collector for doc. If one is already running
// for the document it is returned unchanged and opts are ignored.
//
// The collector flushes and tears itself down when the document unloads.
func Install(doc *dom.Document, opts Options) (*Collector, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if running, ok := registry[doc]; ok {
		running.log.Debug().Msg("Tracker already running, ignoring install")
		return running, nil
	}

	c, err := New(doc, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.docCancels = append(c.docCancels, doc.Listen(dom.EventBeforeUnload, c.guard(func(*dom.Event) {
		c.Flush()
		c.Teardown()
	})))
	c.mu.Unlock()

	if err := c.Observe(); err != nil {
		c.Teardown()
		return nil, err
	}

	registry[doc] = c
	c.mu.Lock()
	c.onTeardown = func() { unregister(c) }
	c.mu.Unlock()

	return c, nil
}

// InstallOnReady defers Install until doc dispatches DOMContentLoaded.
// done, if set, receives the result. The returned Cancel drops the pending
// install.
func InstallOnReady(doc *dom.Document, opts Options, done func(*Collector, error)) dom.Cancel {
	var (
		once   sync.Once
		cancel dom.Cancel
	)
	cancel = doc.Listen(dom.EventContentLoaded, func(*dom.Event) {
		once.Do(func() {
			cancel()
			c, err := Install(doc, opts)
			if done != nil {
				done(c, err)
			}
		})
	})
	return cancel
}

// Running returns the collector installed for doc, if any.
func Running(doc *dom.Document) (*Collector, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()

	c, ok := registry[doc]
	return c, ok
}

func unregister(c *Collector) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if registry[c.doc] == c {
		delete(registry, c.doc)
	}
}
