// Package dom is a headless page model: an element tree with attributes,
// geometry, event listeners, structural mutation observers and viewport
// visibility observers. It gives the interaction tracker the same
// primitives a browser document would, and lets tests and the replay
// driver synthesise user input deterministically.
//
// Listeners and observers are invoked synchronously on the goroutine that
// caused them, never while the document lock is held. A panicking listener
// is recovered and reported through Document.OnListenerPanic.
package dom
