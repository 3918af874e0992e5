package tracker

import (
	"strings"

	"codeberg.org/mutker/itrack/internal/dom"
	"codeberg.org/mutker/itrack/internal/telemetry"
	"github.com/google/uuid"
)

const (
	sectionClass     = "form-group"
	optionLabelClass = "option-label"

	dataTracked    = "tracked"
	dataTargetID   = "target-id"
	dataQuestionID = "question-id"

	tokenLength = 8
)

var (
	isSection = dom.HasClass(sectionClass)

	isInputLike = dom.Any(dom.Is("input"), dom.Is("textarea"), dom.Is("select"))

	isInteractive = dom.Any(
		dom.Is("button"),
		isInputLike,
		dom.All(dom.Is("label"), dom.HasClass(optionLabelClass)),
	)
)

// DetectActiveQuestion re-derives the question sections and watches each
// one; a section becomes current when at least the visibility threshold of
// it is inside the viewport. Observers from the previous scan are dropped.
func (c *Collector) DetectActiveQuestion() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	stale := c.sectionCancels
	c.sectionCancels = nil
	c.mu.Unlock()

	for _, cancel := range stale {
		cancel()
	}

	var cancels []dom.Cancel
	for _, section := range c.doc.QueryAll(isSection) {
		questionID, ok := sectionQuestionID(section)
		if !ok {
			continue
		}
		if section.Data(dataQuestionID) == "" {
			section.SetData(dataQuestionID, questionID)
		}

		cancels = append(cancels, c.doc.ObserveVisibility(section, c.opts.VisibilityThreshold,
			func(visible bool) {
				if visible {
					c.setQuestion(questionID)
				}
			}))
	}

	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		return
	}
	c.sectionCancels = append(c.sectionCancels, cancels...)
	c.mu.Unlock()
}

// DiscoverTargets instruments interactive elements that have not been seen
// before. Elements already carrying the tracked marker are skipped, so
// repeated scans attach listeners exactly once per element.
func (c *Collector) DiscoverTargets() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown {
		return
	}

	c.pruneDetachedLocked()

	found := 0
	for _, el := range c.doc.QueryAll(isInteractive) {
		if el.Data(dataTracked) != "" {
			continue
		}

		questionID := targetQuestionID(el)
		id := newToken()
		el.SetData(dataTracked, "true")
		el.SetData(dataTargetID, id)
		el.SetData(dataQuestionID, questionID)

		rect := el.ClientRect()
		x, y := rect.Center()
		target := &telemetry.Target{
			ID:         id,
			QuestionID: questionID,
			X:          x,
			Y:          y,
			Width:      rect.Width,
			Height:     rect.Height,
			Type:       el.Tag(),
		}
		c.targets[el] = target

		el := el
		cancels := []dom.Cancel{
			el.Listen(dom.EventMouseOver, c.guard(func(*dom.Event) { c.hover(target) })),
			el.Listen(dom.EventClick, c.guard(func(ev *dom.Event) { c.RecordInteraction(ev, el) })),
		}
		if isInputLike(el) {
			cancels = append(cancels,
				el.Listen(dom.EventFocus, c.guard(func(*dom.Event) { c.setQuestion(questionID) })))
		}
		c.targetCancels[el] = cancels
		found++
	}

	if found > 0 {
		c.log.Debug().Int("targets", found).Int("tracked", len(c.targets)).Msg("Discovered interactive elements")
	}
}

// pruneDetachedLocked forgets targets whose element has left the document
// and detaches their listeners. The tracked marker is cleared so the
// element is instrumented again if it returns. Callers hold c.mu.
func (c *Collector) pruneDetachedLocked() {
	pruned := 0
	for el, target := range c.targets {
		if el.Connected() {
			continue
		}
		for _, cancel := range c.targetCancels[el] {
			cancel()
		}
		delete(c.targetCancels, el)
		delete(c.targets, el)
		el.RemoveAttr("data-" + dataTracked)
		if c.currentTarget == target {
			c.currentTarget = nil
		}
		pruned++
	}

	if pruned > 0 {
		c.log.Debug().Int("targets", pruned).Msg("Forgot detached elements")
	}
}

func (c *Collector) hover(target *telemetry.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentTarget = target
}

func (c *Collector) setQuestion(questionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentQuestion = questionID
}

// sectionQuestionID returns the id a section declares, or derives one from
// its first input-like descendant. Sections with neither are not questions.
func sectionQuestionID(section *dom.Element) (string, bool) {
	if id := section.Data(dataQuestionID); id != "" {
		return id, true
	}
	input := section.QueryFirst(isInputLike)
	if input == nil {
		return "", false
	}
	if name, _ := input.Attr("name"); name != "" {
		return name, true
	}
	return UnknownQuestion, true
}

// targetQuestionID resolves the owning question of an element: the
// enclosing section, then the element's own name, then UnknownQuestion.
func targetQuestionID(el *dom.Element) string {
	if section := el.Closest(isSection); section != nil {
		if id, ok := sectionQuestionID(section); ok {
			return id
		}
	}
	if name, _ := el.Attr("name"); name != "" {
		return name
	}
	return UnknownQuestion
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLength]
}
