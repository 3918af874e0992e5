// Package replay drives a collector against a scripted page. A script
// describes the page layout and a timeline of user input; playback runs
// on a virtual clock so results are deterministic.
package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"codeberg.org/mutker/itrack/internal/dom"
	"codeberg.org/mutker/itrack/internal/errors"
)

// Step types.
const (
	StepMouseMove = "mousemove"
	StepClick     = "click"
	StepKeyDown   = "keydown"
	StepKeyUp     = "keyup"
	StepType      = "type"
	StepScroll    = "scroll"
	StepResize    = "resize"
	StepSwap      = "swap"
	StepUnload    = "unload"
)

const (
	defaultTypeInterval = 150.0 // ms between keystrokes
	defaultTypeHold     = 80.0  // ms a key stays down
)

type Script struct {
	Viewport dom.Viewport `json:"viewport"`
	Page     []Node       `json:"page"`
	Steps    []Step       `json:"steps"`
}

// Node is one element of the page layout.
type Node struct {
	Tag      string            `json:"tag"`
	Classes  []string          `json:"classes,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	Rect     dom.Rect          `json:"rect"`
	Children []Node            `json:"children,omitempty"`
}

// Step is one scripted input. At is the offset in milliseconds from the
// start of playback.
type Step struct {
	At   float64 `json:"at"`
	Type string  `json:"type"`

	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	Key  string        `json:"key,omitempty"`
	Mods dom.Modifiers `json:"mods,omitempty"`

	// Text is expanded into keydown/keyup pairs for StepType.
	Text     string  `json:"text,omitempty"`
	Interval float64 `json:"interval,omitempty"`
	Hold     float64 `json:"hold,omitempty"`

	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	Page []Node `json:"page,omitempty"`
}

// Load decodes and validates a script.
func Load(r io.Reader) (*Script, error) {
	errFactory := errors.New()

	var s Script
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, errFactory.Wrap(errors.ErrLoadScript, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.Steps = expand(s.Steps)
	return &s, nil
}

// LoadFile reads a script from path.
func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrLoadScript, err)
	}
	defer f.Close()

	return Load(f)
}

func (s *Script) validate() error {
	errFactory := errors.New()

	if s.Viewport.Width <= 0 || s.Viewport.Height <= 0 {
		return errFactory.WithData(errors.ErrLoadScript, "viewport must have a positive size")
	}
	if err := validateNodes(s.Page); err != nil {
		return err
	}

	for i, st := range s.Steps {
		if st.At < 0 {
			return errFactory.WithData(errors.ErrLoadScript, fmt.Sprintf("step %d: negative offset", i))
		}
		switch st.Type {
		case StepMouseMove, StepClick, StepScroll, StepUnload:
		case StepKeyDown, StepKeyUp:
			if st.Key == "" {
				return errFactory.WithData(errors.ErrLoadScript, fmt.Sprintf("step %d: %s needs a key", i, st.Type))
			}
		case StepType:
			if st.Text == "" {
				return errFactory.WithData(errors.ErrLoadScript, fmt.Sprintf("step %d: type needs text", i))
			}
		case StepResize:
			if st.Width <= 0 || st.Height <= 0 {
				return errFactory.WithData(errors.ErrLoadScript, fmt.Sprintf("step %d: resize needs a positive size", i))
			}
		case StepSwap:
			if err := validateNodes(st.Page); err != nil {
				return err
			}
		default:
			return errFactory.WithData(errors.ErrLoadScript, fmt.Sprintf("step %d: unknown type %q", i, st.Type))
		}
	}
	return nil
}

func validateNodes(nodes []Node) error {
	for _, n := range nodes {
		if n.Tag == "" {
			return errors.New().WithData(errors.ErrLoadScript, "element without tag")
		}
		if err := validateNodes(n.Children); err != nil {
			return err
		}
	}
	return nil
}

// expand turns typing steps into key events and orders all steps by time.
// Steps with equal offsets keep their script order.
func expand(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, st := range steps {
		if st.Type != StepType {
			out = append(out, st)
			continue
		}

		interval, hold := st.Interval, st.Hold
		if interval <= 0 {
			interval = defaultTypeInterval
		}
		if hold <= 0 {
			hold = defaultTypeHold
		}
		i := 0
		for _, r := range st.Text {
			key := string(r)
			if r == '\n' {
				key = "Enter"
			}
			at := st.At + float64(i)*interval
			out = append(out,
				Step{At: at, Type: StepKeyDown, Key: key, Mods: st.Mods},
				Step{At: at + hold, Type: StepKeyUp, Key: key, Mods: st.Mods},
			)
			i++
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// Build creates a document with the script's viewport and page.
func (s *Script) Build() *dom.Document {
	doc := dom.New(s.Viewport)
	doc.Body().Append(buildNodes(doc, s.Page)...)
	return doc
}

func buildNodes(doc *dom.Document, nodes []Node) []*dom.Element {
	out := make([]*dom.Element, 0, len(nodes))
	for _, n := range nodes {
		el := doc.CreateElement(n.Tag).AddClass(n.Classes...).SetRect(n.Rect)
		for k, v := range n.Attrs {
			el.SetAttr(k, v)
		}
		for k, v := range n.Data {
			el.SetData(k, v)
		}
		el.Append(buildNodes(doc, n.Children)...)
		out = append(out, el)
	}
	return out
}
