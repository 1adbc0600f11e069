// Package gesture models the pointer interaction of the annotation view as
// an explicit state machine: idle, selecting new text, or dragging a handle
// of an existing span. Every transition back to idle hides all overlays.
package gesture

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"qanun/api/internal/resolve"
)

type State int

const (
	Idle State = iota
	Selecting
	Dragging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Dragging:
		return "dragging"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Edge names a drag handle.
type Edge string

const (
	EdgeStart Edge = "start"
	EdgeEnd   Edge = "end"
)

var (
	ErrNoFocus  = errors.New("no focused span")
	ErrBadState = errors.New("event not valid in current state")
	ErrNoText   = errors.New("no text under pointer")
)

// Overlay is the visibility of the transient decorations.
type Overlay struct {
	Handles   bool   `json:"handles"`
	Selection bool   `json:"selection"`
	Popup     bool   `json:"popup"`
	SpanID    string `json:"spanId,omitempty"`
}

// Intent is the edit a finished gesture asks for. Action is "add" for a new
// selection or "move" for a dragged handle.
type Intent struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Values encodes the intent as a flat edit request.
func (in Intent) Values() url.Values {
	v := url.Values{}
	v.Set("action", in.Action)
	if in.ID != "" {
		v.Set("id", in.ID)
	}
	v.Set("start", strconv.Itoa(in.Start))
	v.Set("end", strconv.Itoa(in.End))
	return v
}

// HitTester is the slice of a render-side resolver the machine needs to
// sample the text under the pointer.
type HitTester interface {
	Overlay(pos resolve.Position) bool
	Offset(pos resolve.Position) (int, error)
}

type focus struct {
	id         string
	start, end int
}

// Machine tracks one pointer gesture. The zero value is idle.
type Machine struct {
	state   State
	overlay Overlay
	focus   *focus

	anchor int
	head   int
}

func New() *Machine { return &Machine{} }

func (m *Machine) State() State { return m.state }

func (m *Machine) Overlay() Overlay { return m.overlay }

// Sample resolves the canonical offset under the pointer. stack lists the
// caret candidates from topmost to bottommost; overlays are suppressed so
// the text underneath is sampled, never a handle or the popup.
func (m *Machine) Sample(h HitTester, stack []resolve.Position) (int, error) {
	for _, pos := range stack {
		if h.Overlay(pos) {
			continue
		}
		return h.Offset(pos)
	}
	return 0, ErrNoText
}

// Focus shows the handles and popup of an existing span while idle.
func (m *Machine) Focus(id string, start, end int) error {
	if m.state != Idle {
		return fmt.Errorf("%w: focus while %s", ErrBadState, m.state)
	}
	m.focus = &focus{id: id, start: start, end: end}
	m.overlay = Overlay{Handles: true, Popup: true, SpanID: id}
	return nil
}

// PressText starts a new selection at offset.
func (m *Machine) PressText(offset int) error {
	if m.state != Idle {
		return fmt.Errorf("%w: press while %s", ErrBadState, m.state)
	}
	m.focus = nil
	m.state = Selecting
	m.anchor, m.head = offset, offset
	m.overlay = Overlay{Selection: true}
	return nil
}

// PressHandle starts dragging an edge of the focused span.
func (m *Machine) PressHandle(edge Edge) error {
	if m.state != Idle {
		return fmt.Errorf("%w: press while %s", ErrBadState, m.state)
	}
	if m.focus == nil {
		return ErrNoFocus
	}
	m.state = Dragging
	if edge == EdgeStart {
		m.anchor, m.head = m.focus.end, m.focus.start
	} else {
		m.anchor, m.head = m.focus.start, m.focus.end
	}
	m.overlay = Overlay{Handles: true, Selection: true, SpanID: m.focus.id}
	return nil
}

// Move follows the pointer.
func (m *Machine) Move(offset int) {
	if m.state == Idle {
		return
	}
	m.head = offset
}

// Release ends the gesture. It returns the requested edit, or false when
// the gesture selected nothing.
func (m *Machine) Release(offset int) (Intent, bool) {
	if m.state == Idle {
		return Intent{}, false
	}
	m.head = offset
	start, end := m.anchor, m.head
	if start > end {
		start, end = end, start
	}
	var in Intent
	ok := start != end
	switch m.state {
	case Selecting:
		in = Intent{Action: "add", Start: start, End: end}
	case Dragging:
		in = Intent{Action: "move", ID: m.focus.id, Start: start, End: end}
		ok = ok && (start != m.focus.start || end != m.focus.end)
	}
	m.reset()
	return in, ok
}

// Cancel abandons the gesture, as on Escape.
func (m *Machine) Cancel() { m.reset() }

// ClickOutside handles a pointer press outside the text area.
func (m *Machine) ClickOutside() { m.reset() }

func (m *Machine) reset() {
	m.state = Idle
	m.overlay = Overlay{}
	m.focus = nil
	m.anchor, m.head = 0, 0
}
