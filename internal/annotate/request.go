// Package annotate applies flat edit requests to a document's span store.
// Each request runs against a copy of the store, so a failed request
// leaves the original untouched.
package annotate

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"qanun/api/internal/resolve"
)

const (
	ActionAdd        = "add"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionMove       = "move"
	ActionReplace    = "replace"
	ActionSave       = "save"
	ActionFixOffsets = "fix-offsets"
)

// Position spaces a client may address.
const (
	SpaceRender  = "render"
	SpaceStorage = "storage"
)

var ErrInvalidRequest = errors.New("invalid edit request")

// Request is one flat edit. Pointer fields distinguish "absent" from zero.
type Request struct {
	Action  string  `json:"action"`
	ID      string  `json:"id,omitempty"`
	Start   *int    `json:"start,omitempty"`
	End     *int    `json:"end,omitempty"`
	Type    *string `json:"type,omitempty"`
	Norm    *string `json:"norm,omitempty"`
	Text    *string `json:"text,omitempty"`
	Content *string `json:"content,omitempty"`

	// StartPos and EndPos are structural positions to resolve instead of
	// Start and End. Space selects the view they refer to and Active the
	// span whose handles were showing in that view.
	StartPos *resolve.Position `json:"startPos,omitempty"`
	EndPos   *resolve.Position `json:"endPos,omitempty"`
	Space    string            `json:"space,omitempty"`
	Active   string            `json:"active,omitempty"`
}

// ParseRequest reads a request from form values. Positions are written as
// "node:offset", or a bare offset for the storage view.
func ParseRequest(v url.Values) (Request, error) {
	req := Request{
		Action: strings.TrimSpace(v.Get("action")),
		ID:     strings.TrimSpace(v.Get("id")),
		Space:  v.Get("space"),
		Active: v.Get("active"),
	}
	var err error
	if req.Start, err = optionalInt(v, "start"); err != nil {
		return Request{}, err
	}
	if req.End, err = optionalInt(v, "end"); err != nil {
		return Request{}, err
	}
	if req.StartPos, err = optionalPos(v, "startPos"); err != nil {
		return Request{}, err
	}
	if req.EndPos, err = optionalPos(v, "endPos"); err != nil {
		return Request{}, err
	}
	req.Type = optionalString(v, "type")
	req.Norm = optionalString(v, "norm")
	req.Text = optionalString(v, "text")
	req.Content = optionalString(v, "content")
	return req, nil
}

// ParsePosition parses "node:offset" or a bare offset.
func ParsePosition(s string) (resolve.Position, error) {
	node, off, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		n, err := strconv.Atoi(node)
		if err != nil {
			return resolve.Position{}, fmt.Errorf("%w: bad position %q", ErrInvalidRequest, s)
		}
		return resolve.Position{Offset: n}, nil
	}
	n, err1 := strconv.Atoi(node)
	o, err2 := strconv.Atoi(off)
	if err1 != nil || err2 != nil {
		return resolve.Position{}, fmt.Errorf("%w: bad position %q", ErrInvalidRequest, s)
	}
	return resolve.Position{Node: n, Offset: o}, nil
}

func first(v url.Values, key string) (string, bool) {
	raw := v[key]
	if len(raw) == 0 {
		return "", false
	}
	return raw[0], true
}

func optionalInt(v url.Values, key string) (*int, error) {
	raw, _ := first(v, key)
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, key)
	}
	return &n, nil
}

func optionalPos(v url.Values, key string) (*resolve.Position, error) {
	raw, _ := first(v, key)
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	pos, err := ParsePosition(raw)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func optionalString(v url.Values, key string) *string {
	raw, ok := first(v, key)
	if !ok {
		return nil
	}
	return &raw
}
