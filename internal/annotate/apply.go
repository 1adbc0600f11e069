package annotate

import (
	"fmt"

	"qanun/api/internal/render"
	"qanun/api/internal/resolve"
	"qanun/api/internal/span"
)

// Result describes a successfully applied request.
type Result struct {
	Action string `json:"action"`
	// ID is the span the request created or touched.
	ID string `json:"id,omitempty"`
	// Removed lists spans a text edit dropped.
	Removed []string `json:"removed,omitempty"`
	Message string   `json:"message,omitempty"`
	// Document is the re-encoded marker document.
	Document string `json:"-"`
}

// Apply runs req against a copy of st and returns the updated copy. The
// returned store always encodes; spans that cannot be bracketed fail the
// request instead of reaching persistence.
func Apply(st *span.Store, req Request) (*span.Store, Result, error) {
	next := st.Clone()
	res := Result{Action: req.Action, ID: req.ID}

	if err := resolvePositions(st, &req); err != nil {
		return nil, Result{}, err
	}

	switch req.Action {
	case ActionAdd:
		if req.Start == nil || req.End == nil || req.Type == nil {
			return nil, Result{}, fmt.Errorf("%w: add needs start, end and type", ErrInvalidRequest)
		}
		id, err := next.Add(*req.Start, *req.End, *req.Type, deref(req.Norm))
		if err != nil {
			return nil, Result{}, err
		}
		res.ID = id
	case ActionUpdate:
		if req.ID == "" {
			return nil, Result{}, fmt.Errorf("%w: update needs id", ErrInvalidRequest)
		}
		patch := span.Patch{Start: req.Start, End: req.End, Type: req.Type, Normalized: req.Norm}
		if err := next.Update(req.ID, patch); err != nil {
			return nil, Result{}, err
		}
	case ActionMove:
		if req.ID == "" || req.Start == nil || req.End == nil {
			return nil, Result{}, fmt.Errorf("%w: move needs id, start and end", ErrInvalidRequest)
		}
		if err := Move(next, req.ID, *req.Start, *req.End); err != nil {
			return nil, Result{}, err
		}
	case ActionDelete:
		if req.ID == "" {
			return nil, Result{}, fmt.Errorf("%w: delete needs id", ErrInvalidRequest)
		}
		if err := next.Delete(req.ID); err != nil {
			return nil, Result{}, err
		}
	case ActionReplace:
		if req.Start == nil || req.End == nil || req.Text == nil {
			return nil, Result{}, fmt.Errorf("%w: replace needs start, end and text", ErrInvalidRequest)
		}
		report, err := next.ReplaceText(*req.Start, *req.End, *req.Text)
		if err != nil {
			return nil, Result{}, err
		}
		res.Removed = report.RemovedIDs()
		res.Message = report.Message()
	case ActionSave:
		if req.Content == nil {
			return nil, Result{}, fmt.Errorf("%w: save needs content", ErrInvalidRequest)
		}
		saved, err := span.Load(*req.Content, st.NextID())
		if err != nil {
			return nil, Result{}, err
		}
		next = saved
	case ActionFixOffsets:
		doc := ""
		if req.Content != nil {
			doc = *req.Content
		} else {
			encoded, err := st.Encode()
			if err != nil {
				return nil, Result{}, err
			}
			doc = encoded
		}
		fixed, err := FixOffsets(doc, st.NextID())
		if err != nil {
			return nil, Result{}, err
		}
		next = fixed
	default:
		return nil, Result{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, req.Action)
	}

	doc, err := next.Encode()
	if err != nil {
		return nil, Result{}, err
	}
	res.Document = doc
	return next, res, nil
}

// Move re-anchors a span to [start, end), swapping reversed edges.
func Move(st *span.Store, id string, start, end int) error {
	return st.Update(id, span.Patch{Start: &start, End: &end})
}

// FixOffsets discards stored offsets and rebuilds the store from the marker
// positions in doc. Running it on its own output changes nothing.
func FixOffsets(doc string, nextID int) (*span.Store, error) {
	return span.Load(doc, nextID)
}

// resolvePositions turns structural positions into canonical offsets using
// the view the client was looking at.
func resolvePositions(st *span.Store, req *Request) error {
	if req.StartPos == nil && req.EndPos == nil {
		return nil
	}
	r, err := Resolver(st, req.Space, req.Active)
	if err != nil {
		return err
	}
	if req.StartPos != nil {
		off, err := r.Offset(*req.StartPos)
		if err != nil {
			return err
		}
		req.Start = &off
	}
	if req.EndPos != nil {
		off, err := r.Offset(*req.EndPos)
		if err != nil {
			return err
		}
		req.End = &off
	}
	return nil
}

// Resolver builds the offset resolver for one view of st.
func Resolver(st *span.Store, space, active string) (resolve.Resolver, error) {
	switch space {
	case SpaceStorage:
		doc, err := st.Encode()
		if err != nil {
			return nil, err
		}
		return resolve.NewStorage(doc)
	case SpaceRender, "":
		view := render.Document(st.Text(), st.All(), render.Options{ActiveID: active})
		return resolve.NewRenderString(view)
	}
	return nil, fmt.Errorf("%w: unknown position space %q", ErrInvalidRequest, space)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
