package app

import (
	"errors"
	"fmt"
	"net/http"

	"qanun/api/internal/annotate"
	"qanun/api/internal/auth"
	"qanun/api/internal/doclock"
	"qanun/api/internal/export"
	"qanun/api/internal/gitrepo"
	"qanun/api/internal/marker"
	"qanun/api/internal/resolve"
	"qanun/api/internal/span"
	"qanun/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

type spanRef struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// mapError turns engine and infrastructure errors into the API error shape.
// Order matters: ErrDuplicate also matches ErrInvalidRange.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var syntaxErr *marker.SyntaxError
	var overlapErr *marker.OverlapError
	switch {
	case errors.As(err, &syntaxErr):
		return http.StatusUnprocessableEntity, "MALFORMED_MARKER", syntaxErr.Msg, map[string]any{"pos": syntaxErr.Pos}
	case errors.Is(err, marker.ErrMalformedMarker):
		return http.StatusUnprocessableEntity, "MALFORMED_MARKER", err.Error(), nil
	case errors.As(err, &overlapErr):
		return http.StatusUnprocessableEntity, "UNBRACKETABLE_OVERLAP", "Spans cross without nesting", map[string]any{
			"outer": spanRef{overlapErr.Outer.ID, overlapErr.Outer.Start, overlapErr.Outer.End},
			"inner": spanRef{overlapErr.Inner.ID, overlapErr.Inner.Start, overlapErr.Inner.End},
		}
	case errors.Is(err, marker.ErrUnbracketableOverlap):
		return http.StatusUnprocessableEntity, "UNBRACKETABLE_OVERLAP", err.Error(), nil
	case errors.Is(err, span.ErrUnknownID):
		return http.StatusNotFound, "UNKNOWN_ID", err.Error(), nil
	case errors.Is(err, span.ErrDuplicate):
		return http.StatusConflict, "DUPLICATE_SPAN", err.Error(), nil
	case errors.Is(err, span.ErrInvalidRange), errors.Is(err, marker.ErrInvalidSpan), errors.Is(err, resolve.ErrPositionOutOfRange):
		return http.StatusUnprocessableEntity, "INVALID_RANGE", err.Error(), nil
	case errors.Is(err, annotate.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gitrepo.ErrDocumentNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, doclock.ErrLockTimeout):
		return http.StatusConflict, "DOCUMENT_LOCKED", "Document is being edited, retry shortly", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing), errors.Is(err, export.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
