package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qanun/api/internal/annotate"
	"qanun/api/internal/auth"
	"qanun/api/internal/export"
	"qanun/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"userId":    session.UserID,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 2 && parts[0] == "api" && parts[1] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, session)
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "reindex" && r.Method == http.MethodPost:
		err := s.service.Reindex(r.Context(), session)
		respond(w, http.StatusAccepted, map[string]any{"ok": true}, err)
	case len(parts) == 5 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "users" && parts[4] == "role" && r.Method == http.MethodPost:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		err := s.service.SetUserRole(r.Context(), session, parts[3], body.Role)
		respond(w, http.StatusOK, map[string]any{"userId": parts[3], "role": body.Role}, err)
	case len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents":
		documentID := ""
		var rest []string
		if len(parts) >= 3 {
			documentID = parts[2]
			rest = parts[3:]
		}
		s.handleDocuments(w, r, session, documentID, rest)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, documentID string, rest []string) {
	if documentID == "" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListDocuments(r.Context(), session)
			respond(w, http.StatusOK, map[string]any{"documents": items}, err)
		case http.MethodPost:
			var input CreateDocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.CreateDocument(r.Context(), session, input)
			respond(w, http.StatusCreated, result, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	action := ""
	if len(rest) > 0 {
		action = rest[0]
	}
	query := r.URL.Query()

	switch {
	case action == "" && r.Method == http.MethodGet:
		view, err := s.service.GetDocument(r.Context(), session, documentID, query.Get("version"), query.Get("active"))
		respond(w, http.StatusOK, view, err)

	case action == "edit" && r.Method == http.MethodPost:
		req, err := parseEditRequest(r)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		result, err := s.service.Edit(r.Context(), session, documentID, req)
		respond(w, http.StatusOK, result, err)

	case action == "extraction" && r.Method == http.MethodPost:
		ext, err := annotate.ReadExtraction(r.Body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		result, err := s.service.MergeExtraction(r.Context(), session, documentID, ext)
		respond(w, http.StatusOK, result, err)

	case action == "history" && r.Method == http.MethodGet:
		limit := queryInt(query.Get("limit"), 50)
		items, err := s.service.History(r.Context(), session, documentID, limit)
		respond(w, http.StatusOK, map[string]any{"commits": items}, err)

	case action == "diff" && r.Method == http.MethodGet:
		diff, err := s.service.Diff(r.Context(), session, documentID, query.Get("from"), query.Get("to"))
		respond(w, http.StatusOK, diff, err)

	case action == "resolve" && r.Method == http.MethodGet:
		offsets, err := s.service.ResolvePositions(r.Context(), session, documentID, query.Get("space"), query.Get("active"), query["pos"])
		respond(w, http.StatusOK, map[string]any{"offsets": offsets}, err)

	case action == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, session, documentID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	resp, err := s.service.Search(session, search.Query{
		Text:       strings.TrimSpace(query.Get("q")),
		FilterType: search.ResultType(query.Get("kind")),
		EntityType: query.Get("type"),
		DocumentID: query.Get("documentId"),
		Limit:      queryInt(query.Get("limit"), 20),
		Offset:     queryInt(query.Get("offset"), 0),
	})
	respond(w, http.StatusOK, resp, err)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, documentID string) {
	query := r.URL.Query()
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	upload, _ := strconv.ParseBool(query.Get("upload"))
	result, err := s.service.Export(r.Context(), session, export.Request{
		DocumentID: documentID,
		Version:    query.Get("version"),
		Format:     format,
		Upload:     upload,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if upload {
		writeJSON(w, http.StatusOK, map[string]any{"url": result.URL, "filename": result.Filename})
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// parseEditRequest accepts a JSON body or a flat form.
func parseEditRequest(r *http.Request) (annotate.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req annotate.Request
		if err := decodeBody(r, &req); err != nil {
			return annotate.Request{}, fmt.Errorf("%w: %v", annotate.ErrInvalidRequest, err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return annotate.Request{}, fmt.Errorf("%w: %v", annotate.ErrInvalidRequest, err)
	}
	return annotate.ParseRequest(r.Form)
}

func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			log.Printf("app: %v", err)
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func queryInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
