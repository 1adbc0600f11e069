package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"qanun/api/internal/search"
)

func newTestServer(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()
	env := newTestEnv(t)
	return env, NewHTTPServer(env.svc, "*").Handler()
}

func doRequest(t *testing.T, h http.Handler, method, target, token string, body string, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(t *testing.T, h http.Handler, target, token string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, h, http.MethodPost, target, token, form.Encode(), "application/x-www-form-urlencoded")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["code"] != code {
		t.Fatalf("expected code %s, got %v", code, body["code"])
	}
	return body
}

func TestHealthAndReadiness(t *testing.T) {
	env, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/health", "", "", "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("health: %d %v", rec.Code, rec.Header())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/ready", "", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}

	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rec = doRequest(t, h, http.MethodGet, "/api/ready", "", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready: expected 503, got %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "not_ready" {
		t.Fatalf("unexpected readiness body %v", body)
	}
}

func TestSessionEndpoints(t *testing.T) {
	_, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/documents", "", "", "")
	expectError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")

	rec = doRequest(t, h, http.MethodGet, "/api/documents", "not-a-token", "", "")
	expectError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")

	rec = doRequest(t, h, http.MethodPost, "/api/session/login", "", `{"name":"Admin"}`, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	login := decode(t, rec)
	token, _ := login["token"].(string)
	if token == "" || login["role"] != "admin" {
		t.Fatalf("unexpected login body %v", login)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/session", token, "", "")
	if body := decode(t, rec); body["authenticated"] != true || body["userName"] != "Admin" {
		t.Fatalf("unexpected session body %v", body)
	}
}

func TestDocumentEditFlow(t *testing.T) {
	env, h := newTestServer(t)
	id := env.seed(t)
	token := env.login(t, "Avery").Token
	base := "/api/documents/" + id

	rec := doRequest(t, h, http.MethodGet, "/api/documents", token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if docs := decode(t, rec)["documents"].([]any); len(docs) != 1 {
		t.Fatalf("expected one document, got %v", docs)
	}

	rec = postForm(t, h, base+"/edit", token, url.Values{
		"action": {"add"}, "start": {"26"}, "end": {"34"}, "type": {"TERM"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["id"] != "ENT_2" {
		t.Fatalf("unexpected add response %v", body)
	}
	doc := body["document"].(map[string]any)
	if doc["nextId"].(float64) != 3 || len(doc["spans"].([]any)) != 2 {
		t.Fatalf("unexpected document view %v", doc)
	}

	rec = postForm(t, h, base+"/edit", token, url.Values{
		"action": {"add"}, "start": {"26"}, "end": {"34"}, "type": {"TERM"},
	})
	expectError(t, rec, http.StatusConflict, "DUPLICATE_SPAN")

	rec = postForm(t, h, base+"/edit", token, url.Values{"action": {"delete"}, "id": {"ENT_42"}})
	expectError(t, rec, http.StatusNotFound, "UNKNOWN_ID")

	rec = postForm(t, h, base+"/edit", token, url.Values{
		"action": {"add"}, "start": {"5"}, "end": {"5"}, "type": {"LAW"},
	})
	expectError(t, rec, http.StatusUnprocessableEntity, "INVALID_RANGE")

	rec = postForm(t, h, base+"/edit", token, url.Values{
		"action": {"add"}, "start": {"10"}, "end": {"20"}, "type": {"ORG"},
	})
	overlap := expectError(t, rec, http.StatusUnprocessableEntity, "UNBRACKETABLE_OVERLAP")
	if details := overlap["details"].(map[string]any); details["outer"] == nil || details["inner"] == nil {
		t.Fatalf("overlap details missing: %v", overlap)
	}

	rec = postForm(t, h, base+"/edit", token, url.Values{"action": {"save"}, "content": {"[[ENT id=ENT_1 type=LAW]]x"}})
	expectError(t, rec, http.StatusUnprocessableEntity, "MALFORMED_MARKER")

	rec = postForm(t, h, base+"/edit", token, url.Values{"action": {"add"}, "start": {"abc"}})
	expectError(t, rec, http.StatusBadRequest, "INVALID_REQUEST")

	rec = doRequest(t, h, http.MethodPost, base+"/edit", token,
		`{"action":"replace","start":24,"end":36,"text":""}`, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("replace: %d %s", rec.Code, rec.Body.String())
	}
	body = decode(t, rec)
	if body["message"] != "1 annotation was removed by this edit" {
		t.Fatalf("expected removal warning, got %v", body["message"])
	}
	if removed := body["removed"].([]any); len(removed) != 1 || removed[0] != "ENT_2" {
		t.Fatalf("unexpected removed ids %v", removed)
	}

	rec = doRequest(t, h, http.MethodGet, base+"/history?limit=10", token, "", "")
	commits := decode(t, rec)["commits"].([]any)
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits (import, add, replace), got %d", len(commits))
	}
	first := commits[len(commits)-1].(map[string]any)["hash"].(string)

	rec = doRequest(t, h, http.MethodGet, base+"/diff?from="+first, token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("diff: %d %s", rec.Code, rec.Body.String())
	}
	if diff := decode(t, rec); diff["textChanged"] != true {
		t.Fatalf("expected text change in diff %v", diff)
	}

	rec = doRequest(t, h, http.MethodGet, base+"/diff", token, "", "")
	expectError(t, rec, http.StatusBadRequest, "INVALID_REQUEST")

	rec = doRequest(t, h, http.MethodGet, base+"?version="+first, token, "", "")
	if got := decode(t, rec)["text"]; got != "القانون رقم 22.01 المتعلق بالمسطرة الجنائية" {
		t.Fatalf("old version text = %v", got)
	}
}

func TestViewerRestrictions(t *testing.T) {
	env, h := newTestServer(t)
	id := env.seed(t)
	viewer := env.loginAs(t, "Reader", "viewer")

	rec := postForm(t, h, "/api/documents/"+id+"/edit", viewer.Token, url.Values{"action": {"delete"}, "id": {"ENT_1"}})
	expectError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, h, http.MethodPost, "/api/documents", viewer.Token, `{"markers":"نص"}`, "application/json")
	expectError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, h, http.MethodGet, "/api/documents/"+id, viewer.Token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer read: %d", rec.Code)
	}
}

func TestCreateAndMergeOverHTTP(t *testing.T) {
	env, h := newTestServer(t)
	token := env.login(t, "Admin").Token

	payload := `{"id":"doc-2","text":"يطبق الفصل 12 من الظهير","entities":[{"id":"ENT_1","type":"ARTICLE","text":"الفصل 12","start_char":5,"end_char":13}]}`
	rec := doRequest(t, h, http.MethodPost, "/api/documents", token, payload, "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/documents", token, payload, "application/json")
	expectError(t, rec, http.StatusConflict, "DOCUMENT_EXISTS")

	rec = doRequest(t, h, http.MethodPost, "/api/documents/doc-2/extraction", token,
		`{"entities":[{"id":"ENT_1","type":"DECREE","text":"الظهير","start_char":17,"end_char":23}]}`, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("merge: %d %s", rec.Code, rec.Body.String())
	}
	merge := decode(t, rec)["merge"].(map[string]any)
	if merge["replaced"].(float64) != 1 || merge["added"].(float64) != 1 {
		t.Fatalf("unexpected merge report %v", merge)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/documents/doc-2/extraction", token, `{`, "application/json")
	expectError(t, rec, http.StatusBadRequest, "INVALID_REQUEST")

	rec = doRequest(t, h, http.MethodGet, "/api/documents/missing", token, "", "")
	expectError(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestResolveEndpoint(t *testing.T) {
	env, h := newTestServer(t)
	id := env.seed(t)
	token := env.login(t, "Avery").Token

	rec := doRequest(t, h, http.MethodGet, "/api/documents/"+id+"/resolve?space=render&pos=1:9&pos=0:3", token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}
	offsets := decode(t, rec)["offsets"].([]any)
	if len(offsets) != 2 || offsets[0].(float64) != 26 || offsets[1].(float64) != 3 {
		t.Fatalf("unexpected offsets %v", offsets)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/documents/"+id+"/resolve?space=storage&pos=9999", token, "", "")
	expectError(t, rec, http.StatusUnprocessableEntity, "INVALID_RANGE")

	rec = doRequest(t, h, http.MethodGet, "/api/documents/"+id+"/resolve?space=screen&pos=1", token, "", "")
	expectError(t, rec, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestExportEndpoint(t *testing.T) {
	env, h := newTestServer(t)
	id := env.seed(t)
	token := env.login(t, "Avery").Token

	rec := doRequest(t, h, http.MethodGet, "/api/documents/"+id+"/export?format=markers", token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != testMarkers {
		t.Fatalf("unexpected export body %q", rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("missing attachment header: %v", rec.Header())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/documents/"+id+"/export?format=odt", token, "", "")
	expectError(t, rec, http.StatusBadRequest, "UNSUPPORTED_FORMAT")

	rec = doRequest(t, h, http.MethodGet, "/api/documents/"+id+"/export?format=html&upload=true", token, "", "")
	expectError(t, rec, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE")
}

func TestSearchEndpoint(t *testing.T) {
	env, h := newTestServer(t)
	token := env.login(t, "Avery").Token

	var got search.Query
	env.search.searchFn = func(q search.Query) search.Response {
		got = q
		return search.Response{
			Query:   q.Text,
			Results: []search.Result{{Type: search.ResultEntity, ID: "doc-1__ENT_1", DocumentID: "doc-1", EntityType: "LAW"}},
			Total:   1,
		}
	}
	rec := doRequest(t, h, http.MethodGet, "/api/search?q=22.01&type=LAW&kind=entity&limit=5", token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	if got.Text != "22.01" || got.EntityType != "LAW" || got.FilterType != search.ResultEntity || got.Limit != 5 {
		t.Fatalf("unexpected query %+v", got)
	}
}

func TestUnknownRoutes(t *testing.T) {
	env, h := newTestServer(t)
	token := env.login(t, "Avery").Token

	rec := doRequest(t, h, http.MethodGet, "/api/elsewhere", token, "", "")
	expectError(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = doRequest(t, h, http.MethodDelete, "/api/documents", token, "", "")
	expectError(t, rec, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestAdminEndpoints(t *testing.T) {
	env, h := newTestServer(t)
	admin := env.login(t, "Admin")
	avery := env.login(t, "Avery")

	rec := doRequest(t, h, http.MethodPost, "/api/admin/reindex", avery.Token, "", "")
	expectError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, h, http.MethodPost, "/api/admin/reindex", admin.Token, "", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reindex: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/admin/users/"+avery.UserID+"/role", admin.Token, `{"role":"editor"}`, "application/json")
	expectError(t, rec, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rec = doRequest(t, h, http.MethodPost, "/api/admin/users/"+avery.UserID+"/role", admin.Token, `{"role":"viewer"}`, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("set role: %d %s", rec.Code, rec.Body.String())
	}

	// The role change applies to Avery's existing token.
	rec = postForm(t, h, "/api/documents/doc-1/edit", avery.Token, url.Values{"action": {"delete"}, "id": {"ENT_1"}})
	expectError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, h, http.MethodPost, "/api/admin/users/nobody/role", admin.Token, `{"role":"viewer"}`, "application/json")
	expectError(t, rec, http.StatusNotFound, "NOT_FOUND")
}
