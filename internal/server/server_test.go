package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/migrate"
)

func newTestServer(t *testing.T, auth AuthConfig) (http.Handler, engine.Engine) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	clock := func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
	e.Now = clock
	e.Repo.Now = clock
	handler, err := New(Config{Engine: e, Auth: auth})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return handler, e
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

type errEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func TestHandleErrorStorageUnavailable(t *testing.T) {
	herr := handleError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	if herr.GetStatus() != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", herr.GetStatus())
	}
	ae, ok := herr.(*apiError)
	if !ok || ae.Body.Code != "storage_unavailable" {
		t.Fatalf("error = %+v, want storage_unavailable", herr)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{})
	rec := doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProjectLifecycle(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/projects", `{"name":"alpha","tags":["x"]}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created ProjectResponse
	decode(t, rec, &created)
	if !created.Success || created.Data.ID == "" {
		t.Fatalf("create body = %+v", created)
	}
	id := created.Data.ID

	rec = doJSON(t, h, http.MethodGet, "/api/projects/"+id, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/projects/"+id, `{"status":"in-progress"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	var patched ProjectResponse
	decode(t, rec, &patched)
	if patched.Data.Status != "in-progress" {
		t.Fatalf("status = %q", patched.Data.Status)
	}

	// Stale token: 409 with both timestamps in the details.
	rec = doJSON(t, h, http.MethodPatch, "/api/projects/"+id,
		`{"name":"loser","ifUpdatedAt":"`+created.Data.UpdatedAt+`"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale patch status = %d: %s", rec.Code, rec.Body.String())
	}
	var conflict errEnvelope
	decode(t, rec, &conflict)
	if conflict.Error.Code != "conflict" {
		t.Fatalf("code = %q", conflict.Error.Code)
	}
	if conflict.Error.Details["expected"] != created.Data.UpdatedAt || conflict.Error.Details["actual"] != patched.Data.UpdatedAt {
		t.Fatalf("details = %v", conflict.Error.Details)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/projects/proj-missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d", rec.Code)
	}
	var nf errEnvelope
	decode(t, rec, &nf)
	if nf.Error.Code != "not_found" {
		t.Fatalf("code = %q", nf.Error.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/projects/"+id, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/projects/"+id, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{})

	// Present but empty name fails domain validation.
	rec := doJSON(t, h, http.MethodPost, "/api/projects", `{"name":"  "}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var env errEnvelope
	decode(t, rec, &env)
	if env.Error.Code != "validation_failed" {
		t.Fatalf("code = %q", env.Error.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/projects", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBatchEndpointAlways200(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/projects/batch", `{"ops":[
		{"opId":"a","op":"create","project":{"name":"one"}},
		{"opId":"b","op":"patch","id":"proj-missing","patch":{"name":"x"}}
	]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Results []struct {
			OpID string `json:"opId"`
			OK   bool   `json:"ok"`
			Code string `json:"code"`
		} `json:"results"`
		AnyChanged bool `json:"anyChanged"`
	}
	decode(t, rec, &out)
	if len(out.Results) != 2 {
		t.Fatalf("results = %d", len(out.Results))
	}
	if !out.Results[0].OK || out.Results[1].OK || out.Results[1].Code != "not_found" {
		t.Fatalf("results = %+v", out.Results)
	}
	if !out.AnyChanged {
		t.Fatalf("anyChanged = false")
	}
}

func TestActionsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/projects", `{"name":"alpha"}`, nil)
	var created ProjectResponse
	decode(t, rec, &created)

	body := `{"agentId":"agent-a","projectId":"` + created.Data.ID + `","actions":[
		{"id":"act-1","type":"set_status","params":{"status":"completed"}}
	]}`
	rec = doJSON(t, h, http.MethodPost, "/api/agent/actions", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var out engine.ActionOutcome
	decode(t, rec, &out)
	if len(out.Results) != 1 || out.Results[0].Status != "ok" || !out.Changed {
		t.Fatalf("outcome = %+v", out)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/agent/actions", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	decode(t, rec, &out)
	if out.Results[0].Status != "exists" || out.Results[0].Message != "action exists" || out.Changed {
		t.Fatalf("replay outcome = %+v", out)
	}
	if out.Results[0].Event == nil || out.Results[0].Project == nil {
		t.Fatalf("replay must carry the stored event and current project: %+v", out.Results[0])
	}
}

func TestListProjectsPriorityFilter(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/projects", `{"name":"alpha","priority":"urgent"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	doJSON(t, h, http.MethodPost, "/api/projects", `{"name":"beta"}`, nil)

	rec = doJSON(t, h, http.MethodGet, "/api/projects?priority=urgent", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body.String())
	}
	var list ProjectListResponse
	decode(t, rec, &list)
	if list.Total != 1 || len(list.Data) != 1 || list.Data[0].Name != "alpha" {
		t.Fatalf("priority filter: total=%d data=%v", list.Total, list.Data)
	}
}

func TestRunAndEventEndpoints(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/agent/runs", `{"id":"run-1","agentId":"agent-a"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create run status = %d: %s", rec.Code, rec.Body.String())
	}
	var run RunResponse
	decode(t, rec, &run)
	if !run.Created || run.Data.Status != "running" {
		t.Fatalf("run = %+v", run)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/agent/runs", `{"id":"run-1"}`, nil)
	decode(t, rec, &run)
	if run.Created {
		t.Fatalf("replay reported created")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/agent/events", `{"id":"evt-1","type":"note","runId":"run-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("append event status = %d: %s", rec.Code, rec.Body.String())
	}
	var ev EventResponse
	decode(t, rec, &ev)
	if !ev.Inserted {
		t.Fatalf("inserted = false")
	}
	rec = doJSON(t, h, http.MethodPost, "/api/agent/events", `{"id":"evt-1","type":"note"}`, nil)
	decode(t, rec, &ev)
	if ev.Inserted {
		t.Fatalf("replay inserted = true")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/agent/events?runId=run-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list events status = %d", rec.Code)
	}
	var list EventListResponse
	decode(t, rec, &list)
	if len(list.Data) != 1 || list.Total != 1 {
		t.Fatalf("events = %d, total = %d", len(list.Data), list.Total)
	}
}

func TestAgentTokenAuth(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{AgentToken: "sekret"})

	rec := doJSON(t, h, http.MethodGet, "/api/projects", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/projects", "", map[string]string{"X-Agent-Token": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/projects", "", map[string]string{"X-Agent-Token": "sekret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("good token status = %d: %s", rec.Code, rec.Body.String())
	}
	// Health stays open.
	rec = doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	h, _ := newTestServer(t, AuthConfig{
		JWTSecret: "test-secret",
		AdminUser: "admin",
		AdminPass: "hunter2",
		TokenTTL:  time.Hour,
	})

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"nope"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"hunter2"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	decode(t, rec, &login)
	if login.Token == "" || login.ExpiresIn != 3600 {
		t.Fatalf("login body = %+v", login)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/auth/me", "", map[string]string{"Authorization": "Bearer " + login.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d: %s", rec.Code, rec.Body.String())
	}
	var me map[string]string
	decode(t, rec, &me)
	if me["subject"] != "admin" || me["role"] != "admin" || me["source"] != "jwt" {
		t.Fatalf("me = %v", me)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/projects", "", map[string]string{"Authorization": "Bearer not-a-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage bearer status = %d", rec.Code)
	}
}
