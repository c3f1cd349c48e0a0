package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/engine"
	"fieldline/internal/migrate"
)

type testServer struct {
	URL    string
	engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("fieldline-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	now, _ := time.Parse(time.RFC3339, "2026-04-01T10:00:00Z")
	e.Now = func() time.Time { return now }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacySubjectHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedAdmin(t *testing.T, srv *testServer, subject string) {
	t.Helper()
	u, err := srv.engine.RegisterUser(context.Background(), engine.RegisterUserOptions{Subject: subject, IsAdmin: true})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if !u.IsAdmin {
		t.Fatalf("expected admin user")
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/campaigns", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected code %q", envelope.Error.Code)
	}
}

func TestDailyQuestionnaireFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedAdmin(t, srv, "coordinator")
	admin := map[string]string{"X-Subject": "coordinator"}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/campaigns", map[string]any{
		"title": "Air quality spring",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create campaign status %d: %s", res.StatusCode, string(body))
	}
	var campaign CampaignResponse
	if err := json.Unmarshal(body, &campaign); err != nil {
		t.Fatalf("unmarshal campaign: %v", err)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/campaigns/"+campaign.ID+"/questionnaires", map[string]any{
		"title":     "Daily reading",
		"condition": "DAILY",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create questionnaire status %d: %s", res.StatusCode, string(body))
	}
	var questionnaire QuestionnaireResponse
	if err := json.Unmarshal(body, &questionnaire); err != nil {
		t.Fatalf("unmarshal questionnaire: %v", err)
	}

	volunteer := map[string]string{"X-Subject": "vol-1"}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"subject": "vol-1", "display_name": "Volunteer One",
	}, volunteer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register user status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/campaigns/"+campaign.ID+"/members", map[string]any{}, volunteer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("join status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/campaigns/"+campaign.ID+"/pending", nil, volunteer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", res.StatusCode, string(body))
	}
	var pending []PendingQuestionnaireResponse
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != questionnaire.ID || pending[0].Reason != "DAILY: no answer today" {
		t.Fatalf("unexpected pending set: %s", string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/questionnaires/"+questionnaire.ID+"/responses", map[string]any{
		"answers_json": `{"pm25":12}`,
	}, volunteer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/questionnaires/"+questionnaire.ID+"/responses", map[string]any{
		"answers_json": `{"pm25":13}`,
	}, volunteer)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("unexpected code %q", envelope.Error.Code)
	}
	if envelope.Error.Message != "This questionnaire can only be answered once per day." {
		t.Fatalf("unexpected message %q", envelope.Error.Message)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/campaigns/"+campaign.ID+"/pending", nil, volunteer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", res.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending set, got %s", string(body))
	}
}

func TestPendingUnknownCampaignEmpty(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	volunteer := map[string]string{"X-Subject": "vol-2"}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{"subject": "vol-2"}, volunteer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/campaigns/ghost/pending", nil, volunteer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", res.StatusCode, string(body))
	}
	var pending []PendingQuestionnaireResponse
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty list, got %s", string(body))
	}
}

func TestCampaignCreationRequiresAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	volunteer := map[string]string{"X-Subject": "vol-3"}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{"subject": "vol-3"}, volunteer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/campaigns", map[string]any{"title": "rogue"}, volunteer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
}
