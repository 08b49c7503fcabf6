package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"gatherline/internal/config"
	"gatherline/internal/db"
	"gatherline/internal/engine"
	"gatherline/internal/migrate"
)

type testServer struct {
	URL    string
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
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("evt-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var hostHeaders = map[string]string{"X-Actor-Id": "host-1"}

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

func createTestEvent(t *testing.T, srv *testServer) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"id":          "evt-1",
		"title":       "Summer picnic",
		"guest_count": 20,
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create event status %d: %s", res.StatusCode, string(data))
	}
	var created EventResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return created.ID
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should skip auth, got %d", res.StatusCode)
	}
}

func TestEventLifecycleFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	eventID := createTestEvent(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/teams", map[string]any{
		"name": "Food",
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create team status %d: %s", res.StatusCode, string(data))
	}
	var team TeamResponse
	if err := json.Unmarshal(data, &team); err != nil {
		t.Fatalf("unmarshal team: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/teams/"+team.ID+"/items", map[string]any{
		"name":     "Salad",
		"quantity": 4,
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", res.StatusCode, string(data))
	}
	var item ItemResponse
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/transition", map[string]any{
		"status": "CONFIRMING",
	}, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to confirming status %d: %s", res.StatusCode, string(data))
	}

	// freeze must fail with the gate envelope while the item is unassigned
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/transition", map[string]any{
		"status": "FROZEN",
	}, hostHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "freeze_not_ready" {
		t.Fatalf("expected freeze_not_ready, got %s", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/people", map[string]any{
		"person_id": "p-1", "role": "PARTICIPANT",
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add person status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/items/"+item.ID+"/assign", map[string]any{
		"person_id": "p-1",
	}, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/items/"+item.ID+"/respond", map[string]any{
		"response": "ACCEPTED",
	}, map[string]string{"X-Actor-Id": "p-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/"+eventID+"/readiness", nil, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readiness status %d: %s", res.StatusCode, string(data))
	}
	var ready ReadinessResponse
	if err := json.Unmarshal(data, &ready); err != nil {
		t.Fatalf("unmarshal readiness: %v", err)
	}
	if !ready.Ready {
		t.Fatalf("expected ready, got %+v", ready)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/transition", map[string]any{
		"status": "FROZEN",
	}, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("freeze status %d: %s", res.StatusCode, string(data))
	}

	// mutations are refused with the lock envelope once frozen
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/teams/"+team.ID+"/items", map[string]any{
		"name": "Bread",
	}, hostHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "event_locked" {
		t.Fatalf("expected event_locked, got %s", envelope.Error.Code)
	}
}

func TestAcknowledgeFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	eventID := createTestEvent(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/conflicts", map[string]any{
		"type":     "quantity.shortfall",
		"severity": "CRITICAL",
		"summary":  "4 salads for 20 guests",
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record conflict status %d: %s", res.StatusCode, string(data))
	}
	var conflict ConflictResponse
	if err := json.Unmarshal(data, &conflict); err != nil {
		t.Fatalf("unmarshal conflict: %v", err)
	}

	// short statement is rejected with the rule in details
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/conflicts/"+conflict.ID+"/acknowledge", map[string]any{
		"impact_statement": "too short",
		"understood":       true,
		"mitigation_type":  "ALTERNATIVE_SOURCE",
		"visibility":       "HOSTS",
	}, hostHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/conflicts/"+conflict.ID+"/acknowledge", map[string]any{
		"impact_statement": "Guests with allergies are exposed; we will purchase a certified substitute",
		"understood":       true,
		"mitigation_type":  "ALTERNATIVE_SOURCE",
		"visibility":       "HOSTS",
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("acknowledge status %d: %s", res.StatusCode, string(data))
	}
	var ack AcknowledgementResponse
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != "ACTIVE" {
		t.Fatalf("expected ACTIVE ack, got %s", ack.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/"+eventID+"/conflicts/"+conflict.ID, nil, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get conflict status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &conflict); err != nil {
		t.Fatalf("unmarshal conflict: %v", err)
	}
	if conflict.Status != "ACKNOWLEDGED" {
		t.Fatalf("expected ACKNOWLEDGED, got %s", conflict.Status)
	}
}

func TestRoleEnforcement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	eventID := createTestEvent(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/people", map[string]any{
		"person_id": "p-1", "role": "PARTICIPANT",
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add person status %d: %s", res.StatusCode, string(data))
	}
	// a participant cannot transition the event
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+eventID+"/transition", map[string]any{
		"status": "CONFIRMING",
	}, map[string]string{"X-Actor-Id": "p-1"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}
