package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pentagent/pentagent/internal/auth"
	"github.com/pentagent/pentagent/internal/dispatch"
	"github.com/pentagent/pentagent/pkg/types"
)

type fakeConnStore struct {
	mu    sync.Mutex
	conns map[string]types.RemoteConnection
}

func newFakeConnStore() *fakeConnStore {
	return &fakeConnStore{conns: make(map[string]types.RemoteConnection)}
}

func (f *fakeConnStore) CreateConnection(_ context.Context, c types.RemoteConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[c.ID] = c
	return nil
}

func (f *fakeConnStore) GetConnection(_ context.Context, id string) (*types.RemoteConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[id]
	if !ok {
		return nil, fmt.Errorf("connection %s not found", id)
	}
	return &c, nil
}

func (f *fakeConnStore) TouchConnection(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[id]
	if !ok {
		return false, nil
	}
	c.LastHeartbeatAt = time.Now()
	f.conns[id] = c
	return true, nil
}

func (f *fakeConnStore) DeleteConnection(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, id)
	return nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	alive   map[string]bool
	dropped []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{alive: make(map[string]bool)}
}

func (f *fakeRegistry) MarkAlive(_ context.Context, c types.RemoteConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[c.ID] = true
	return nil
}

func (f *fakeRegistry) Drop(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, id)
	f.dropped = append(f.dropped, id)
}

func newTestServer(t *testing.T) (*Server, *fakeConnStore, *fakeRegistry, *dispatch.Dispatcher) {
	t.Helper()
	store := newFakeConnStore()
	registry := newFakeRegistry()
	d := dispatch.NewDispatcher(dispatch.NewMemoryStore(), nil)
	d.ResultInterval = 5 * time.Millisecond

	s := NewServer(Config{
		Store:      store,
		Dispatcher: d,
		Registry:   registry,
		Tokens:     &auth.StaticTokenVerifier{Token: "pt_test", UserID: "tester"},
		JWT:        auth.NewJWTIssuer("test-secret"),
	})
	return s, store, registry, d
}

func doJSON(s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func connectClient(t *testing.T, s *Server) types.ConnectResponse {
	t.Helper()
	rec := doJSON(s, http.MethodPost, "/api/connect", "", types.ConnectRequest{
		Token: "pt_test",
		Name:  "kali-laptop",
		Mode:  types.IsolationContainer,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.ConnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	return resp
}

func TestConnect(t *testing.T) {
	s, store, registry, _ := newTestServer(t)

	resp := connectClient(t, s)
	if !resp.Success || resp.ConnectionID == "" || resp.AccessToken == "" {
		t.Fatalf("unexpected connect response: %+v", resp)
	}
	if resp.UserID != "tester" {
		t.Errorf("expected user tester, got %s", resp.UserID)
	}

	if _, err := store.GetConnection(context.Background(), resp.ConnectionID); err != nil {
		t.Errorf("connection not persisted: %v", err)
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if !registry.alive[resp.ConnectionID] {
		t.Error("connection not marked alive on connect")
	}
}

func TestConnect_BadToken(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/connect", "", types.ConnectRequest{
		Token: "pt_wrong",
		Name:  "kali-laptop",
		Mode:  types.IsolationHost,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestConnect_Validation(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	tests := []struct {
		name string
		req  types.ConnectRequest
	}{
		{"missing token", types.ConnectRequest{Name: "x", Mode: types.IsolationHost}},
		{"missing name", types.ConnectRequest{Token: "pt_test", Mode: types.IsolationHost}},
		{"bad mode", types.ConnectRequest{Token: "pt_test", Name: "x", Mode: "vm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(s, http.MethodPost, "/api/connect", "", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHeartbeat(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	resp := connectClient(t, s)

	rec := doJSON(s, http.MethodPost,
		"/api/connections/"+resp.ConnectionID+"/heartbeat", resp.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHeartbeat_RequiresMatchingToken(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	first := connectClient(t, s)
	second := connectClient(t, s)

	// No token at all.
	rec := doJSON(s, http.MethodPost,
		"/api/connections/"+first.ConnectionID+"/heartbeat", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	// A valid token for a different connection.
	rec = doJSON(s, http.MethodPost,
		"/api/connections/"+first.ConnectionID+"/heartbeat", second.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 with foreign token, got %d", rec.Code)
	}
}

func TestHeartbeat_UnknownConnection(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	resp := connectClient(t, s)

	// Connection swept away between heartbeats.
	store.DeleteConnection(context.Background(), resp.ConnectionID)

	rec := doJSON(s, http.MethodPost,
		"/api/connections/"+resp.ConnectionID+"/heartbeat", resp.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDisconnect(t *testing.T) {
	s, store, registry, _ := newTestServer(t)
	resp := connectClient(t, s)

	rec := doJSON(s, http.MethodPost,
		"/api/connections/"+resp.ConnectionID+"/disconnect", resp.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	if _, err := store.GetConnection(context.Background(), resp.ConnectionID); err == nil {
		t.Error("connection should be deleted")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if len(registry.dropped) != 1 || registry.dropped[0] != resp.ConnectionID {
		t.Errorf("liveness key not dropped: %v", registry.dropped)
	}
}

func TestCommandPollingFlow(t *testing.T) {
	s, _, _, d := newTestServer(t)
	resp := connectClient(t, s)
	ctx := context.Background()

	cmd, err := d.Enqueue(ctx, resp.ConnectionID, "echo hi", "", nil, 5000)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	// Poll.
	rec := doJSON(s, http.MethodGet,
		"/api/connections/"+resp.ConnectionID+"/commands/pending", resp.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending returned %d: %s", rec.Code, rec.Body.String())
	}
	var pending []types.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != cmd.ID || pending[0].Text != "echo hi" {
		t.Fatalf("unexpected pending commands: %+v", pending)
	}

	// Claim, twice (the second claim must be harmless).
	for i := 0; i < 2; i++ {
		rec = doJSON(s, http.MethodPost,
			"/api/connections/"+resp.ConnectionID+"/commands/"+cmd.ID+"/executing",
			resp.AccessToken, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("executing returned %d: %s", rec.Code, rec.Body.String())
		}
	}

	// Claimed commands disappear from the pending poll.
	rec = doJSON(s, http.MethodGet,
		"/api/connections/"+resp.ConnectionID+"/commands/pending", resp.AccessToken, nil)
	pending = pending[:0]
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending list, got %+v", pending)
	}

	// Submit the result.
	rec = doJSON(s, http.MethodPost,
		"/api/connections/"+resp.ConnectionID+"/commands/"+cmd.ID+"/result",
		resp.AccessToken, types.CommandResult{Stdout: "hi\n", ExitCode: 0})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("result returned %d: %s", rec.Code, rec.Body.String())
	}

	result, err := d.WaitForResult(ctx, cmd)
	if err != nil {
		t.Fatalf("WaitForResult() error: %v", err)
	}
	if result.Stdout != "hi\n" || result.CommandID != cmd.ID {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestCommandEndpointsRejectForeignConnection(t *testing.T) {
	s, _, _, d := newTestServer(t)
	victim := connectClient(t, s)
	intruder := connectClient(t, s)
	ctx := context.Background()

	cmd, err := d.Enqueue(ctx, victim.ConnectionID, "cat /root/loot.txt", "", nil, 5000)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	// A second authenticated client that learned the command UUID uses its
	// own valid token, on its own connection path, to touch the victim's
	// command. Both the claim and the result write must be refused.
	rec := doJSON(s, http.MethodPost,
		"/api/connections/"+intruder.ConnectionID+"/commands/"+cmd.ID+"/executing",
		intruder.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign claim returned %d, expected 403: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(s, http.MethodPost,
		"/api/connections/"+intruder.ConnectionID+"/commands/"+cmd.ID+"/result",
		intruder.AccessToken, types.CommandResult{Stdout: "forged", ExitCode: 0})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign result returned %d, expected 403: %s", rec.Code, rec.Body.String())
	}

	// The victim's command is untouched and its owner can still claim and
	// resolve it.
	pending, err := d.PendingCommands(ctx, victim.ConnectionID)
	if err != nil {
		t.Fatalf("PendingCommands() error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != cmd.ID {
		t.Fatalf("victim's command no longer pending: %+v", pending)
	}

	rec = doJSON(s, http.MethodPost,
		"/api/connections/"+victim.ConnectionID+"/commands/"+cmd.ID+"/result",
		victim.AccessToken, types.CommandResult{Stdout: "real\n", ExitCode: 0})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("owner result returned %d: %s", rec.Code, rec.Body.String())
	}
	result, err := d.WaitForResult(ctx, cmd)
	if err != nil {
		t.Fatalf("WaitForResult() error: %v", err)
	}
	if result.Stdout != "real\n" {
		t.Errorf("expected owner's result to be stored, got %q", result.Stdout)
	}
}

func TestCommandEndpointsUnknownCommand(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	resp := connectClient(t, s)

	rec := doJSON(s, http.MethodPost,
		"/api/connections/"+resp.ConnectionID+"/commands/no-such-command/executing",
		resp.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown command claim returned %d, expected 404", rec.Code)
	}
}

func TestPendingCommandsEmptyArray(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	resp := connectClient(t, s)

	rec := doJSON(s, http.MethodGet,
		"/api/connections/"+resp.ConnectionID+"/commands/pending", resp.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending returned %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" && body != "[]" {
		t.Errorf("expected JSON array, got %q", body)
	}
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
