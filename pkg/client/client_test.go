package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pentagent/pentagent/pkg/types"
)

// fakeRelay mimics the relay API surface the client touches.
func fakeRelay(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var authHeaders []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connect", func(w http.ResponseWriter, r *http.Request) {
		var req types.ConnectRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "pt_test" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(types.ConnectResponse{Error: "invalid token"})
			return
		}
		json.NewEncoder(w).Encode(types.ConnectResponse{
			Success:      true,
			UserID:       "tester",
			ConnectionID: "conn-1",
			AccessToken:  "jwt-abc",
		})
	})
	mux.HandleFunc("/api/connections/", func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		switch {
		case strings.HasSuffix(r.URL.Path, "/commands/pending"):
			json.NewEncoder(w).Encode([]types.Command{
				{ID: "cmd-1", ConnectionID: "conn-1", Text: "whoami"},
			})
		case strings.HasSuffix(r.URL.Path, "/heartbeat"):
			json.NewEncoder(w).Encode(map[string]bool{"success": true})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &authHeaders
}

func TestClient_ConnectStoresAccessToken(t *testing.T) {
	srv, authHeaders := fakeRelay(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	resp, err := c.Connect(ctx, types.ConnectRequest{
		Token: "pt_test", Name: "kali-laptop", Mode: types.IsolationContainer,
	})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if resp.ConnectionID != "conn-1" {
		t.Errorf("unexpected connection ID %s", resp.ConnectionID)
	}

	// Every later call must carry the connection-scoped token, never the
	// long-lived connect token.
	if err := c.Heartbeat(ctx, "conn-1"); err != nil {
		t.Fatalf("Heartbeat() error: %v", err)
	}
	cmds, err := c.PendingCommands(ctx, "conn-1")
	if err != nil {
		t.Fatalf("PendingCommands() error: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Text != "whoami" {
		t.Errorf("unexpected commands: %+v", cmds)
	}
	if err := c.MarkExecuting(ctx, "conn-1", "cmd-1"); err != nil {
		t.Fatalf("MarkExecuting() error: %v", err)
	}
	if err := c.SubmitResult(ctx, "conn-1", types.CommandResult{CommandID: "cmd-1", Stdout: "root\n"}); err != nil {
		t.Fatalf("SubmitResult() error: %v", err)
	}

	for i, h := range *authHeaders {
		if h != "Bearer jwt-abc" {
			t.Errorf("request %d carried auth %q, want the access token", i, h)
		}
	}
}

func TestClient_ConnectRejected(t *testing.T) {
	srv, _ := fakeRelay(t)
	c := NewClient(srv.URL)

	_, err := c.Connect(context.Background(), types.ConnectRequest{
		Token: "pt_wrong", Name: "kali-laptop", Mode: types.IsolationHost,
	})
	if err == nil {
		t.Fatal("expected error for rejected connect")
	}
	if !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("expected server error in message, got %v", err)
	}
}
