package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/engine"
	"github.com/flitsinc/go-backlog/internal/eventbus"
	"github.com/flitsinc/go-backlog/internal/render"
	"github.com/flitsinc/go-backlog/internal/state"
	"github.com/flitsinc/go-backlog/internal/testutil"
)

type memWebhook struct {
	mu   sync.Mutex
	next int
	msgs map[string]render.Message
}

func (m *memWebhook) Create(_ context.Context, msg render.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("w%d", m.next)
	m.msgs[id] = msg
	return id, nil
}

func (m *memWebhook) Edit(_ context.Context, id string, msg render.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[id]; !ok {
		return backlog.ErrMessageNotFound
	}
	m.msgs[id] = msg
	return nil
}

type testServer struct {
	client *http.Client
	store  *state.Store
	bus    *eventbus.Bus
}

func newTestServer(t *testing.T, auth *Authenticator, withWebhook bool) *testServer {
	t.Helper()
	store, db := testutil.OpenTestStore(t)
	bus := eventbus.NewBus(db)
	opts := engine.Options{Store: store, Bus: bus}
	if withWebhook {
		opts.Webhook = &memWebhook{msgs: map[string]render.Message{}}
	}
	server := &Server{Engine: engine.New(opts), Store: store, Bus: bus, Auth: auth}
	return &testServer{client: testutil.NewInProcessClient(server.Handler()), store: store, bus: bus}
}

func doJSON(t *testing.T, client *http.Client, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://example.com"+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSONResponse(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := testutil.ReadAll(resp)
	require.NoError(t, err)
	return string(data)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, false)
	resp := doJSON(t, ts.client, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decodeJSONResponse(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestActivityLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil, true)

	resp := doJSON(t, ts.client, "POST", "/api/workspaces/ws1/activities", map[string]any{
		"author_label":       "jane",
		"title":              "Kit not granted",
		"description":        "nothing happens",
		"steps":              "1. link",
		"expected_vs_actual": "Expected: kit",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, readBodyOnFail(t, resp, http.StatusCreated))
	var submitted struct {
		Activity backlog.Activity `json:"activity"`
		Webhook  struct {
			Outcome string `json:"outcome"`
		} `json:"webhook"`
	}
	decodeJSONResponse(t, resp, &submitted)
	assert.Equal(t, "created", submitted.Webhook.Outcome)
	id := submitted.Activity.ID
	require.NotEmpty(t, id)

	resp = doJSON(t, ts.client, "POST", "/api/workspaces/ws1/activities/"+id+"/status", map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var act backlog.Activity
	decodeJSONResponse(t, resp, &act)
	assert.Equal(t, backlog.StatusCompleted, act.Status)

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities?status=completed", nil)
	var list []backlog.Activity
	decodeJSONResponse(t, resp, &list)
	assert.Len(t, list, 1)

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities?status=open", nil)
	decodeJSONResponse(t, resp, &list)
	assert.Empty(t, list)

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/board", nil)
	var board struct {
		Found   bool           `json:"found"`
		Board   backlog.Board  `json:"board"`
		Preview render.Message `json:"preview"`
	}
	decodeJSONResponse(t, resp, &board)
	assert.True(t, board.Found)
	assert.NotEmpty(t, board.Board.WebhookMessageID)
	assert.Contains(t, board.Preview.Embeds[0].Description, "1. Kit not granted")

	resp = doJSON(t, ts.client, "GET", "/api/streams/activities?workspace=ws1", nil)
	var events []eventbus.Event
	decodeJSONResponse(t, resp, &events)
	require.Len(t, events, 2)
	assert.Equal(t, "submitted", events[0].Subject)
	assert.Equal(t, "status_changed", events[1].Subject)
}

func readBodyOnFail(t *testing.T, resp *http.Response, want int) string {
	t.Helper()
	if resp.StatusCode == want {
		return ""
	}
	return readBody(t, resp)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil, false)
	_, err := ts.store.Activities().Upsert(context.Background(), backlog.Activity{ID: "a1", WorkspaceID: "ws1", Title: "t", Status: backlog.StatusOpen})
	require.NoError(t, err)

	resp := doJSON(t, ts.client, "POST", "/api/workspaces/ws1/activities", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no sink configured")
	resp.Body.Close()

	resp = doJSON(t, ts.client, "POST", "/api/workspaces/ws1/activities/a1/status", map[string]any{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "POST", "/api/workspaces/ws1/activities/missing/status", map[string]any{"status": "open"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "POST", "/api/workspaces/ws1/activities/bad.id/status", map[string]any{"status": "open"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "malformed id rejected")
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities/bad.id", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws2/activities/a1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "POST", "/api/workspaces/ws1/activities/a1/status", map[string]any{"state": "open"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields rejected")
	resp.Body.Close()

	resp = doJSON(t, ts.client, "POST", "/api/workspaces/ws1/board/move", map[string]any{"channel_id": "c1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "DELETE", "/api/workspaces/ws1/activities/a1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}

func TestRebuildBoardEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, true)
	_, err := ts.store.Activities().Upsert(context.Background(), backlog.Activity{ID: "a1", WorkspaceID: "ws1", Title: "t", Status: backlog.StatusOpen})
	require.NoError(t, err)

	resp := doJSON(t, ts.client, "POST", "/api/workspaces/ws1/board/rebuild", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Channel struct{ Outcome string } `json:"channel"`
		Webhook struct{ Outcome string } `json:"webhook"`
	}
	decodeJSONResponse(t, resp, &res)
	assert.Equal(t, "disabled", res.Channel.Outcome)
	assert.Equal(t, "created", res.Webhook.Outcome)

	resp = doJSON(t, ts.client, "POST", "/api/workspaces/ws1/board/rebuild", nil)
	decodeJSONResponse(t, resp, &res)
	assert.Equal(t, "edited", res.Webhook.Outcome)
}

func signToken(t *testing.T, secret, workspace string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "svc",
		"workspace_id": workspace,
		"exp":          time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestWorkspaceAuth(t *testing.T) {
	ts := newTestServer(t, NewAuthenticator("s3cret", ""), false)

	resp := doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities", nil, "Authorization", "Bearer "+signToken(t, "wrong", "ws1"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities", nil, "Authorization", "Bearer "+signToken(t, "s3cret", "ws2"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/workspaces/ws1/activities", nil, "Authorization", "Bearer "+signToken(t, "s3cret", "ws1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/streams/board?workspace=ws2", nil, "Authorization", "Bearer "+signToken(t, "s3cret", "ws1"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts.client, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays public")
	resp.Body.Close()
}

func TestNewAuthenticatorDisabled(t *testing.T) {
	assert.Nil(t, NewAuthenticator("", "iss"))
}

func TestDiagnostics(t *testing.T) {
	store, db := testutil.OpenTestStore(t)
	server := &Server{Store: store, Bus: eventbus.NewBus(db), StartedAt: time.Now().Add(-time.Minute), Info: DiagnosticsInfo{Backend: "sqlite", WebhookSink: true}}
	client := testutil.NewInProcessClient(server.Handler())

	resp := doJSON(t, client, "GET", "/api/diagnostics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var diag DiagnosticsResponse
	decodeJSONResponse(t, resp, &diag)
	assert.GreaterOrEqual(t, diag.UptimeSeconds, int64(59))
	assert.Equal(t, "sqlite", diag.Info.Backend)
	assert.False(t, diag.LLMConfigured)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, false)
	resp := doJSON(t, ts.client, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "go_goroutines")
}

func TestRestartEndpoint(t *testing.T) {
	calls := 0
	server := &Server{Restart: func() error { calls++; return nil }, RestartToken: "tok"}
	client := testutil.NewInProcessClient(server.Handler())

	resp := doJSON(t, client, "POST", "/api/admin/restart", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, "POST", "/api/admin/restart", nil, "X-Restart-Token", "tok")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, calls)
}

func TestInheritedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// InheritedListener takes ownership of the descriptor.
	file, err := ln.(*net.TCPListener).File()
	require.NoError(t, err)

	t.Setenv(envInheritFD, "1")
	t.Setenv(envListenFD, strconv.Itoa(int(file.Fd())))

	got, err := InheritedListener()
	require.NoError(t, err)
	require.NotNil(t, got)
	_ = got.Close()
}

func TestInheritedListenerNotSet(t *testing.T) {
	if os.Getenv(envInheritFD) != "" {
		t.Skip("running under an inherited listener")
	}
	got, err := InheritedListener()
	require.NoError(t, err)
	assert.Nil(t, got)
}
