package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/internal/hotkeys"
	"github.com/emberdb/emberdb/internal/metrics"
	"github.com/emberdb/emberdb/internal/protocol"
	"github.com/emberdb/emberdb/internal/server"
	"github.com/emberdb/emberdb/internal/store"
)

type testEnv struct {
	web     *Server
	handler http.Handler
	resp    *server.Server
	store   *store.Store
	hotkeys *hotkeys.Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.New(4)
	m := metrics.New()
	m.RegisterStore(st)
	hk := hotkeys.New(10, 0)
	t.Cleanup(hk.Close)

	srv := server.New("127.0.0.1:0", st, server.WithMetrics(m), server.WithHotKeys(hk))
	t.Cleanup(func() { srv.Close() })

	w := New(":0", Deps{Server: srv, Store: st, Metrics: m, HotKeys: hk})
	return &testEnv{web: w, handler: w.Handler(), resp: srv, store: st, hotkeys: hk}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func execute(t *testing.T, e *testEnv, body string) CommandResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/execute", []byte(body))
	var resp CommandResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestExecute(t *testing.T) {
	e := newTestEnv(t)

	resp := execute(t, e, `{"command":"SET mykey 'hello world'"}`)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "OK", resp.Result)

	resp = execute(t, e, `{"command":"GET","args":["mykey"]}`)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "hello world", resp.Result)

	v, ok := e.store.Get("mykey")
	require.True(t, ok)
	assert.True(t, protocol.Equal(protocol.BulkStringFromString("hello world"), v))
}

func TestExecute_Replies(t *testing.T) {
	e := newTestEnv(t)
	execute(t, e, `{"command":"HSET h f v"}`)
	execute(t, e, `{"command":"SADD s a b"}`)

	tests := []struct {
		command string
		result  interface{}
		reply   string
	}{
		{"GET missing", nil, "(nil)"},
		{"HGETALL h", []interface{}{"f", "v"}, `["f", "v"]`},
		{"HMGET h f x", []interface{}{"v", nil}, `["v", (nil)]`},
		{"SISMEMBER s a", float64(1), "(integer) 1"},
		{"ECHO hi", "hi", `"hi"`},
		{"PING", "OK", "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			body, err := json.Marshal(CommandRequest{Command: tt.command})
			require.NoError(t, err)
			resp := execute(t, e, string(body))
			require.True(t, resp.Success, resp.Error)
			assert.Equal(t, tt.result, resp.Result)
			assert.Equal(t, tt.reply, resp.Reply)
		})
	}
}

func TestExecute_Errors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"empty command", `{"command":"  "}`, http.StatusBadRequest},
		{"wrong arity", `{"command":"GET"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/api/v1/execute", []byte(tt.body))
			assert.Equal(t, tt.code, rr.Code)
			var resp CommandResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}

	rr := e.do(t, http.MethodGet, "/api/v1/execute", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestExecute_BodyTooLarge(t *testing.T) {
	e := newTestEnv(t)

	big := `{"command":"SET k ` + strings.Repeat("x", maxRequestBytes) + `"}`
	rr := e.do(t, http.MethodPost, "/api/v1/execute", []byte(big))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	_, ok := e.store.Get("k")
	assert.False(t, ok)
}

func TestExecute_RecordsMetricsAndHotKeys(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 2; i++ {
		resp := execute(t, e, `{"command":"SET web-key v"}`)
		require.True(t, resp.Success, resp.Error)
	}
	resp := execute(t, e, `{"command":"ECHO hi"}`)
	require.True(t, resp.Success, resp.Error)

	rr := e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `emberdb_commands_total{command="set"} 2`)
	assert.Contains(t, rr.Body.String(), `emberdb_commands_total{command="echo"} 1`)

	assert.Equal(t, []hotkeys.Entry{{Key: "web-key", Count: 2}}, e.hotkeys.Top(0))
}

func TestHealthAndReadinessEndpoints(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/healthz", "/api/v1/healthz"} {
		rr := e.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"ok"`)
	}

	// The RESP listener is not serving yet.
	rr := e.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go e.resp.Serve(context.Background(), ln)
	<-e.resp.Ready()

	for _, path := range []string{"/readyz", "/api/v1/readyz"} {
		rr := e.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"ready":true`)
	}
}

func TestStats(t *testing.T) {
	e := newTestEnv(t)
	e.store.Set("a", protocol.BulkStringFromString("1"))
	e.store.HSet("h", "f", protocol.BulkStringFromString("v"))
	e.store.SAdd("s", "m")

	rr := e.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Shards)
	assert.Equal(t, 1, resp.ScalarKeys)
	assert.Equal(t, 1, resp.HashKeys)
	assert.Equal(t, 1, resp.SetKeys)
	assert.Equal(t, 1, resp.HashFields)
	assert.Equal(t, 1, resp.SetMembers)
	assert.Equal(t, 0, resp.ActiveClients)
	assert.NotEmpty(t, resp.Version)
	assert.Positive(t, resp.CPUs)
}

func TestClients(t *testing.T) {
	e := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go e.resp.Serve(context.Background(), ln)
	<-e.resp.Ready()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, protocol.NewWriter(conn).WriteCommand("SET", "k", "v"))
	_, err = protocol.NewReader(conn, 0).ReadFrame()
	require.NoError(t, err)

	rr := e.do(t, http.MethodGet, "/api/v1/clients", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Clients []server.ClientInfo `json:"clients"`
		Total   int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, int64(1), resp.Clients[0].Commands)
	assert.Equal(t, conn.LocalAddr().String(), resp.Clients[0].Addr)

	rr = e.do(t, http.MethodGet, "/api/v1/hotkeys", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"keys":[{"key":"k","count":1}],"tracked":1}`, rr.Body.String())
}

func TestHotKeys(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		e.hotkeys.Record("hot")
	}
	e.hotkeys.Record("cold")

	rr := e.do(t, http.MethodGet, "/api/v1/hotkeys?limit=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"keys":[{"key":"hot","count":3}],"tracked":2}`, rr.Body.String())

	rr = e.do(t, http.MethodGet, "/api/v1/hotkeys?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodDelete, "/api/v1/hotkeys", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = e.do(t, http.MethodGet, "/api/v1/hotkeys", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"keys":[],"tracked":0}`, rr.Body.String())

	rr = e.do(t, http.MethodPut, "/api/v1/hotkeys", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	disabled := New(":0", Deps{Store: e.store}).Handler()
	rr = httptest.NewRecorder()
	disabled.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/hotkeys", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.store.Set("a", protocol.BulkStringFromString("1"))

	rr := e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "emberdb_store_scalar_keys 1")
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodOptions, "/api/v1/execute", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestStartAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	w := New(ln.Addr().String(), Deps{Store: store.New(1)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("web server did not shut down")
	}
}

func TestParseCommand(t *testing.T) {
	assert.Equal(t, []string{"SET", "k", "a b"}, parseCommand(`SET k "a b"`))
	assert.Equal(t, []string{"GET", "k"}, parseCommand("  GET   k "))
	assert.Nil(t, parseCommand(""))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m 3s", formatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h 0m 1s", formatDuration(time.Hour+time.Second))
	assert.Equal(t, "1d 1h 0m 0s", formatDuration(25*time.Hour))
}
