package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
	"github.com/nerrad567/streamlink/internal/infrastructure/database"
	"github.com/nerrad567/streamlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/streamlink/internal/infrastructure/logging"
	"github.com/nerrad567/streamlink/internal/realtime"
	"github.com/nerrad567/streamlink/internal/relay"
	"github.com/nerrad567/streamlink/internal/spool"
	"github.com/nerrad567/streamlink/migrations"
)

// fakeStream stands in for the realtime client on both the relay and API side.
type fakeStream struct {
	mu      sync.Mutex
	state   realtime.State
	subs    map[string]realtime.Handler
	inserts []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{state: realtime.StateOpen, subs: make(map[string]realtime.Handler)}
}

func (f *fakeStream) setState(state realtime.State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func (f *fakeStream) State() realtime.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStream) Subscribe(topic string, handler realtime.Handler) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != realtime.StateOpen {
		return false
	}
	f.subs[topic] = handler
	return true
}

func (f *fakeStream) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == "" {
		return realtime.ErrInvalidTopic
	}
	if _, ok := f.subs[topic]; !ok {
		return fmt.Errorf("%w: %s", realtime.ErrNotSubscribed, topic)
	}
	delete(f.subs, topic)
	return nil
}

func (f *fakeStream) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	topics := make([]string, 0, len(f.subs))
	for topic := range f.subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (f *fakeStream) Insert(topic string, data any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != realtime.StateOpen {
		return false
	}
	encoded, _ := json.Marshal(data)
	f.inserts = append(f.inserts, topic+" "+string(encoded))
	return true
}

type testEnv struct {
	srv    *Server
	stream *fakeStream
	spool  *spool.Spool
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// newTestEnv creates a Server backed by a fake stream, a real relay and
// a spool in a temp-file SQLite database.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	sp := spool.New(db, 10)

	stream := newFakeStream()
	rl, err := relay.New(relay.Deps{Stream: stream, Spool: sp})
	if err != nil {
		t.Fatalf("relay.New() error = %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:  testLogger(),
		Stream:  stream,
		Relay:   rl,
		Spool:   sp,
		DB:      db,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, stream: stream, spool: sp}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without stream should fail")
	}
	if _, err := New(Deps{Logger: testLogger(), Stream: newFakeStream()}); err == nil {
		t.Error("New() without relay should fail")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" || resp.Realtime != "open" {
		t.Errorf("health = %+v", resp)
	}
	if resp.SpoolDepth == nil || *resp.SpoolDepth != 0 {
		t.Errorf("spool_depth = %v, want 0", resp.SpoolDepth)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t)
	env.stream.setState(realtime.StateConnecting)

	var resp HealthResponse
	decode(t, env.do(t, http.MethodGet, "/api/v1/health", ""), &resp)
	if resp.Status != "degraded" || resp.Realtime != "connecting" {
		t.Errorf("health = %+v, want degraded/connecting", resp)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	var m SystemMetrics
	decode(t, w, &m)
	if m.Runtime.Goroutines == 0 || m.Realtime.State != "open" || m.Database == nil {
		t.Errorf("metrics = %+v", m)
	}
	if m.MQTT != nil || m.InfluxDB != nil {
		t.Error("optional connections should be omitted")
	}
}

type fakeBroker struct{ subs int }

func (f fakeBroker) IsConnected() bool      { return true }
func (f fakeBroker) SubscriptionCount() int { return f.subs }

type fakeRecorder struct{ stats influxdb.Stats }

func (f fakeRecorder) IsConnected() bool     { return false }
func (f fakeRecorder) Stats() influxdb.Stats { return f.stats }

func TestMetrics_OptionalConnections(t *testing.T) {
	env := newTestEnv(t)
	env.srv.mqtt = fakeBroker{subs: 2}
	env.srv.influx = fakeRecorder{stats: influxdb.Stats{Written: 7, Skipped: 1, WriteErrors: 1, LastError: "401"}}

	var m SystemMetrics
	decode(t, env.do(t, http.MethodGet, "/api/v1/metrics", ""), &m)

	if m.MQTT == nil || !m.MQTT.Connected || m.MQTT.Subscriptions != 2 {
		t.Errorf("mqtt metrics = %+v", m.MQTT)
	}
	if m.InfluxDB == nil || m.InfluxDB.Connected || m.InfluxDB.Written != 7 || m.InfluxDB.LastError != "401" {
		t.Errorf("influxdb metrics = %+v", m.InfluxDB)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	handler := env.srv.requestIDMiddleware(env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t)
	big := "[" + strings.Repeat(`{"t":1,"d":1},`, maxRequestBodySize/14+1) + `{"t":1,"d":1}]`

	w := env.do(t, http.MethodPost, "/api/v1/streams/alice/phone/battery/insert", big)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Subscription Tests ────────────────────────────────────────────

func TestSubscribeListUnsubscribe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/subscriptions/", `{"topic":"bob/phone","record":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d body = %s", w.Code, w.Body)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/subscriptions/", `{"topic":"alice"}`); w.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d", w.Code)
	}

	var list struct {
		Subscriptions []config.SubscriptionConfig `json:"subscriptions"`
		Count         int                         `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/subscriptions/", ""), &list)
	if list.Count != 2 || list.Subscriptions[0].Topic != "alice" || list.Subscriptions[1].Topic != "bob/phone" {
		t.Fatalf("subscriptions = %+v", list)
	}
	if !list.Subscriptions[1].Record {
		t.Error("rule for bob/phone lost record flag")
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/subscriptions/bob/phone", ""); w.Code != http.StatusNoContent {
		t.Errorf("unsubscribe status = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/subscriptions/bob/phone", ""); w.Code != http.StatusNotFound {
		t.Errorf("second unsubscribe status = %d, want 404", w.Code)
	}
	if got := env.srv.relay.Rules(); len(got) != 1 || got[0].Topic != "alice" {
		t.Errorf("relay rules = %+v", got)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"empty topic", `{"topic":""}`, http.StatusBadRequest},
		{"too deep", `{"topic":"a/b/c/d/e"}`, http.StatusBadRequest},
		{"acknowledge on stream", `{"topic":"a/b/c","acknowledge":true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/api/v1/subscriptions/", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSubscribe_Offline(t *testing.T) {
	env := newTestEnv(t)
	env.stream.setState(realtime.StateIdle)

	w := env.do(t, http.MethodPost, "/api/v1/subscriptions/", `{"topic":"alice"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var e Error
	decode(t, w, &e)
	if e.Code != ErrCodeUnavailable {
		t.Errorf("code = %q", e.Code)
	}
}

// ─── Insert Tests ──────────────────────────────────────────────────

func TestInsert(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/streams/alice/phone/battery/insert", `[{"t":1,"d":87}]`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("insert status = %d body = %s", w.Code, w.Body)
	}
	var resp InsertResponse
	decode(t, w, &resp)
	if resp.Stream != "alice/phone/battery" || resp.Spooled {
		t.Errorf("insert response = %+v", resp)
	}
	if len(env.stream.inserts) != 1 || env.stream.inserts[0] != `alice/phone/battery [{"t":1,"d":87}]` {
		t.Errorf("inserts = %v", env.stream.inserts)
	}
}

func TestInsert_SpooledWhileOffline(t *testing.T) {
	env := newTestEnv(t)
	env.stream.setState(realtime.StateIdle)

	w := env.do(t, http.MethodPost, "/api/v1/streams/alice/phone/battery/insert", `87`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("insert status = %d", w.Code)
	}
	var resp InsertResponse
	decode(t, w, &resp)
	if !resp.Spooled {
		t.Error("spooled = false while offline")
	}

	var health HealthResponse
	decode(t, env.do(t, http.MethodGet, "/api/v1/health", ""), &health)
	if health.SpoolDepth == nil || *health.SpoolDepth != 1 {
		t.Errorf("spool_depth = %v, want 1", health.SpoolDepth)
	}
}

func TestInsert_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/v1/streams/alice/phone/battery/insert", `{"d":`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)

	// Use a specific port for this test
	port := 19081
	env.srv.cfg.Port = port

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	// Wait for server to be ready
	time.Sleep(100 * time.Millisecond)

	addr := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get(addr); err == nil {
		t.Error("server still responding after Close()")
	}
}
