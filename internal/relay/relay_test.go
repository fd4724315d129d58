package relay

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
	"github.com/nerrad567/streamlink/internal/infrastructure/database"
	"github.com/nerrad567/streamlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/streamlink/internal/realtime"
	"github.com/nerrad567/streamlink/internal/spool"
	"github.com/nerrad567/streamlink/migrations"
)

// fakeStream stands in for the realtime client.
type fakeStream struct {
	mu       sync.Mutex
	online   bool
	handlers map[string]realtime.Handler
	inserts  []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{online: true, handlers: make(map[string]realtime.Handler)}
}

func (f *fakeStream) Subscribe(topic string, handler realtime.Handler) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return false
	}
	f.handlers[topic] = handler
	return true
}

func (f *fakeStream) Insert(topic string, data any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return false
	}
	encoded, _ := json.Marshal(data)
	f.inserts = append(f.inserts, topic+" "+string(encoded))
	return true
}

func (f *fakeStream) setOnline(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
}

// deliver invokes the handler registered for key as the client would.
func (f *fakeStream) deliver(t *testing.T, key, topic, data string) realtime.Reply {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.handlers[key]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %q", key)
	}
	return handler(topic, json.RawMessage(data))
}

func (f *fakeStream) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inserts...)
}

// fakePublisher stands in for the MQTT client.
type fakePublisher struct {
	mu        sync.Mutex
	published []string
	retained  map[string][]byte
	handler   mqtt.MessageHandler
	pattern   string
	fail      error
}

func (f *fakePublisher) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "lab"} }
func (f *fakePublisher) QoS() byte           { return 1 }

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.published = append(f.published, topic+" "+string(payload))
	return nil
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if retained {
		if f.retained == nil {
			f.retained = make(map[string][]byte)
		}
		f.retained[topic] = payload
	}
	return nil
}

func (f *fakePublisher) lastRetained(topic string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retained[topic]
}

func (f *fakePublisher) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic != f.pattern {
		return errors.New("not subscribed: " + topic)
	}
	f.pattern = ""
	f.handler = nil
	return nil
}

func (f *fakePublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pattern = topic
	f.handler = handler
	return nil
}

// fakeRecorder stands in for the InfluxDB client.
type fakeRecorder struct {
	mu     sync.Mutex
	points []string
}

func (f *fakeRecorder) WriteDatapoint(topic string, value any, ts time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := value.(float64); !ok {
		return false
	}
	encoded, _ := json.Marshal(value)
	f.points = append(f.points, topic+"="+string(encoded)+"@"+ts.UTC().Format(time.RFC3339))
	return true
}

func newTestRelay(t *testing.T, deps Deps) *Relay {
	t.Helper()
	r, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestNewRequiresStream(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without stream should fail")
	}
}

func TestApplySubscribesRules(t *testing.T) {
	stream := newFakeStream()
	r := newTestRelay(t, Deps{Stream: stream})

	err := r.Apply([]config.SubscriptionConfig{
		{Topic: "bob/phone"},
		{Topic: "alice"},
		{Topic: "a//b"},
	})
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Apply() error = %v, want ErrInvalidTopic", err)
	}

	rules := r.Rules()
	if len(rules) != 2 || rules[0].Topic != "alice" || rules[1].Topic != "bob/phone" {
		t.Errorf("Rules() = %+v, want alice and bob/phone", rules)
	}

	r.Forget("alice")
	if got := r.Rules(); len(got) != 1 {
		t.Errorf("Rules() after Forget = %+v", got)
	}
}

func TestSubscribeOffline(t *testing.T) {
	stream := newFakeStream()
	stream.setOnline(false)
	r := newTestRelay(t, Deps{Stream: stream})

	if err := r.Subscribe(config.SubscriptionConfig{Topic: "alice"}); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if len(r.Rules()) != 0 {
		t.Error("failed subscription should not be kept")
	}
}

func TestRelayToMQTT(t *testing.T) {
	stream := newFakeStream()
	pub := &fakePublisher{}
	r := newTestRelay(t, Deps{Stream: stream, Publisher: pub})

	if err := r.Subscribe(config.SubscriptionConfig{Topic: "alice", RelayMQTT: true}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	reply := stream.deliver(t, "alice", "alice/phone/battery", `[{"t":1,"d":87}]`)

	if reply != realtime.NoReply {
		t.Error("stream event should not reply")
	}
	if len(pub.published) != 1 || pub.published[0] != `lab/stream/alice/phone/battery [{"t":1,"d":87}]` {
		t.Errorf("published = %v", pub.published)
	}
	if s := r.Stats(); s.Events != 1 || s.Relayed != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestRelayPublishFailureCounted(t *testing.T) {
	stream := newFakeStream()
	pub := &fakePublisher{fail: mqtt.ErrNotConnected}
	r := newTestRelay(t, Deps{Stream: stream, Publisher: pub})

	if err := r.Subscribe(config.SubscriptionConfig{Topic: "alice", RelayMQTT: true}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	stream.deliver(t, "alice", "alice/phone/battery", `[]`)

	if s := r.Stats(); s.Events != 1 || s.Relayed != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestRecord(t *testing.T) {
	stream := newFakeStream()
	rec := &fakeRecorder{}
	r := newTestRelay(t, Deps{Stream: stream, Recorder: rec})

	if err := r.Subscribe(config.SubscriptionConfig{Topic: "alice/phone/battery", Record: true}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	stream.deliver(t, "alice/phone/battery", "alice/phone/battery",
		`[{"t":1700000000,"d":87},{"t":1700000060,"d":"text"},{"t":1700000120,"d":86}]`)
	stream.deliver(t, "alice/phone/battery", "alice/phone/battery", `not json`)

	want := []string{
		"alice/phone/battery=87@2023-11-14T22:13:20Z",
		"alice/phone/battery=86@2023-11-14T22:15:20Z",
	}
	if len(rec.points) != len(want) {
		t.Fatalf("points = %v, want %v", rec.points, want)
	}
	for i := range want {
		if rec.points[i] != want[i] {
			t.Errorf("points[%d] = %q, want %q", i, rec.points[i], want[i])
		}
	}
	if s := r.Stats(); s.Recorded != 2 {
		t.Errorf("Recorded = %d, want 2", s.Recorded)
	}
}

func TestAcknowledgeDownlink(t *testing.T) {
	stream := newFakeStream()
	r := newTestRelay(t, Deps{Stream: stream})

	rule := config.SubscriptionConfig{Topic: "alice/lamp/power/downlink", Acknowledge: true}
	if err := r.Subscribe(rule); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := r.Subscribe(config.SubscriptionConfig{Topic: "alice/lamp/level/downlink"}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if reply := stream.deliver(t, rule.Topic, rule.Topic, `[{"t":1,"d":true}]`); reply != realtime.Echo() {
		t.Errorf("acknowledged downlink reply = %+v, want Echo", reply)
	}
	if reply := stream.deliver(t, "alice/lamp/level/downlink", "alice/lamp/level/downlink", `[]`); reply != realtime.NoReply {
		t.Errorf("unacknowledged downlink reply = %+v, want NoReply", reply)
	}
	if s := r.Stats(); s.Acknowledged != 1 {
		t.Errorf("Acknowledged = %d, want 1", s.Acknowledged)
	}
}

func TestInsertData(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, data any)
	}{
		{
			name: "array passed through",
			raw:  ` [{"t":1,"d":87}] `,
			check: func(t *testing.T, data any) {
				raw, ok := data.(json.RawMessage)
				if !ok || string(raw) != `[{"t":1,"d":87}]` {
					t.Errorf("data = %#v", data)
				}
			},
		},
		{
			name: "scalar wrapped",
			raw:  `87`,
			check: func(t *testing.T, data any) {
				points, ok := data.([]realtime.Datapoint)
				if !ok || len(points) != 1 || points[0].Data != 87.0 || points[0].Timestamp == 0 {
					t.Errorf("data = %#v", data)
				}
			},
		},
		{
			name: "object wrapped",
			raw:  `{"lat":51.5}`,
			check: func(t *testing.T, data any) {
				points, ok := data.([]realtime.Datapoint)
				if !ok || len(points) != 1 {
					t.Fatalf("data = %#v", data)
				}
				if m, ok := points[0].Data.(map[string]any); !ok || m["lat"] != 51.5 {
					t.Errorf("datapoint data = %#v", points[0].Data)
				}
			},
		},
		{name: "invalid", raw: `{"lat":`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := insertData(json.RawMessage(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Errorf("insertData() error = %v, want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("insertData() error = %v", err)
			}
			tt.check(t, data)
		})
	}
}

func TestInsertWithoutSpool(t *testing.T) {
	stream := newFakeStream()
	r := newTestRelay(t, Deps{Stream: stream})
	ctx := context.Background()

	spooled, err := r.Insert(ctx, "alice/phone/battery", json.RawMessage(`[{"t":1,"d":87}]`))
	if err != nil || spooled {
		t.Fatalf("Insert() = (%v, %v), want (false, nil)", spooled, err)
	}
	if got := stream.sent(); len(got) != 1 || got[0] != `alice/phone/battery [{"t":1,"d":87}]` {
		t.Errorf("sent = %v", got)
	}

	if _, err := r.Insert(ctx, "alice/phone/battery/downlink", json.RawMessage(`1`)); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("downlink insert error = %v, want ErrInvalidTopic", err)
	}
	if _, err := r.Insert(ctx, "", json.RawMessage(`1`)); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}

	stream.setOnline(false)
	if _, err := r.Insert(ctx, "alice/phone/battery", json.RawMessage(`1`)); !errors.Is(err, ErrInsertFailed) {
		t.Errorf("offline insert error = %v, want ErrInsertFailed", err)
	}
}

func newTestSpool(t *testing.T) *spool.Spool {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "relay.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return spool.New(db, 10)
}

func TestInsertSpoolsWhileOffline(t *testing.T) {
	ctx := context.Background()
	stream := newFakeStream()
	sp := newTestSpool(t)
	r := newTestRelay(t, Deps{Stream: stream, Spool: sp})

	stream.setOnline(false)
	spooled, err := r.Insert(ctx, "alice/phone/battery", json.RawMessage(`[{"t":1,"d":87}]`))
	if err != nil || !spooled {
		t.Fatalf("Insert() = (%v, %v), want (true, nil)", spooled, err)
	}
	if n, _ := sp.Len(ctx); n != 1 {
		t.Errorf("spool length = %d, want 1", n)
	}

	stream.setOnline(true)
	if n, err := sp.Flush(ctx, stream); err != nil || n != 1 {
		t.Fatalf("Flush() = (%d, %v), want (1, nil)", n, err)
	}
	if got := stream.sent(); len(got) != 1 || got[0] != `alice/phone/battery [{"t":1,"d":87}]` {
		t.Errorf("sent = %v", got)
	}
	if s := r.Stats(); s.Spooled != 1 || s.Inserted != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestListenMQTT(t *testing.T) {
	stream := newFakeStream()
	pub := &fakePublisher{}
	r := newTestRelay(t, Deps{Stream: stream, Publisher: pub})

	if err := r.ListenMQTT(); err != nil {
		t.Fatalf("ListenMQTT() error = %v", err)
	}
	if pub.pattern != "lab/insert/+/+/+" {
		t.Errorf("subscribed to %q", pub.pattern)
	}

	if err := pub.handler("lab/insert/alice/phone/battery", []byte(`[{"t":1,"d":87}]`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := pub.handler("lab/insert/alice/phone", []byte(`1`)); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("short topic error = %v, want ErrInvalidTopic", err)
	}
	if err := pub.handler("lab/insert/alice/phone/battery", []byte(`{`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("bad payload error = %v, want ErrInvalidPayload", err)
	}

	if got := stream.sent(); len(got) != 1 || got[0] != `alice/phone/battery [{"t":1,"d":87}]` {
		t.Errorf("sent = %v", got)
	}
}

func TestListenMQTTWithoutPublisher(t *testing.T) {
	r := newTestRelay(t, Deps{Stream: newFakeStream()})
	if err := r.ListenMQTT(); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("ListenMQTT() error = %v, want ErrNoPublisher", err)
	}
}

func TestStopMQTT(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestRelay(t, Deps{Stream: newFakeStream(), Publisher: pub})

	if err := r.ListenMQTT(); err != nil {
		t.Fatalf("ListenMQTT() error = %v", err)
	}
	if err := r.StopMQTT(); err != nil {
		t.Fatalf("StopMQTT() error = %v", err)
	}
	if pub.pattern != "" {
		t.Errorf("still subscribed to %q", pub.pattern)
	}

	noMQTT := newTestRelay(t, Deps{Stream: newFakeStream()})
	if err := noMQTT.StopMQTT(); err != nil {
		t.Errorf("StopMQTT() without publisher = %v", err)
	}
}

func TestPublishStats(t *testing.T) {
	stream := newFakeStream()
	pub := &fakePublisher{}
	r := newTestRelay(t, Deps{Stream: stream, Publisher: pub})

	if _, err := r.Insert(context.Background(), "alice/phone/battery", json.RawMessage(`87`)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := r.PublishStats(); err != nil {
		t.Fatalf("PublishStats() error = %v", err)
	}

	var got Stats
	if err := json.Unmarshal(pub.lastRetained("lab/stats"), &got); err != nil {
		t.Fatalf("retained stats: %v", err)
	}
	if got.Inserted != 1 {
		t.Errorf("published Stats = %+v, want 1 inserted", got)
	}

	noMQTT := newTestRelay(t, Deps{Stream: stream})
	if err := noMQTT.PublishStats(); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("PublishStats() without publisher = %v, want ErrNoPublisher", err)
	}
}

func TestReportStatsPublishesOnExit(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestRelay(t, Deps{Stream: newFakeStream(), Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.ReportStats(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ReportStats did not return after cancel")
	}
	if pub.lastRetained("lab/stats") == nil {
		t.Error("no stats published on exit")
	}
}
