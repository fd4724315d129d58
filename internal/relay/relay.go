package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
	"github.com/nerrad567/streamlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/streamlink/internal/realtime"
	"github.com/nerrad567/streamlink/internal/spool"
)

// Stream is the realtime side of the relay. *realtime.Client satisfies it.
type Stream interface {
	Subscribe(topic string, handler realtime.Handler) bool
	Insert(topic string, data any) bool
}

// Publisher is the MQTT side of the relay. *mqtt.Client satisfies it.
type Publisher interface {
	Topics() mqtt.Topics
	QoS() byte
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Recorder stores datapoints. *influxdb.Client satisfies it.
type Recorder interface {
	WriteDatapoint(topic string, value any, timestamp time.Time) bool
}

// Spooler queues inserts that could not be sent. *spool.Spool satisfies it.
type Spooler interface {
	Deliver(ctx context.Context, ins spool.Inserter, topic string, data any) (bool, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps holds the collaborators of a Relay. Only Stream is required.
type Deps struct {
	Stream    Stream
	Publisher Publisher
	Recorder  Recorder
	Spool     Spooler
	Logger    Logger
}

// Stats counts what the relay has done since it was created.
type Stats struct {
	Events       uint64 `json:"events"`
	Relayed      uint64 `json:"relayed"`
	Recorded     uint64 `json:"recorded"`
	Acknowledged uint64 `json:"acknowledged"`
	Inserted     uint64 `json:"inserted"`
	Spooled      uint64 `json:"spooled"`
}

// Relay applies subscription rules to stream events and feeds inserts from
// MQTT and the local API into the realtime channel.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Relay struct {
	stream    Stream
	publisher Publisher
	recorder  Recorder
	spool     Spooler
	logger    Logger

	rules map[string]config.SubscriptionConfig
	mu    sync.RWMutex

	events, relayed, recorded, acknowledged, inserted, spooled atomic.Uint64
}

var discard Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// New creates a relay.
//
// Returns:
//   - *Relay: Relay ready to Apply rules
//   - error: If the stream is missing
func New(deps Deps) (*Relay, error) {
	if deps.Stream == nil {
		return nil, fmt.Errorf("realtime stream is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = discard
	}
	return &Relay{
		stream:    deps.Stream,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		spool:     deps.Spool,
		logger:    logger,
		rules:     make(map[string]config.SubscriptionConfig),
	}, nil
}

// Apply subscribes every rule, continuing past failures.
//
// Returns:
//   - error: All failed subscriptions joined, or nil
func (r *Relay) Apply(rules []config.SubscriptionConfig) error {
	var errs []error
	for _, rule := range rules {
		if err := r.Subscribe(rule); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe follows rule.Topic with the rule's relay, record and
// acknowledge behaviour. Subscribing a topic again replaces its rule.
func (r *Relay) Subscribe(rule config.SubscriptionConfig) error {
	if !realtime.ValidTopic(rule.Topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, rule.Topic)
	}
	if !r.stream.Subscribe(rule.Topic, r.handler(rule)) {
		return fmt.Errorf("%w: %s", ErrSubscribeFailed, rule.Topic)
	}

	r.mu.Lock()
	r.rules[rule.Topic] = rule
	r.mu.Unlock()

	r.logger.Info("subscribed", "topic", rule.Topic,
		"relay_mqtt", rule.RelayMQTT,
		"record", rule.Record,
		"acknowledge", rule.Acknowledge,
	)
	return nil
}

// Forget drops the rule for topic. The caller unsubscribes the stream.
func (r *Relay) Forget(topic string) {
	r.mu.Lock()
	delete(r.rules, topic)
	r.mu.Unlock()
}

// Rules returns the active rules sorted by topic.
func (r *Relay) Rules() []config.SubscriptionConfig {
	r.mu.RLock()
	rules := make([]config.SubscriptionConfig, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	r.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Topic < rules[j].Topic })
	return rules
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Events:       r.events.Load(),
		Relayed:      r.relayed.Load(),
		Recorded:     r.recorded.Load(),
		Acknowledged: r.acknowledged.Load(),
		Inserted:     r.inserted.Load(),
		Spooled:      r.spooled.Load(),
	}
}

// handler builds the realtime handler for rule.
func (r *Relay) handler(rule config.SubscriptionConfig) realtime.Handler {
	return func(topic string, data json.RawMessage) realtime.Reply {
		r.events.Add(1)
		r.logger.Debug("stream event", "subscription", rule.Topic, "topic", topic)

		if rule.RelayMQTT {
			r.republish(topic, data)
		}
		if rule.Record {
			r.record(topic, data)
		}
		if rule.Acknowledge && realtime.IsDownlink(topic) {
			r.acknowledged.Add(1)
			return realtime.Echo()
		}
		return realtime.NoReply
	}
}

func (r *Relay) republish(topic string, data json.RawMessage) {
	if r.publisher == nil {
		return
	}
	target := r.publisher.Topics().Stream(topic)
	if err := r.publisher.Publish(target, data, r.publisher.QoS(), false); err != nil {
		r.logger.Warn("mqtt republish failed", "topic", target, "error", err)
		return
	}
	r.relayed.Add(1)
}

func (r *Relay) record(topic string, data json.RawMessage) {
	if r.recorder == nil {
		return
	}
	points, err := realtime.DecodeDatapoints(data)
	if err != nil {
		r.logger.Warn("cannot record stream event", "topic", topic, "error", err)
		return
	}
	for _, dp := range points {
		if r.recorder.WriteDatapoint(topic, dp.Data, dp.Time()) {
			r.recorded.Add(1)
		}
	}
}

// Insert sends raw to topic, spooling it when the realtime channel is down.
//
// A JSON array is sent as is; any other JSON value becomes a single
// datapoint stamped now.
//
// Returns:
//   - bool: true if the insert was spooled rather than sent
//   - error: ErrInvalidTopic, ErrInvalidPayload, or ErrInsertFailed
func (r *Relay) Insert(ctx context.Context, topic string, raw json.RawMessage) (bool, error) {
	if !realtime.ValidTopic(topic) || realtime.IsDownlink(topic) {
		return false, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	data, err := insertData(raw)
	if err != nil {
		return false, err
	}

	if r.spool != nil {
		spooled, err := r.spool.Deliver(ctx, r.stream, topic, data)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrInsertFailed, err)
		}
		if spooled {
			r.spooled.Add(1)
		} else {
			r.inserted.Add(1)
		}
		return spooled, nil
	}

	if !r.stream.Insert(topic, data) {
		return false, fmt.Errorf("%w: %s", ErrInsertFailed, topic)
	}
	r.inserted.Add(1)
	return false, nil
}

// insertData validates raw and wraps scalars and objects in a datapoint.
func insertData(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return nil, ErrInvalidPayload
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.RawMessage(trimmed), nil
	}

	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return []realtime.Datapoint{realtime.NewDatapoint(value)}, nil
}

// ListenMQTT inserts every message published under {prefix}/insert/+/+/+.
func (r *Relay) ListenMQTT() error {
	if r.publisher == nil {
		return ErrNoPublisher
	}
	topics := r.publisher.Topics()
	return r.publisher.Subscribe(topics.AllInserts(), r.publisher.QoS(), func(topic string, payload []byte) error {
		stream, ok := topics.InsertTarget(topic)
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
		}
		spooled, err := r.Insert(context.Background(), stream, payload)
		if err != nil {
			return err
		}
		r.logger.Debug("mqtt insert", "stream", stream, "spooled", spooled)
		return nil
	})
}

// StopMQTT stops inserting from MQTT. It is a no-op without a publisher.
func (r *Relay) StopMQTT() error {
	if r.publisher == nil {
		return nil
	}
	return r.publisher.Unsubscribe(r.publisher.Topics().AllInserts())
}

// PublishStats publishes Stats retained on {prefix}/stats.
func (r *Relay) PublishStats() error {
	if r.publisher == nil {
		return ErrNoPublisher
	}
	return r.publisher.PublishJSON(r.publisher.Topics().Stats(), r.Stats(), true)
}

// ReportStats publishes Stats every interval until ctx is done, and once
// more on the way out. A zero interval or missing publisher disables it.
func (r *Relay) ReportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.publisher == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.PublishStats(); err != nil {
				r.logger.Debug("final stats publish failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := r.PublishStats(); err != nil {
				r.logger.Warn("stats publish failed", "error", err)
			}
		}
	}
}
