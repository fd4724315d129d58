package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
	"github.com/nerrad567/streamlink/internal/realtime"
	"github.com/nerrad567/streamlink/internal/relay"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string      `json:"status"`
	Version       string      `json:"version"`
	Realtime      string      `json:"realtime"`
	Subscriptions int         `json:"subscriptions"`
	SpoolDepth    *int        `json:"spool_depth,omitempty"`
	Relay         relay.Stats `json:"relay"`
}

// handleHealth reports the realtime connection state. The status is
// "degraded" while the socket is not open.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.stream.State()
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		Realtime:      state.String(),
		Subscriptions: len(s.stream.Subscriptions()),
		Relay:         s.relay.Stats(),
	}
	if state != realtime.StateOpen {
		resp.Status = "degraded"
	}
	if s.spool != nil {
		if n, err := s.spool.Len(r.Context()); err == nil {
			resp.SpoolDepth = &n
		} else {
			s.logger.Warn("spool depth unavailable", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListSubscriptions returns every active subscription sorted by
// topic, with its relay rule.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	rules := make(map[string]config.SubscriptionConfig)
	for _, rule := range s.relay.Rules() {
		rules[rule.Topic] = rule
	}

	topics := s.stream.Subscriptions()
	subs := make([]config.SubscriptionConfig, 0, len(topics))
	for _, topic := range topics {
		rule, ok := rules[topic]
		if !ok {
			rule = config.SubscriptionConfig{Topic: topic}
		}
		subs = append(subs, rule)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// handleSubscribe subscribes to the topic in the body.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var rule config.SubscriptionConfig
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if rule.Acknowledge && !realtime.IsDownlink(rule.Topic) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "acknowledge requires a downlink topic")
		return
	}

	err := s.relay.Subscribe(rule)
	switch {
	case errors.Is(err, relay.ErrInvalidTopic):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, relay.ErrSubscribeFailed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case err != nil:
		s.logger.Error("subscribe failed", "topic", rule.Topic, "error", err)
		writeInternalError(w, "subscribe failed")
	default:
		writeJSON(w, http.StatusCreated, rule)
	}
}

// handleUnsubscribe removes the subscription named by the path remainder.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	topic := strings.Trim(chi.URLParam(r, "*"), "/")

	err := s.stream.Unsubscribe(topic)
	switch {
	case errors.Is(err, realtime.ErrInvalidTopic):
		writeBadRequest(w, "topic is required")
	case errors.Is(err, realtime.ErrNotSubscribed):
		writeNotFound(w, "not subscribed to "+topic)
	case err != nil:
		s.logger.Error("unsubscribe failed", "topic", topic, "error", err)
		writeInternalError(w, "unsubscribe failed")
	default:
		s.relay.Forget(topic)
		w.WriteHeader(http.StatusNoContent)
	}
}

// InsertResponse is the body of an accepted insert.
type InsertResponse struct {
	Stream  string `json:"stream"`
	Spooled bool   `json:"spooled"`
}

// handleInsert inserts the request body into a stream. The body is a
// datapoint array or a single JSON value.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	topic := realtime.Stream(chi.URLParam(r, "user"), chi.URLParam(r, "device"), chi.URLParam(r, "stream"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}

	spooled, err := s.relay.Insert(r.Context(), topic, body)
	switch {
	case errors.Is(err, relay.ErrInvalidTopic), errors.Is(err, relay.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, relay.ErrInsertFailed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case err != nil:
		s.logger.Error("insert failed", "stream", topic, "error", err)
		writeInternalError(w, "insert failed")
	default:
		writeJSON(w, http.StatusAccepted, InsertResponse{Stream: topic, Spooled: spooled})
	}
}
