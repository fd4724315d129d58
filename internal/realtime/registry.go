package realtime

import (
	"sort"
	"sync"
)

// Registry maps topics to their handlers.
//
// The lock is held only for map access. Handlers are looked up and then
// invoked by the caller after the lock is released, so a handler may itself
// subscribe or unsubscribe.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Add registers handler for topic, replacing any previous handler.
func (r *Registry) Add(topic string, handler Handler) {
	r.mu.Lock()
	r.handlers[topic] = handler
	r.mu.Unlock()
}

// Remove drops the handler for topic.
// Returns ErrNotSubscribed if topic was not registered.
func (r *Registry) Remove(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[topic]; !ok {
		return ErrNotSubscribed
	}
	delete(r.handlers, topic)
	return nil
}

// Lookup returns the handler registered for topic.
func (r *Registry) Lookup(topic string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handler, ok := r.handlers[topic]
	return handler, ok
}

// Has reports whether topic has a handler.
func (r *Registry) Has(topic string) bool {
	_, ok := r.Lookup(topic)
	return ok
}

// Snapshot returns the registered topics in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	r.mu.Unlock()

	sort.Strings(topics)
	return topics
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]Handler)
	r.mu.Unlock()
}
