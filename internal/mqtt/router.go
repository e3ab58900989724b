package mqtt

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one inbound message. Handlers run on the transport's
// receive goroutine and must not block.
type Handler func(topic string, payload []byte)

// Router fans inbound messages out to handlers registered under subscription
// patterns. Multiple handlers may share a pattern; dispatch walks exact
// matches first, then wildcard patterns.
type Router struct {
	mu   sync.RWMutex
	subs map[string][]Handler
	log  *zap.Logger
}

// NewRouter returns an empty Router.
func NewRouter(log *zap.Logger) *Router {
	return &Router{
		subs: make(map[string][]Handler),
		log:  log,
	}
}

// Add registers a handler under a subscription pattern and reports whether
// the pattern is new to the router (meaning the transport should subscribe).
func (r *Router) Add(pattern string, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, known := r.subs[pattern]
	r.subs[pattern] = append(existing, h)
	return !known
}

// Remove drops one previously registered handler and reports whether the
// pattern is now empty (meaning the transport should unsubscribe). Handlers
// are identified by function pointer, so the same value passed to Add must
// be passed here.
func (r *Router) Remove(pattern string, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers, ok := r.subs[pattern]
	if !ok {
		return false
	}

	target := reflect.ValueOf(h).Pointer()
	for i, registered := range handlers {
		if reflect.ValueOf(registered).Pointer() == target {
			handlers = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}

	if len(handlers) == 0 {
		delete(r.subs, pattern)
		return true
	}
	r.subs[pattern] = handlers
	return false
}

// Patterns snapshots the registered subscription patterns, used to replay
// subscriptions after a reconnect.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := make([]string, 0, len(r.subs))
	for p := range r.subs {
		patterns = append(patterns, p)
	}
	return patterns
}

// Dispatch delivers a message to every handler whose pattern matches the
// topic. A panicking handler is contained and logged; remaining handlers
// still run.
func (r *Router) Dispatch(topic string, payload []byte) {
	r.mu.RLock()
	var matched []Handler
	if exact, ok := r.subs[topic]; ok {
		matched = append(matched, exact...)
	}
	for pattern, handlers := range r.subs {
		if pattern == topic {
			continue
		}
		if Match(pattern, topic) {
			matched = append(matched, handlers...)
		}
	}
	r.mu.RUnlock()

	for _, h := range matched {
		r.invoke(h, topic, payload)
	}
}

func (r *Router) invoke(h Handler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("message handler panicked",
				zap.String("topic", topic),
				zap.Any("panic", rec))
		}
	}()
	h(topic, payload)
}
