package notif

import (
	"context"
	"fmt"
	"sync"

	"github.com/notif-sh/notif-go/protocol"
)

// TopicMux routes events to handlers by topic pattern. Routes are tried in
// registration order and the first match wins.
type TopicMux struct {
	mu       sync.RWMutex
	routes   []route
	notFound Handler
}

type route struct {
	pattern string
	h       Handler
}

func NewTopicMux() *TopicMux {
	return &TopicMux{}
}

func (m *TopicMux) Handle(pattern string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if err := protocol.ValidatePattern(pattern); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{pattern: pattern, h: h})
	return nil
}

// NotFound sets the handler for events no route matches. Without one such
// events are acknowledged and dropped.
func (m *TopicMux) NotFound(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notFound = h
}

// Patterns returns the registered patterns, suitable as subscription topics.
func (m *TopicMux) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r.pattern)
	}
	return out
}

// Serve is a Handler.
func (m *TopicMux) Serve(ctx context.Context, e *Event) error {
	m.mu.RLock()
	h := m.notFound
	for _, r := range m.routes {
		if protocol.Match(r.pattern, e.Topic) {
			h = r.h
			break
		}
	}
	m.mu.RUnlock()

	if h == nil {
		return nil
	}
	return h(ctx, e)
}
