package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// Type names a category of invalidation event.
type Type string

const (
	// TypeWorkspaceChanged fires when files under a watched workspace
	// change; repository and vector context derived from it is stale.
	TypeWorkspaceChanged Type = "workspace_changed"

	// TypeConversationUpdated fires when a conversation gains a turn;
	// cached assemblies for it are stale.
	TypeConversationUpdated Type = "conversation_updated"
)

// Event is one invalidation signal. Namespace selects the cache entries
// affected (a conversation ID or a workspace path).
type Event struct {
	Type      Type      `json:"type"`
	Namespace string    `json:"namespace"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Handler consumes events. Handlers run on the bus goroutine and must not
// block.
type Handler func(ctx context.Context, ev Event)

// Bus publishes and subscribes invalidation events.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(handler Handler) error
	Close() error
}

// memoryBus is the in-process bus used when no NATS URL is configured.
type memoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() Bus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
	return nil
}

func (b *memoryBus) Subscribe(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}

// natsBus fans events out across daemon instances. Subjects are
// <prefix>.<type> so operators can observe a category with a plain
// subscription.
type natsBus struct {
	conn   *nats.Conn
	prefix string
	log    *logging.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBus connects to url. The prefix defaults to "agentd.events".
func NewNATSBus(url, prefix string, log *logging.Logger) (Bus, error) {
	if prefix == "" {
		prefix = "agentd.events"
	}
	if log == nil {
		log = logging.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &natsBus{conn: conn, prefix: prefix, log: log}, nil
}

func (b *natsBus) subject(t Type) string {
	return b.prefix + "." + string(t)
}

func (b *natsBus) Publish(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject(ev.Type), payload)
}

func (b *natsBus) Subscribe(handler Handler) error {
	sub, err := b.conn.Subscribe(b.prefix+".>", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warn(context.Background(), "dropping malformed event",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(context.Background(), ev)
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

func (b *natsBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()
	b.conn.Close()
	return nil
}
