package messenger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the stage an in-flight send has reached.
type Phase string

const (
	PhaseHandshake Phase = "handshake"
	PhasePayload   Phase = "payload"
)

// Exchange tracks one send awaiting its acknowledgment.
type Exchange struct {
	ID          string    `json:"id"`
	MessageName string    `json:"message_name"`
	Target      string    `json:"target"`
	Phase       Phase     `json:"phase"`
	StartedAt   time.Time `json:"started_at"`
	Deadline    time.Time `json:"deadline,omitzero"`
}

// ExchangeTable stores in-flight exchanges by id.
type ExchangeTable struct {
	mu    sync.RWMutex
	items map[string]Exchange
}

func NewExchangeTable() *ExchangeTable {
	return &ExchangeTable{
		items: make(map[string]Exchange),
	}
}

// Open records a new exchange in the handshake phase.
func (t *ExchangeTable) Open(messageName, target string, startedAt, deadline time.Time) Exchange {
	item := Exchange{
		ID:          uuid.NewString(),
		MessageName: messageName,
		Target:      target,
		Phase:       PhaseHandshake,
		StartedAt:   startedAt,
		Deadline:    deadline,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[item.ID] = item
	return item
}

func (t *ExchangeTable) Advance(id string, phase Phase) (Exchange, bool) {
	key := strings.TrimSpace(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[key]
	if !ok {
		return Exchange{}, false
	}
	item.Phase = phase
	t.items[key] = item
	return item, true
}

func (t *ExchangeTable) Remove(id string) {
	key := strings.TrimSpace(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, key)
}

func (t *ExchangeTable) Get(id string) (Exchange, bool) {
	key := strings.TrimSpace(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[key]
	return item, ok
}

// List returns exchanges oldest first.
func (t *ExchangeTable) List() []Exchange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Exchange, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
