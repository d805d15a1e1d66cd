package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/transport"
)

// Event is one decoded inbound message handed to a handler.
type Event struct {
	Envelope protocol.Envelope
	Origin   string
	Source   transport.Target
}

// Handler processes one inbound event.
type Handler func(ctx context.Context, ev Event) error

type entry struct {
	id      uint64
	handler Handler
}

// Registry stores handlers by fully-qualified message name.
type Registry struct {
	mu    sync.RWMutex
	seq   uint64
	items map[string]entry
}

func New() *Registry {
	return &Registry{items: make(map[string]entry)}
}

// Register installs handler under name, replacing any prior handler, and
// returns the new entry id.
func (r *Registry) Register(name string, handler Handler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.items[name] = entry{id: r.seq, handler: handler}
	return r.seq
}

// Unregister removes name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, name)
}

// UnregisterEntry removes name only while it still holds entry id.
func (r *Registry) UnregisterEntry(name string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[name]
	if !ok || cur.id != id {
		return false
	}
	delete(r.items, name)
	return true
}

func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.items[name]
	return cur.handler, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
