package messenger

import (
	"context"
	"sync"

	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/registry"
)

// handshakeRouter fans handshake replies out to the sends waiting on them.
// One reply listener serves every outstanding handshake; it is registered
// with the first waiter and removed with the last.
type handshakeRouter struct {
	mu      sync.Mutex
	seq     uint64
	waiters map[string]map[uint64]handshakeWaiter
	name    string
	entry   uint64
}

type handshakeWaiter struct {
	peer    string
	replies chan protocol.Data
}

// awaitHandshake registers a waiter for replies naming target from peer.
// The returned func removes it.
func (m *Messenger) awaitHandshake(target, peer, fq string) (<-chan protocol.Data, func()) {
	r := &m.handshakes
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiters == nil {
		r.waiters = make(map[string]map[uint64]handshakeWaiter)
	}
	if r.entry == 0 {
		r.name = fq
		r.entry = m.registry.Register(fq, m.routeHandshake)
	}

	r.seq++
	id := r.seq
	w := handshakeWaiter{peer: peer, replies: make(chan protocol.Data, 1)}
	if r.waiters[target] == nil {
		r.waiters[target] = make(map[uint64]handshakeWaiter)
	}
	r.waiters[target][id] = w

	return w.replies, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.waiters[target], id)
		if len(r.waiters[target]) == 0 {
			delete(r.waiters, target)
		}
		if len(r.waiters) == 0 && r.entry != 0 {
			m.registry.UnregisterEntry(r.name, r.entry)
			r.entry = 0
		}
	}
}

// routeHandshake hands a reply to the sends waiting on the name it answers.
// Waiters whose peer sent the reply take it; when none match the source,
// every waiter on the name does. Replies nobody waits on are answers to
// abandoned sends.
func (m *Messenger) routeHandshake(_ context.Context, ev registry.Event) error {
	name, _ := ev.Envelope.Data["messageName"].(string)
	source := ""
	if ev.Source != nil {
		source = ev.Source.Address()
	}

	r := &m.handshakes
	r.mu.Lock()
	defer r.mu.Unlock()
	waiting := r.waiters[name]
	if len(waiting) == 0 {
		m.log.Debug().
			Str("reply_for", name).
			Str("origin", ev.Origin).
			Msg("stale handshake reply skipped")
		return nil
	}
	matched := false
	for _, w := range waiting {
		if w.peer == source {
			matched = true
			offer(w.replies, ev.Envelope.Data)
		}
	}
	if !matched {
		for _, w := range waiting {
			offer(w.replies, ev.Envelope.Data)
		}
	}
	return nil
}

func offer(ch chan protocol.Data, data protocol.Data) {
	select {
	case ch <- data:
	default:
	}
}

// handshake asks the peer whether it listens for target and returns the
// reply. An unanswered handshake holds up no other send.
func (m *Messenger) handshake(ctx context.Context, prefix, signal, target string, cfg SendConfig) (protocol.Data, error) {
	replies, done := m.awaitHandshake(target, cfg.Target.Address(), protocol.Qualify(prefix, protocol.AckName(protocol.HandshakeName, signal)))
	defer done()

	raw, err := protocol.Encode(
		protocol.Qualify(prefix, protocol.HandshakeName),
		protocol.Data{"messageName": target},
		"",
	)
	if err == nil {
		err = m.transport.Post(ctx, raw, cfg.Target, cfg.TargetOrigin)
	}
	if err != nil {
		return nil, err
	}

	select {
	case data := <-replies:
		return data, nil
	case <-m.baseCtx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, contextError(ctx)
	}
}
