package messenger

import (
	"fmt"
	"sync"

	"github.com/danmuck/pigeon/internal/observability"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/registry"
	"github.com/danmuck/pigeon/internal/transport"
)

// dispatchQueues holds one FIFO of handler runs per fully-qualified name.
// A queue exists only while it has a drainer goroutine.
type dispatchQueues struct {
	mu     sync.Mutex
	byName map[string][]func()
}

// dispatch is the single transport subscription. Lookup happens on the
// delivering goroutine; handlers for one name run in arrival order on that
// name's queue, and different names run concurrently.
func (m *Messenger) dispatch(msg transport.Message) {
	env, err := protocol.Decode(msg.Data)
	if err != nil {
		observability.RecordInbound(m.name, observability.InboundMalformed)
		m.log.Warn().
			Err(err).
			Str("origin", msg.Origin).
			Int("bytes", len(msg.Data)).
			Msg("inbound message dropped")
		return
	}

	handler, ok := m.registry.Lookup(env.MessageName)
	if !ok {
		observability.RecordInbound(m.name, observability.InboundDropped)
		m.log.Debug().
			Str("message_name", env.MessageName).
			Str("origin", msg.Origin).
			Msg("no listener registered")
		return
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	m.inflight.Add(1)
	m.mu.RUnlock()

	observability.RecordInbound(m.name, observability.InboundDispatched)
	ev := registry.Event{Envelope: env, Origin: msg.Origin, Source: msg.Source}
	m.enqueue(env.MessageName, func() {
		defer m.inflight.Done()
		if err := m.invoke(handler, ev); err != nil {
			observability.RecordCallbackError(m.name)
			m.log.Error().
				Err(err).
				Str("message_name", env.MessageName).
				Str("origin", msg.Origin).
				Msg("listener failed")
		}
	})
}

// enqueue appends run to name's queue and starts a drainer if none is
// running.
func (m *Messenger) enqueue(name string, run func()) {
	q := &m.queues
	q.mu.Lock()
	if q.byName == nil {
		q.byName = make(map[string][]func())
	}
	runs, draining := q.byName[name]
	q.byName[name] = append(runs, run)
	q.mu.Unlock()
	if !draining {
		go m.drain(name)
	}
}

func (m *Messenger) drain(name string) {
	q := &m.queues
	for {
		q.mu.Lock()
		runs := q.byName[name]
		if len(runs) == 0 {
			delete(q.byName, name)
			q.mu.Unlock()
			return
		}
		run := runs[0]
		runs[0] = nil
		q.byName[name] = runs[1:]
		q.mu.Unlock()
		run()
	}
}

func (m *Messenger) invoke(handler registry.Handler, ev registry.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", protocol.ErrCallback, r)
		}
	}()
	return handler(m.baseCtx, ev)
}
