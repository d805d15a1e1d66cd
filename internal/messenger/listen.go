package messenger

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/pigeon/internal/observability"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/registry"
	"github.com/danmuck/pigeon/internal/transport"
)

// Callback handles the data of one inbound envelope. Its result is carried
// back to the sender in the acknowledgment.
type Callback func(ctx context.Context, data protocol.Data) (protocol.Data, error)

// ListenConfig scopes a listener.
type ListenConfig struct {
	// Domain, when set, is the only inbound origin the listener accepts.
	Domain string
}

func identity(_ context.Context, data protocol.Data) (protocol.Data, error) {
	return data, nil
}

// Pending is the handle returned by a listen: it settles when a one-shot
// listener fires or when Cancel is called, whichever happens first.
// Persistent listeners settle only on Cancel.
type Pending struct {
	m    *Messenger
	name string

	mu    sync.Mutex
	entry uint64

	settleOnce sync.Once
	done       chan struct{}
	result     protocol.Data
	cancelled  bool
}

func newPending(m *Messenger, name string) *Pending {
	return &Pending{
		m:    m,
		name: name,
		done: make(chan struct{}),
	}
}

// Name returns the fully-qualified name the listener is registered under.
func (p *Pending) Name() string {
	return p.name
}

// Done is closed once the pending settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled data. ok is false while unsettled and after a
// cancellation.
func (p *Pending) Result() (data protocol.Data, ok bool) {
	select {
	case <-p.done:
		return p.result, !p.cancelled
	default:
		return nil, false
	}
}

// Cancelled reports whether the pending settled through Cancel.
func (p *Pending) Cancelled() bool {
	select {
	case <-p.done:
		return p.cancelled
	default:
		return false
	}
}

// Wait blocks until the pending settles or ctx ends. A cancelled pending
// yields no data and no error.
func (p *Pending) Wait(ctx context.Context) (protocol.Data, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel unregisters the listener and settles the pending with no value.
// Cancelling a settled pending is a no-op.
func (p *Pending) Cancel() {
	p.m.registry.UnregisterEntry(p.name, p.entryID())
	p.settle(nil, true)
}

func (p *Pending) entryID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entry
}

func (p *Pending) settle(result protocol.Data, cancelled bool) {
	p.settleOnce.Do(func() {
		p.result = result
		p.cancelled = cancelled
		close(p.done)
		p.m.untrack(p)
	})
}

// listen registers a wrapper for prefix.name that runs cb, acknowledges
// non-acknowledgment envelopes, and settles one-shot pendings.
func (m *Messenger) listen(name string, cb Callback, cfg ListenConfig, once bool) *Pending {
	if cb == nil {
		cb = identity
	}
	m.mu.RLock()
	fq := protocol.Qualify(m.prefix, name)
	signal := m.signal
	m.mu.RUnlock()

	p := newPending(m, fq)
	if !m.track(p) {
		p.settle(nil, true)
		return p
	}

	handler := func(ctx context.Context, ev registry.Event) error {
		// The domain check runs before a one-shot entry is consumed, so a
		// message from another origin leaves the listener armed.
		if cfg.Domain != "" && cfg.Domain != ev.Origin {
			m.log.Debug().
				Str("message_name", fq).
				Str("origin", ev.Origin).
				Str("domain", cfg.Domain).
				Msg("origin not allowed")
			return nil
		}
		if once && !m.registry.UnregisterEntry(fq, p.entryID()) {
			return nil
		}

		result, err := cb(ctx, ev.Envelope.Data)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", protocol.ErrCallback, fq, err)
		}

		if !ev.Envelope.IsAcknowledgment(signal) {
			m.acknowledge(ctx, ev, signal, result)
		}
		if once {
			p.settle(result, false)
		}
		return nil
	}

	p.mu.Lock()
	p.entry = m.registry.Register(fq, handler)
	p.mu.Unlock()

	m.log.Debug().
		Str("message_name", fq).
		Bool("once", once).
		Msg("listening")
	return p
}

// acknowledge posts "<inbound name>.<signal>" carrying result back to the
// inbound source.
func (m *Messenger) acknowledge(ctx context.Context, ev registry.Event, signal string, result protocol.Data) {
	name := protocol.AckName(ev.Envelope.MessageName, signal)
	if ev.Source == nil {
		observability.RecordAcknowledgment(m.name, false)
		m.log.Warn().Str("message_name", name).Msg("acknowledgment has no reply target")
		return
	}
	raw, err := protocol.Encode(name, result, "")
	if err == nil {
		targetOrigin := ev.Origin
		if targetOrigin == "" {
			targetOrigin = transport.AnyOrigin
		}
		err = m.transport.Post(ctx, raw, ev.Source, targetOrigin)
	}
	if err != nil {
		observability.RecordAcknowledgment(m.name, false)
		m.log.Error().
			Err(err).
			Str("message_name", name).
			Str("target", ev.Source.Address()).
			Msg("acknowledgment failed")
		return
	}
	observability.RecordAcknowledgment(m.name, true)
	m.log.Debug().
		Str("message_name", name).
		Str("target", ev.Source.Address()).
		Msg("acknowledged")
}
