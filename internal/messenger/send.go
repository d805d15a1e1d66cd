package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/pigeon/internal/observability"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/transport"
)

// SendConfig addresses one send.
type SendConfig struct {
	// Target is the remote context that receives the handshake and payload.
	Target transport.Target
	// TargetOrigin filters delivery by the target's origin. Empty means
	// transport.AnyOrigin.
	TargetOrigin string
	// Domain restricts which origin may acknowledge the payload.
	Domain string
	// Timeout bounds the whole send, handshake included. Zero disables it.
	Timeout time.Duration
}

// Send asks the target whether it listens for prefix.messageName, then posts
// data and returns the data carried by the target's acknowledgment.
func (m *Messenger) Send(ctx context.Context, messageName string, cfg SendConfig, data protocol.Data) (protocol.Data, error) {
	if strings.TrimSpace(messageName) == "" {
		return nil, protocol.ErrMissingMessageName
	}
	prefix, signal, err := m.state()
	if err != nil {
		return nil, err
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("%w: send %s has no target", transport.ErrUnknownTarget, messageName)
	}
	if strings.TrimSpace(cfg.TargetOrigin) == "" {
		cfg.TargetOrigin = transport.AnyOrigin
	}

	start := time.Now()
	var deadline time.Time
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.Timeout, protocol.ErrTimeout)
		defer cancel()
		deadline = start.Add(cfg.Timeout)
	}

	target := protocol.Qualify(prefix, messageName)
	ex := m.exchanges.Open(target, cfg.Target.Address(), start, deadline)
	defer m.exchanges.Remove(ex.ID)

	m.log.Debug().
		Str("message_name", target).
		Str("exchange", ex.ID).
		Str("target", cfg.Target.Address()).
		Dur("timeout", cfg.Timeout).
		Msg("send started")

	result, err := m.exchange(ctx, ex.ID, prefix, signal, messageName, cfg, data)
	outcome := sendOutcome(err)
	observability.RecordSend(m.name, outcome, time.Since(start))
	if err != nil {
		m.log.Debug().
			Err(err).
			Str("message_name", target).
			Str("exchange", ex.ID).
			Str("outcome", outcome).
			Msg("send failed")
		return nil, err
	}
	m.log.Debug().
		Str("message_name", target).
		Str("exchange", ex.ID).
		Dur("elapsed", time.Since(start)).
		Msg("send acknowledged")
	return result, nil
}

func (m *Messenger) exchange(ctx context.Context, id, prefix, signal, messageName string, cfg SendConfig, data protocol.Data) (protocol.Data, error) {
	target := protocol.Qualify(prefix, messageName)

	reply, err := m.handshake(ctx, prefix, signal, target, cfg)
	if err != nil {
		return nil, err
	}
	if registered, _ := reply["registered"].(bool); !registered {
		return nil, fmt.Errorf("%w: no listener registered for %s", protocol.ErrHandshakeFailure, target)
	}

	m.exchanges.Advance(id, PhasePayload)
	ack := m.listen(protocol.AckName(messageName, signal), identity, ListenConfig{Domain: cfg.Domain}, true)
	raw, err := protocol.Encode(target, data, "")
	if err == nil {
		err = m.transport.Post(ctx, raw, cfg.Target, cfg.TargetOrigin)
	}
	if err != nil {
		ack.Cancel()
		return nil, err
	}
	return m.await(ctx, ack)
}

func (m *Messenger) await(ctx context.Context, p *Pending) (protocol.Data, error) {
	data, err := p.Wait(ctx)
	if err != nil {
		p.Cancel()
		return nil, contextError(ctx)
	}
	if p.Cancelled() {
		return nil, ErrClosed
	}
	return data, nil
}

func contextError(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, protocol.ErrTimeout) {
		return cause
	}
	return ctx.Err()
}

func sendOutcome(err error) string {
	switch {
	case err == nil:
		return observability.SendAcknowledged
	case errors.Is(err, protocol.ErrHandshakeFailure):
		return observability.SendHandshakeFailure
	case errors.Is(err, protocol.ErrTimeout):
		return observability.SendTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		return observability.SendCancelled
	default:
		return observability.SendTransportError
	}
}
