package messenger

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/registry"
	"github.com/danmuck/pigeon/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotBootstrapped     = errors.New("messenger: not bootstrapped")
	ErrAlreadyBootstrapped = errors.New("messenger: already bootstrapped")
	ErrInvalidPrefix       = errors.New("messenger: invalid prefix")
	ErrClosed              = errors.New("messenger: closed")
)

// Option configures a Messenger.
type Option func(*Messenger)

// WithName sets the endpoint label used in logs and metrics.
func WithName(name string) Option {
	return func(m *Messenger) {
		if v := strings.TrimSpace(name); v != "" {
			m.name = v
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Messenger) {
		m.log = logger
	}
}

// Messenger is one protocol endpoint: a prefix, a completion signal, a
// handler registry, and the transport it listens on.
type Messenger struct {
	name      string
	log       zerolog.Logger
	transport transport.Transport
	registry  *registry.Registry
	exchanges *ExchangeTable

	mu           sync.RWMutex
	prefix       string
	signal       string
	bootstrapped bool
	closed       bool
	unsubscribe  func()
	pending      map[*Pending]struct{}

	handshakes handshakeRouter
	queues     dispatchQueues
	inflight   sync.WaitGroup
	baseCtx    context.Context
	stop       context.CancelFunc
}

func New(tr transport.Transport, opts ...Option) *Messenger {
	ctx, stop := context.WithCancel(context.Background())
	m := &Messenger{
		name:      "pigeon",
		log:       log.Logger,
		transport: tr,
		registry:  registry.New(),
		exchanges: NewExchangeTable(),
		pending:   make(map[*Pending]struct{}),
		baseCtx:   ctx,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("endpoint", m.name).Logger()
	return m
}

// Bootstrap sets the message prefix and completion signal, starts
// dispatching inbound messages, and installs the persistent handshake
// responder. An empty signal selects protocol.DefaultCompletionSignal.
func (m *Messenger) Bootstrap(prefix, completionSignal string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ErrInvalidPrefix
	}
	completionSignal = strings.TrimSpace(completionSignal)
	if completionSignal == "" {
		completionSignal = protocol.DefaultCompletionSignal
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.bootstrapped {
		m.mu.Unlock()
		return ErrAlreadyBootstrapped
	}
	m.prefix = prefix
	m.signal = completionSignal
	m.bootstrapped = true
	m.unsubscribe = m.transport.Subscribe(m.dispatch)
	m.mu.Unlock()

	m.listen(protocol.HandshakeName, m.answerHandshake, ListenConfig{}, false)
	m.log.Info().
		Str("prefix", prefix).
		Str("completion_signal", completionSignal).
		Msg("messenger bootstrapped")
	return nil
}

// answerHandshake reports whether the queried name has a local listener.
func (m *Messenger) answerHandshake(_ context.Context, data protocol.Data) (protocol.Data, error) {
	name, _ := data["messageName"].(string)
	registered := name != "" && m.registry.IsRegistered(name)
	m.log.Debug().
		Str("message_name", name).
		Bool("registered", registered).
		Msg("handshake answered")
	return protocol.Data{
		"messageName": name,
		"registered":  registered,
	}, nil
}

// On installs a persistent listener for prefix.messageName. A nil callback
// echoes the inbound data back as the acknowledgment.
func (m *Messenger) On(messageName string, cfg ListenConfig, cb Callback) (*Pending, error) {
	if err := m.checkListen(messageName); err != nil {
		return nil, err
	}
	return m.listen(messageName, cb, cfg, false), nil
}

// Once installs a one-shot listener for prefix.messageName.
func (m *Messenger) Once(messageName string, cfg ListenConfig, cb Callback) (*Pending, error) {
	if err := m.checkListen(messageName); err != nil {
		return nil, err
	}
	return m.listen(messageName, cb, cfg, true), nil
}

func (m *Messenger) checkListen(messageName string) error {
	if strings.TrimSpace(messageName) == "" {
		return protocol.ErrMissingMessageName
	}
	_, _, err := m.state()
	return err
}

// Close stops dispatching, cancels every unsettled listener, and waits for
// running handlers to return.
func (m *Messenger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	pending := make([]*Pending, 0, len(m.pending))
	for p := range m.pending {
		pending = append(pending, p)
	}
	m.mu.Unlock()

	for _, p := range pending {
		p.Cancel()
	}
	m.stop()
	m.inflight.Wait()
	m.log.Info().Msg("messenger closed")
	return nil
}

func (m *Messenger) Name() string {
	return m.name
}

func (m *Messenger) Prefix() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefix
}

func (m *Messenger) CompletionSignal() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signal
}

// IsRegistered reports whether a fully-qualified name has a local listener.
func (m *Messenger) IsRegistered(name string) bool {
	return m.registry.IsRegistered(name)
}

// Registered lists fully-qualified names with a local listener.
func (m *Messenger) Registered() []string {
	return m.registry.Names()
}

// Exchanges lists sends that have not settled yet.
func (m *Messenger) Exchanges() []Exchange {
	return m.exchanges.List()
}

func (m *Messenger) state() (prefix, signal string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", "", ErrClosed
	}
	if !m.bootstrapped {
		return "", "", ErrNotBootstrapped
	}
	return m.prefix, m.signal, nil
}

func (m *Messenger) track(p *Pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.pending[p] = struct{}{}
	return true
}

func (m *Messenger) untrack(p *Pending) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, p)
}
