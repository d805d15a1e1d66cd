package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
)

// AnyOrigin disables target-origin filtering on post.
const AnyOrigin = "*"

var (
	ErrOriginMismatch = errors.New("transport: target origin mismatch")
	ErrUnknownTarget  = errors.New("transport: unknown target")
	ErrClosed         = errors.New("transport: closed")
)

// Target addresses one remote context.
type Target interface {
	Address() string
}

// Message is one raw inbound message as delivered by a transport.
type Message struct {
	Data   []byte
	Origin string
	Source Target
}

// Transport is a fire-and-forget channel between contexts.
type Transport interface {
	Post(ctx context.Context, raw []byte, target Target, targetOrigin string) error
	Subscribe(fn func(Message)) (unsubscribe func())
}

// MatchOrigin reports whether a post filtered by targetOrigin may reach a
// context whose origin is actual.
func MatchOrigin(targetOrigin, actual string) bool {
	targetOrigin = strings.TrimSpace(targetOrigin)
	if targetOrigin == AnyOrigin {
		return true
	}
	return NormalizeOrigin(targetOrigin) == NormalizeOrigin(actual)
}

// NormalizeOrigin reduces a URL-ish origin to scheme://host[:port].
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Subscribers fans inbound messages out to registered callbacks.
type Subscribers struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[uint64]func(Message)
}

func (s *Subscribers) Add(fn func(Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[uint64]func(Message))
	}
	s.seq++
	id := s.seq
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Subscribers) Deliver(msg Message) {
	s.mu.RLock()
	fns := make([]func(Message), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
