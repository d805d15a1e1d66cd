// Package memory is an in-process transport: a bus of windows that post raw
// messages to each other, each window draining its inbox on one goroutine.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/pigeon/internal/transport"
	"github.com/google/uuid"
)

const defaultInboxSize = 64

// Delivery describes one post that passed target checks, seen by a bus
// tap before it is queued.
type Delivery struct {
	From string
	To   string
	Data []byte
}

// Bus connects windows in one process.
type Bus struct {
	mu      sync.RWMutex
	windows map[string]*Window
	taps    []func(Delivery)
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{
		windows: make(map[string]*Window),
		closed:  make(chan struct{}),
	}
}

// Open creates a window with the given origin.
func (b *Bus) Open(origin string) *Window {
	w := &Window{
		id:     uuid.NewString(),
		origin: origin,
		bus:    b,
		inbox:  make(chan transport.Message, defaultInboxSize),
	}
	b.mu.Lock()
	b.windows[w.id] = w
	b.mu.Unlock()

	b.wg.Add(1)
	go w.loop()
	return w
}

// Tap observes every post on the bus that passed target checks.
func (b *Bus) Tap(fn func(Delivery)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

// Close stops every window loop and waits for them to exit.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.closed)
	})
	b.wg.Wait()
}

func (b *Bus) lookup(id string) (*Window, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	w, ok := b.windows[id]
	return w, ok
}

func (b *Bus) tap(d Delivery) {
	b.mu.RLock()
	taps := make([]func(Delivery), len(b.taps))
	copy(taps, b.taps)
	b.mu.RUnlock()
	for _, fn := range taps {
		fn(d)
	}
}

// Window is one context on the bus. It is both a transport (for its own
// endpoint) and a target (for its peers).
type Window struct {
	id     string
	origin string
	bus    *Bus
	inbox  chan transport.Message
	subs   transport.Subscribers
}

var (
	_ transport.Transport = (*Window)(nil)
	_ transport.Target    = (*Window)(nil)
)

func (w *Window) Address() string {
	return "memory://" + w.id
}

func (w *Window) ID() string {
	return w.id
}

func (w *Window) Origin() string {
	return w.origin
}

func (w *Window) Subscribe(fn func(transport.Message)) func() {
	return w.subs.Add(fn)
}

func (w *Window) Post(ctx context.Context, raw []byte, target transport.Target, targetOrigin string) error {
	dst, ok := target.(*Window)
	if !ok || dst == nil {
		return fmt.Errorf("%w: %T", transport.ErrUnknownTarget, target)
	}
	if _, ok := w.bus.lookup(dst.id); !ok || dst.bus != w.bus {
		return fmt.Errorf("%w: %s", transport.ErrUnknownTarget, dst.Address())
	}
	if !transport.MatchOrigin(targetOrigin, dst.origin) {
		return fmt.Errorf("%w: want=%s have=%s", transport.ErrOriginMismatch, targetOrigin, dst.origin)
	}

	data := append([]byte(nil), raw...)
	msg := transport.Message{Data: data, Origin: w.origin, Source: w}
	w.bus.tap(Delivery{From: w.id, To: dst.id, Data: data})
	select {
	case dst.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.bus.closed:
		return transport.ErrClosed
	}
}

func (w *Window) loop() {
	defer w.bus.wg.Done()
	for {
		select {
		case msg := <-w.inbox:
			w.subs.Deliver(msg)
		case <-w.bus.closed:
			return
		}
	}
}
