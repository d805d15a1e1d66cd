// Package redisbus carries raw envelopes between endpoints over Redis
// pub/sub. Every endpoint subscribes to its own channel, "<namespace>:<name>",
// and posts by publishing a frame to the target's channel.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/pigeon/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultNamespace = "pigeon"

var (
	ErrInvalidChannel = errors.New("redisbus: invalid channel")
	ErrMalformedFrame = errors.New("redisbus: malformed frame")
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	redisURL = strings.TrimSpace(redisURL)
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Channel addresses an endpoint on the bus. Origin is the origin the
// endpoint claims; posts check it against the caller's target origin.
type Channel struct {
	Name   string
	Origin string
}

var _ transport.Target = Channel{}

func (c Channel) Address() string {
	return c.Name
}

// frame is the pub/sub payload wrapping one raw envelope.
type frame struct {
	Origin string `json:"origin,omitempty"`
	Reply  string `json:"reply"`
	Data   string `json:"data"`
}

func encodeFrame(f frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(payload string) (frame, error) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(f.Reply) == "" {
		return frame{}, fmt.Errorf("%w: missing reply channel", ErrMalformedFrame)
	}
	return f, nil
}

type Config struct {
	Namespace string
	// Name is this endpoint's channel name within the namespace.
	Name   string
	Origin string
	Logger *zerolog.Logger
}

// Bus is one endpoint's view of the shared pub/sub namespace.
type Bus struct {
	client    *redis.Client
	namespace string
	name      string
	origin    string
	logger    zerolog.Logger
	subs      transport.Subscribers

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

var _ transport.Transport = (*Bus)(nil)

func New(client *redis.Client, cfg Config) (*Bus, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" || strings.Contains(name, ":") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, cfg.Name)
	}
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Bus{
		client:    client,
		namespace: namespace,
		name:      name,
		origin:    strings.TrimSpace(cfg.Origin),
		logger:    logger.With().Str("channel", name).Logger(),
	}, nil
}

// Self is the target peers use to reach this endpoint.
func (b *Bus) Self() Channel {
	return Channel{Name: b.name, Origin: b.origin}
}

func (b *Bus) channel(name string) string {
	return b.namespace + ":" + name
}

// Start subscribes to this endpoint's channel and delivers inbound frames
// until Close. It returns once the subscription is confirmed.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return nil
	}

	ps := b.client.Subscribe(ctx, b.channel(b.name))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redisbus: subscribe %s: %w", b.channel(b.name), err)
	}
	b.pubsub = ps

	b.wg.Add(1)
	go b.loop(ps.Channel())
	b.logger.Info().Str("namespace", b.namespace).Msg("redis transport subscribed")
	return nil
}

func (b *Bus) loop(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range ch {
		f, err := decodeFrame(msg.Payload)
		if err != nil {
			b.logger.Warn().Err(err).Msg("dropping frame")
			continue
		}
		b.subs.Deliver(transport.Message{
			Data:   []byte(f.Data),
			Origin: f.Origin,
			Source: Channel{Name: f.Reply, Origin: f.Origin},
		})
	}
}

// Close unsubscribes and waits for the delivery loop to exit. The client
// stays open; its owner closes it.
func (b *Bus) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	b.wg.Wait()
	return err
}

func (b *Bus) Subscribe(fn func(transport.Message)) func() {
	return b.subs.Add(fn)
}

func (b *Bus) Post(ctx context.Context, raw []byte, target transport.Target, targetOrigin string) error {
	dst, ok := target.(Channel)
	if !ok || strings.TrimSpace(dst.Name) == "" {
		return fmt.Errorf("%w: %T", transport.ErrUnknownTarget, target)
	}
	if !transport.MatchOrigin(targetOrigin, dst.Origin) {
		return fmt.Errorf("%w: want=%s have=%s", transport.ErrOriginMismatch, targetOrigin, dst.Origin)
	}

	payload, err := encodeFrame(frame{Origin: b.origin, Reply: b.name, Data: string(raw)})
	if err != nil {
		return fmt.Errorf("redisbus: encode frame: %w", err)
	}
	receivers, err := b.client.Publish(ctx, b.channel(dst.Name), payload).Result()
	if err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", b.channel(dst.Name), err)
	}
	if receivers == 0 {
		b.logger.Debug().Str("target", dst.Name).Msg("published with no subscribers")
	}
	return nil
}
