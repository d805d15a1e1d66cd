package redisbus

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/pigeon/internal/messenger"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/testutil/testlog"
	"github.com/danmuck/pigeon/internal/transport"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const envRedisAddr = "PIGEON_REDIS_ADDR"

func TestFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := frame{Origin: "redis://a", Reply: "a", Data: `{"messageName":"app.ping","data":{"x":1}}`}
	raw, err := encodeFrame(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeFrame(string(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("frame changed: in=%+v out=%+v", in, out)
	}
}

func TestDecodeFrameRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	for _, payload := range []string{"", "not json", `{"data":"x"}`, `{"reply":"   "}`} {
		if _, err := decodeFrame(payload); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("payload %q: expected malformed frame, got %v", payload, err)
		}
	}
}

func TestNewRejectsInvalidChannel(t *testing.T) {
	testlog.Start(t)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	for _, name := range []string{"", "  ", "a:b"} {
		if _, err := New(client, Config{Name: name}); !errors.Is(err, ErrInvalidChannel) {
			t.Fatalf("name %q: expected invalid channel, got %v", name, err)
		}
	}
}

func TestPostChecksTargetBeforePublishing(t *testing.T) {
	testlog.Start(t)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	bus, err := New(client, Config{Name: "a", Origin: "redis://a"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = bus.Post(context.Background(), []byte(`{}`), Channel{Name: "b", Origin: "redis://b"}, "redis://c")
	if !errors.Is(err, transport.ErrOriginMismatch) {
		t.Fatalf("expected origin mismatch, got %v", err)
	}
	err = bus.Post(context.Background(), []byte(`{}`), Channel{}, "*")
	if !errors.Is(err, transport.ErrUnknownTarget) {
		t.Fatalf("expected unknown target, got %v", err)
	}
}

func TestConnectAcceptsURLAndAddr(t *testing.T) {
	testlog.Start(t)
	client, err := Connect(context.Background(), "redis://localhost:6380/2")
	if err != nil {
		t.Fatalf("connect url: %v", err)
	}
	defer client.Close()
	if opts := client.Options(); opts.Addr != "localhost:6380" || opts.DB != 2 {
		t.Fatalf("unexpected url options: addr=%s db=%d", opts.Addr, opts.DB)
	}

	client2, err := Connect(context.Background(), "localhost:6379")
	if err != nil {
		t.Fatalf("connect addr: %v", err)
	}
	defer client2.Close()
	if client2.Options().Addr != "localhost:6379" {
		t.Fatalf("unexpected addr: %s", client2.Options().Addr)
	}

	if _, err := Connect(context.Background(), "redis://localhost:6379/notanumber"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func liveClientOrSkip(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv(envRedisAddr)
	if addr == "" {
		t.Skipf("%s not set", envRedisAddr)
	}
	client, err := Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis at %s unreachable: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSendOverRedisResolvesWithAcknowledgedResult(t *testing.T) {
	testlog.Start(t)
	client := liveClientOrSkip(t)
	namespace := "pigeon-test-" + uuid.NewString()

	aBus, err := New(client, Config{Namespace: namespace, Name: "a", Origin: "redis://a"})
	if err != nil {
		t.Fatalf("new a: %v", err)
	}
	bBus, err := New(client, Config{Namespace: namespace, Name: "b", Origin: "redis://b"})
	if err != nil {
		t.Fatalf("new b: %v", err)
	}
	ctx := context.Background()
	for _, bus := range []*Bus{aBus, bBus} {
		if err := bus.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
		t.Cleanup(func() { _ = bus.Close() })
	}

	a := messenger.New(aBus, messenger.WithName("a"))
	b := messenger.New(bBus, messenger.WithName("b"))
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	if err := a.Bootstrap("app", ""); err != nil {
		t.Fatalf("bootstrap a: %v", err)
	}
	if err := b.Bootstrap("app", ""); err != nil {
		t.Fatalf("bootstrap b: %v", err)
	}
	if _, err := b.On("ping", messenger.ListenConfig{Domain: "redis://a"}, func(_ context.Context, data protocol.Data) (protocol.Data, error) {
		x, _ := data["x"].(float64)
		return protocol.Data{"y": x + 1}, nil
	}); err != nil {
		t.Fatalf("on ping: %v", err)
	}

	got, err := a.Send(ctx, "ping", messenger.SendConfig{
		Target:       bBus.Self(),
		TargetOrigin: "redis://b",
		Domain:       "redis://b",
		Timeout:      3 * time.Second,
	}, protocol.Data{"x": 1})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reflect.DeepEqual(got, protocol.Data{"y": float64(2)}) {
		t.Fatalf("unexpected result: %#v", got)
	}
}
