package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/pigeon/internal/messenger"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/testutil/testlog"
	"github.com/danmuck/pigeon/internal/transport/memory"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	clientOrigin = "https://client.example"
	daemonOrigin = "https://daemon.example"
)

func startPair(t *testing.T, trustedDomain string) (client *messenger.Messenger, daemon *messenger.Messenger, daemonWin *memory.Window) {
	t.Helper()
	bus := memory.NewBus()
	t.Cleanup(bus.Close)
	clientWin := bus.Open(clientOrigin)
	daemonWin = bus.Open(daemonOrigin)

	client = messenger.New(clientWin, messenger.WithName("client"))
	if err := client.Bootstrap("pigeon", ""); err != nil {
		t.Fatalf("bootstrap client: %v", err)
	}
	daemon, err := startMessenger(daemonWin, daemonConfig{Name: "daemon", Prefix: "pigeon", TrustedDomain: trustedDomain}, log.Logger)
	if err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = daemon.Close()
	})
	return client, daemon, daemonWin
}

func TestBuiltinHandlersAnswer(t *testing.T) {
	testlog.Start(t)
	client, _, daemonWin := startPair(t, "")
	ctx := context.Background()
	cfg := messenger.SendConfig{Target: daemonWin, TargetOrigin: daemonOrigin, Timeout: 2 * time.Second}

	got, err := client.Send(ctx, "ping", cfg, protocol.Data{"x": 41})
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !reflect.DeepEqual(got, protocol.Data{"y": float64(42)}) {
		t.Fatalf("unexpected ping result: %#v", got)
	}

	got, err = client.Send(ctx, "echo", cfg, protocol.Data{"msg": "hi"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if !reflect.DeepEqual(got, protocol.Data{"msg": "hi"}) {
		t.Fatalf("unexpected echo result: %#v", got)
	}
}

func TestPingWithoutNumberIsNotAcknowledged(t *testing.T) {
	testlog.Start(t)
	client, _, daemonWin := startPair(t, "")
	_, err := client.Send(context.Background(), "ping", messenger.SendConfig{
		Target:  daemonWin,
		Timeout: 100 * time.Millisecond,
	}, protocol.Data{"x": "one"})
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestTrustedDomainFiltersSenders(t *testing.T) {
	testlog.Start(t)
	client, _, daemonWin := startPair(t, "https://elsewhere.example")
	_, err := client.Send(context.Background(), "ping", messenger.SendConfig{
		Target:  daemonWin,
		Timeout: 100 * time.Millisecond,
	}, protocol.Data{"x": 1})
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected untrusted sender to time out, got %v", err)
	}

	trusted, _, trustedWin := startPair(t, clientOrigin)
	got, err := trusted.Send(context.Background(), "ping", messenger.SendConfig{
		Target:  trustedWin,
		Timeout: 2 * time.Second,
	}, protocol.Data{"x": 1})
	if err != nil {
		t.Fatalf("trusted ping: %v", err)
	}
	if !reflect.DeepEqual(got, protocol.Data{"y": float64(2)}) {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestAdminRoutesReportRegistry(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	_, daemon, _ := startPair(t, "")
	r := newAdminRouter("daemon", log.Logger, daemon)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/registry", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Prefix           string   `json:"prefix"`
		CompletionSignal string   `json:"completion_signal"`
		Registered       []string `json:"registered"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"pigeon.echo", "pigeon.handshake", "pigeon.ping"}
	if body.Prefix != "pigeon" || body.CompletionSignal != protocol.DefaultCompletionSignal || !reflect.DeepEqual(body.Registered, want) {
		t.Fatalf("unexpected registry body: %+v", body)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/exchanges", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != `{"exchanges":[]}` {
		t.Fatalf("unexpected exchanges response: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rr.Code)
	}
}
