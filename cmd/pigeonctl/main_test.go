package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pigeon/internal/messenger"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/testutil/testlog"
	"github.com/danmuck/pigeon/internal/transport/httpwire"
	"github.com/gin-gonic/gin"
)

func TestListPeers(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	if err := run(context.Background(), options{peersPath: "ex.peers.toml", list: true}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "local\thttp\thttp://127.0.0.1:9300\nbus\tredis\tpigeond\n"
	if out.String() != want {
		t.Fatalf("unexpected list:\n%s", out.String())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		opts options
		want error
		text string
	}{
		{name: "unknown peer", opts: options{to: "nobody"}, text: "unknown peer"},
		{name: "transport mismatch", opts: options{to: "bus"}, want: errTransportMismatch},
		{name: "bad data", opts: options{to: "local", data: "[1,2]"}, text: "parse -data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.peersPath = "ex.peers.toml"
			err := run(context.Background(), tc.opts, &bytes.Buffer{})
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.text != "" && !strings.Contains(err.Error(), tc.text) {
				t.Fatalf("expected error containing %q, got %v", tc.text, err)
			}
		})
	}
}

func TestResolveTimeout(t *testing.T) {
	cases := []struct {
		flag time.Duration
		book string
		want time.Duration
	}{
		{flag: time.Second, book: "9s", want: time.Second},
		{book: "250ms", want: 250 * time.Millisecond},
		{want: 5 * time.Second},
	}
	for _, tc := range cases {
		got, err := resolveTimeout(tc.flag, tc.book)
		if err != nil {
			t.Fatalf("resolve %v/%q: %v", tc.flag, tc.book, err)
		}
		if got != tc.want {
			t.Fatalf("resolve %v/%q: got %v want %v", tc.flag, tc.book, got, tc.want)
		}
	}
	if _, err := resolveTimeout(0, "soon"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseDataAllowsEmpty(t *testing.T) {
	data, err := parseData("  ")
	if err != nil || data != nil {
		t.Fatalf("expected empty payload, got %#v err=%v", data, err)
	}
	data, err = parseData(`{"x":1}`)
	if err != nil || !reflect.DeepEqual(data, protocol.Data{"x": float64(1)}) {
		t.Fatalf("unexpected payload %#v err=%v", data, err)
	}
}

func TestRunSendsToHTTPPeer(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	tr := httpwire.New(httpwire.Config{Name: "remote"})
	var srv *httptest.Server
	func() {
		defer func() {
			if r := recover(); r != nil {
				srv = nil
			}
		}()
		srv = httptest.NewServer(tr.Handler())
	}()
	if srv == nil {
		t.Skip("skipping listener test in restricted environment")
	}
	defer srv.Close()
	tr.SetPublicURL(srv.URL)

	remote := messenger.New(tr, messenger.WithName("remote"))
	defer remote.Close()
	if err := remote.Bootstrap("demo", "done"); err != nil {
		t.Fatalf("bootstrap remote: %v", err)
	}
	if _, err := remote.On("ping", messenger.ListenConfig{}, func(_ context.Context, data protocol.Data) (protocol.Data, error) {
		x, _ := data["x"].(float64)
		return protocol.Data{"y": x + 1}, nil
	}); err != nil {
		t.Fatalf("on ping: %v", err)
	}

	book := fmt.Sprintf(`prefix = "demo"
completion_signal = "done"
timeout = "3s"

[self]
name = "ctl"
listen = "127.0.0.1:0"

[[peers]]
name = "remote"
url = %q
origin = %q
`, srv.URL, tr.Origin())
	path := filepath.Join(t.TempDir(), "peers.toml")
	if err := os.WriteFile(path, []byte(book), 0o600); err != nil {
		t.Fatalf("write peers: %v", err)
	}

	var out bytes.Buffer
	err := run(context.Background(), options{peersPath: path, to: "remote", name: "ping", data: `{"x":1}`}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var got protocol.Data
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if !reflect.DeepEqual(got, protocol.Data{"y": float64(2)}) {
		t.Fatalf("unexpected result: %#v", got)
	}
}
