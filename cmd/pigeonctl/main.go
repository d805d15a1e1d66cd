package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/pigeon/internal/config"
	"github.com/danmuck/pigeon/internal/logging"
	"github.com/danmuck/pigeon/internal/messenger"
	"github.com/danmuck/pigeon/internal/observability"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/danmuck/pigeon/internal/transport"
	"github.com/danmuck/pigeon/internal/transport/httpwire"
	"github.com/danmuck/pigeon/internal/transport/redisbus"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var errTransportMismatch = errors.New("pigeonctl: peer transport differs from self transport")

type options struct {
	peersPath string
	to        string
	name      string
	data      string
	timeout   time.Duration
	list      bool
}

func main() {
	logging.ConfigureRuntime()
	gin.SetMode(gin.ReleaseMode)

	var opts options
	flag.StringVar(&opts.peersPath, "peers", "cmd/pigeonctl/peers.toml", "peer book path")
	flag.StringVar(&opts.to, "to", "", "peer name from the peer book")
	flag.StringVar(&opts.name, "name", "ping", "message name, without prefix")
	flag.StringVar(&opts.data, "data", "", "JSON object payload")
	flag.DurationVar(&opts.timeout, "timeout", 0, "send timeout (overrides the peer book)")
	flag.BoolVar(&opts.list, "list", false, "list peers and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "pigeonctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	book, err := config.LoadPeerBook(opts.peersPath)
	if err != nil {
		return err
	}
	if opts.list {
		return listPeers(book, out)
	}

	peer, ok := book.Peer(opts.to)
	if !ok {
		return fmt.Errorf("unknown peer %q", opts.to)
	}
	if peer.Transport != book.Self.Transport {
		return fmt.Errorf("%w: peer=%s self=%s", errTransportMismatch, peer.Transport, book.Self.Transport)
	}
	data, err := parseData(opts.data)
	if err != nil {
		return err
	}
	timeout, err := resolveTimeout(opts.timeout, book.Timeout)
	if err != nil {
		return err
	}

	logger := observability.InitLogger("pigeonctl", book.Self.Name)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr, cleanup, err := openSelf(ctx, book.Self, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	m := messenger.New(tr, messenger.WithName(book.Self.Name), messenger.WithLogger(logger))
	defer m.Close()
	if err := m.Bootstrap(book.Prefix, book.CompletionSignal); err != nil {
		return err
	}

	target, targetOrigin := peerTarget(peer)
	result, err := m.Send(ctx, opts.name, messenger.SendConfig{
		Target:       target,
		TargetOrigin: targetOrigin,
		Domain:       peer.Origin,
		Timeout:      timeout,
	}, data)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func listPeers(book config.PeerBook, out io.Writer) error {
	for _, p := range book.Peers {
		addr := p.URL
		if p.Transport == config.TransportRedis {
			addr = p.Channel
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", p.Name, p.Transport, addr); err != nil {
			return err
		}
	}
	return nil
}

func parseData(raw string) (protocol.Data, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var data protocol.Data
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse -data: %w", err)
	}
	return data, nil
}

func resolveTimeout(flagValue time.Duration, bookValue string) (time.Duration, error) {
	if flagValue > 0 {
		return flagValue, nil
	}
	if strings.TrimSpace(bookValue) == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(bookValue))
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	return d, nil
}

func peerTarget(peer config.PeerConfig) (transport.Target, string) {
	switch peer.Transport {
	case config.TransportRedis:
		origin := peer.Origin
		if origin == "" {
			origin = transport.AnyOrigin
		}
		return redisbus.Channel{Name: peer.Channel, Origin: peer.Origin}, origin
	default:
		p := httpwire.Peer{URL: peer.URL}
		return p, p.Origin()
	}
}

// openSelf starts the transport replies come back on. cleanup releases it.
func openSelf(ctx context.Context, self config.SelfConfig, logger zerolog.Logger) (transport.Transport, func(), error) {
	switch self.Transport {
	case config.TransportRedis:
		client, err := redisbus.Connect(ctx, self.Redis)
		if err != nil {
			return nil, nil, err
		}
		bus, err := redisbus.New(client, redisbus.Config{
			Namespace: self.Namespace,
			Name:      self.Name,
			Origin:    self.Origin,
			Logger:    &logger,
		})
		if err == nil {
			err = bus.Start(ctx)
		}
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return bus, func() {
			_ = bus.Close()
			_ = client.Close()
		}, nil
	default:
		ln, err := net.Listen("tcp", self.Listen)
		if err != nil {
			return nil, nil, fmt.Errorf("listen %s: %w", self.Listen, err)
		}
		publicURL := self.PublicURL
		if publicURL == "" {
			publicURL = "http://" + ln.Addr().String()
		}
		tr := httpwire.New(httpwire.Config{Name: self.Name, PublicURL: publicURL, Logger: &logger})
		serveCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := tr.ServeListener(serveCtx, ln); err != nil {
				logger.Error().Err(err).Msg("reply listener stopped")
			}
		}()
		return tr, func() {
			stop()
			<-done
		}, nil
	}
}
