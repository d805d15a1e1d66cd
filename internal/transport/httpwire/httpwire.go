// Package httpwire carries raw envelopes between endpoints over HTTP.
//
// Each endpoint serves POST /messages. A post carries the raw envelope as
// the body, the sender's origin in the Origin header, and the sender's base
// URL in the X-Pigeon-Source header so the receiver can reply.
package httpwire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/pigeon/internal/observability"
	"github.com/danmuck/pigeon/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	MessagesPath = "/messages"
	HeaderSource = "X-Pigeon-Source"

	defaultMaxBodyBytes = 128 * 1024
)

var ErrUnexpectedStatus = errors.New("httpwire: unexpected status")

// Peer is a remote endpoint addressed by its base URL.
type Peer struct {
	URL string
}

var _ transport.Target = Peer{}

func (p Peer) Address() string {
	return strings.TrimRight(strings.TrimSpace(p.URL), "/")
}

func (p Peer) Origin() string {
	return transport.NormalizeOrigin(p.URL)
}

// Config configures one HTTP endpoint.
type Config struct {
	Name         string
	PublicURL    string
	CorsOrigins  []string
	Client       *http.Client
	Logger       *zerolog.Logger
	MaxBodyBytes int64
}

// Transport is both the inbound HTTP server side and the outbound client
// side of one endpoint.
type Transport struct {
	name         string
	client       *http.Client
	router       *gin.Engine
	logger       zerolog.Logger
	maxBodyBytes int64
	subs         transport.Subscribers

	mu        sync.RWMutex
	publicURL string
	appeared  time.Time
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) *Transport {
	observability.RegisterMetrics()
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "pigeon"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(corsConfig(cfg.CorsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	t := &Transport{
		name:         name,
		client:       client,
		router:       r,
		logger:       logger,
		maxBodyBytes: maxBody,
		publicURL:    strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/"),
		appeared:     time.Now(),
	}
	t.registerRoutes()
	return t
}

// Router exposes the gin engine so callers can mount extra routes.
func (t *Transport) Router() *gin.Engine {
	return t.router
}

func (t *Transport) Handler() http.Handler {
	return t.router
}

// SetPublicURL updates the base URL advertised to peers.
func (t *Transport) SetPublicURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publicURL = strings.TrimRight(strings.TrimSpace(url), "/")
}

func (t *Transport) PublicURL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.publicURL
}

// Origin is the origin this endpoint stamps on outbound posts.
func (t *Transport) Origin() string {
	return transport.NormalizeOrigin(t.PublicURL())
}

func (t *Transport) Subscribe(fn func(transport.Message)) func() {
	return t.subs.Add(fn)
}

func (t *Transport) Post(ctx context.Context, raw []byte, target transport.Target, targetOrigin string) error {
	if target == nil || strings.TrimSpace(target.Address()) == "" {
		return transport.ErrUnknownTarget
	}
	base := strings.TrimRight(target.Address(), "/")
	if !transport.MatchOrigin(targetOrigin, transport.NormalizeOrigin(base)) {
		return fmt.Errorf("%w: want=%s have=%s", transport.ErrOriginMismatch, targetOrigin, base)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+MessagesPath, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("httpwire: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if origin := t.Origin(); origin != "" {
		req.Header.Set("Origin", origin)
	}
	if source := t.PublicURL(); source != "" {
		req.Header.Set(HeaderSource, source)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpwire: post %s: %w", base, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: post %s: %d", ErrUnexpectedStatus, base, resp.StatusCode)
	}
	return nil
}

// Serve listens on addr and serves until ctx ends.
func (t *Transport) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpwire: listen %s: %w", addr, err)
	}
	return t.ServeListener(ctx, ln)
}

// ServeListener serves on an already bound listener until ctx ends.
func (t *Transport) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           t.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		t.logger.Info().Str("addr", ln.Addr().String()).Str("public_url", t.PublicURL()).Msg("http transport listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (t *Transport) registerRoutes() {
	t.router.POST(MessagesPath, t.receive)

	t.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(t.appeared).String(),
			"endpoint": t.name,
			"origin":   t.Origin(),
		})
	})

	t.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (t *Transport) receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, t.maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		return
	}

	msg := transport.Message{
		Data:   body,
		Origin: transport.NormalizeOrigin(c.GetHeader("Origin")),
	}
	if source := strings.TrimSpace(c.GetHeader(HeaderSource)); source != "" {
		msg.Source = Peer{URL: source}
	}
	t.subs.Deliver(msg)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// corsConfig allows every origin when none are listed. Peers are filtered
// per listener by domain, not at the HTTP layer.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", HeaderSource},
		MaxAge:       12 * time.Hour,
	}
	allowed := normalizeOrigins(origins)
	if len(allowed) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
	}
	return cfg
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if v := strings.TrimRight(strings.TrimSpace(origin), "/"); v != "" {
			out = append(out, v)
		}
	}
	return out
}
