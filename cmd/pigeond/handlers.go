package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/pigeon/internal/messenger"
	"github.com/danmuck/pigeon/internal/observability"
	"github.com/danmuck/pigeon/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var errPingInput = errors.New("ping: x must be a number")

// installHandlers registers the daemon's built-in listeners. A non-empty
// trustedDomain restricts them to that inbound origin.
func installHandlers(m *messenger.Messenger, trustedDomain string) error {
	cfg := messenger.ListenConfig{Domain: trustedDomain}
	if _, err := m.On("ping", cfg, ping); err != nil {
		return err
	}
	// nil callback acknowledges with the inbound data
	if _, err := m.On("echo", cfg, nil); err != nil {
		return err
	}
	return nil
}

func ping(_ context.Context, data protocol.Data) (protocol.Data, error) {
	x, ok := data["x"].(float64)
	if !ok {
		return nil, errPingInput
	}
	return protocol.Data{"y": x + 1}, nil
}

func registerAdminRoutes(r gin.IRouter, m *messenger.Messenger) {
	r.GET("/exchanges", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"exchanges": m.Exchanges()})
	})
	r.GET("/registry", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"prefix":            m.Prefix(),
			"completion_signal": m.CompletionSignal(),
			"registered":        m.Registered(),
		})
	})
}

// newAdminRouter serves health, metrics, and admin routes for transports
// that have no HTTP surface of their own.
func newAdminRouter(name string, logger zerolog.Logger, m *messenger.Messenger) *gin.Engine {
	observability.RegisterMetrics()
	appeared := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(appeared).String(),
			"endpoint": name,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	registerAdminRoutes(r, m)
	return r
}

func serveAdmin(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
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
