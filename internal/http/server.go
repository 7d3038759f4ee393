// Package http exposes the setlist export flow as a JSON API next to health and metrics endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"setlistify/internal/core"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

// NewServer builds the HTTP server. api may be nil to serve only health and metrics.
func NewServer(config *core.ServerConfig, api *API, metrics *Metrics, logger *zap.Logger) *Server {
	mux := setupRoutes(logger, metrics, api)

	return &Server{
		config:  config,
		logger:  logger,
		server:  createHTTPServer(config, mux),
		metrics: metrics,
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
}

func setupRoutes(logger *zap.Logger, metrics *Metrics, api *API) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", statusHandler(logger, `{"status":"ok","service":"setlistify"}`))
	mux.HandleFunc("GET /readyz", statusHandler(logger, `{"status":"ready","service":"setlistify"}`))

	if metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	if api != nil {
		api.register(mux)
	}

	mux.HandleFunc("GET /{$}", homeHandler(logger))

	return mux
}

func statusHandler(logger *zap.Logger, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(body)); err != nil {
			logger.Debug("Failed to write status response", zap.Error(err))
		}
	}
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(homePage)); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>Setlistify</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
        code { background: #f4f4f4; padding: 2px 4px; }
    </style>
</head>
<body>
    <h1 class="header">🎤 Setlistify</h1>
    <p>Concert setlists → Spotify playlists</p>

    <h2>Endpoints</h2>
    <div class="endpoint">📊 <a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint">💚 <a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint">✅ <a href="/readyz">Ready</a> - Readiness check</div>

    <h2>API</h2>
    <div class="endpoint"><code>GET /api/setlists?artist=</code> - Past setlists for an artist or setlist.fm URL</div>
    <div class="endpoint"><code>POST /api/predict</code> - Predict the next setlist</div>
    <div class="endpoint"><code>POST /api/preview</code> - Resolve a setlist for review</div>
    <div class="endpoint"><code>POST /api/export</code> - Publish a reviewed setlist to Spotify</div>
    <div class="endpoint"><code>GET /api/playlists</code> - Previously exported playlists</div>
</body>
</html>`

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}
