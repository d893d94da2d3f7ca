package daemon

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wapanel/wapanel/internal/bus"
	"github.com/wapanel/wapanel/internal/config"
	"github.com/wapanel/wapanel/internal/device"
	"github.com/wapanel/wapanel/internal/httpapi"
)

// Server manages the HTTP server lifecycle for the panel API.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

// NewServer builds the API server bound to the configured listen address.
func NewServer(cfg *config.Config, reg *device.Registry, b *bus.Bus, logger *zap.Logger) *Server {
	api := httpapi.NewServer(reg, b, cfg.AllowedOrigins, logger.Named("http"))
	return &Server{
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}
}
