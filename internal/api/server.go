package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dwd-exporter/internal/api/handlers"
	"github.com/andresuchdata/dwd-exporter/pkg/logger"
)

// Server serves the status endpoints for the duration of one run.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan error
	started  bool
	log      zerolog.Logger
}

// NewServer binds addr right away so a bad address fails before the run
// starts.
func NewServer(addr string, status *handlers.StatusHandler, allowedOrigins []string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status api listen on %s: %w", addr, err)
	}

	return &Server{
		srv: &http.Server{
			Handler:           NewRouter(status, allowedOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan error, 1),
		log:      logger.Component("status-api"),
	}, nil
}

// Addr is the bound address, useful when addr used port 0.
func (s *Server) Addr() string { return s.listener.Addr().String() }

func (s *Server) Start() {
	s.started = true
	s.log.Info().Str("addr", s.Addr()).Msg("status api listening")
	go func() {
		err := s.srv.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.started {
		return s.listener.Close()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("status api shutdown: %w", err)
	}
	if err := <-s.done; err != nil {
		return fmt.Errorf("status api serve: %w", err)
	}
	s.log.Info().Msg("status api stopped")
	return nil
}
