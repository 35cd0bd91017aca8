package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server runs the router until its context is cancelled.
type Server struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	log             zerolog.Logger
}

func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration, log zerolog.Logger) *Server {
	return &Server{addr: addr, handler: handler, shutdownTimeout: shutdownTimeout, log: log}
}

// Run starts the HTTP listener and shuts it down gracefully once ctx is done.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down http server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
