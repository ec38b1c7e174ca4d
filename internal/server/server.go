package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/logging"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// New builds the router and binds it to addr.
func New(addr string, opts Options) (*Server, error) {
	engine, err := Build(opts)
	if err != nil {
		return nil, err
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logging.WithComponent("server"),
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("server: listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("server: shutdown did not complete")
		return err
	}
	s.log.Info().Msg("server: stopped")
	return nil
}
