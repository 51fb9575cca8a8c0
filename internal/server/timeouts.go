// internal/server/timeouts.go
//
// HTTP server helper with robust timeouts.
//
// Production hardening recommends:
//
//   • ReadTimeout   – abort slow-loris headers (10 s)
//   • WriteTimeout  – cap total response time (15 s)
//   • IdleTimeout   – close keep-alives on idle clients (60 s)
//
// Synchronous deploys hold the response open for the whole attempt, so
// cmd/web raises WriteTimeout to the deploy timeout when deploy.async is
// off.
//
// This helper centralises those defaults so cmd/web doesn't repeat
// boilerplate.

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by New.
const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 15 * time.Second
	IdleTimeout  = 60 * time.Second
)

// Option adjusts the server built by New.
type Option func(*http.Server)

// WithWriteTimeout raises or lowers the write deadline.  Zero or negative
// values are ignored.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		if d > 0 {
			s.WriteTimeout = d
		}
	}
}

// New constructs an *http.Server with sensible defaults.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       ReadTimeout,
		ReadHeaderTimeout: ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		ErrorLog:          zap.NewStdLog(zap.L()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve runs s until ctx ends, then shuts it down within grace.
func Serve(ctx context.Context, s *http.Server, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		zap.S().Infow("listening", "addr", s.Addr)
		errc <- s.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	zap.S().Info("shutting down http server")
	if err := s.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
