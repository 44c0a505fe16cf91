// Package server runs an HTTP server until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Options tweak Serve for tests. Zero values use the real listener and
// process signals.
type Options struct {
	Listener net.Listener
	Signals  <-chan os.Signal
}

// Serve runs srv and shuts it down gracefully on SIGINT/SIGTERM, waiting at
// most shutdownTimeout for in-flight requests.
func Serve(srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return ServeWithOptions(srv, shutdownTimeout, logger, Options{})
}

// ServeWithOptions is Serve with an injectable listener and signal source.
func ServeWithOptions(srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, opts Options) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.Listener != nil {
			err = srv.Serve(opts.Listener)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
