// Package httpp contains HTTP utilities.
package httpp

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/haishinkit/haishin/internal/logger"
)

const (
	idleTimeout     = 30 * time.Second
	shutdownTimeout = 2 * time.Second
)

type errorLogWriter struct {
	l logger.Writer
}

func (w *errorLogWriter) Write(p []byte) (int, error) {
	w.l.Log(logger.Debug, "%s", p)
	return len(p), nil
}

// Server is a read-only HTTP server.
// It owns its listener, logs requests, sets the Server header
// and rejects malformed or non-read requests.
type Server struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Handler      http.Handler
	Parent       logger.Writer

	ln    net.Listener
	inner *http.Server
}

// Initialize initializes a Server.
func (s *Server) Initialize() error {
	if s.ReadTimeout <= 0 {
		return fmt.Errorf("invalid ReadTimeout")
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("invalid WriteTimeout")
	}

	var err error
	s.ln, err = net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}

	s.inner = &http.Server{
		Handler: &handler{
			h:            s.Handler,
			writeTimeout: s.WriteTimeout,
			l:            s.Parent,
		},
		ReadHeaderTimeout: s.ReadTimeout,
		ReadTimeout:       s.ReadTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          log.New(&errorLogWriter{s.Parent}, "", 0),
	}

	go s.inner.Serve(s.ln) //nolint:errcheck

	return nil
}

// Close stops accepting requests and waits for pending ones,
// up to a short timeout.
func (s *Server) Close() {
	ctx, ctxCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer ctxCancel()
	s.inner.Shutdown(ctx) //nolint:errcheck
	s.ln.Close()          // in case Shutdown() is called before Serve()
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}
