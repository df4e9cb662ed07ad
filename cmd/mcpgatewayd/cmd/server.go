package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// newHTTPServer builds the server the run command listens with. Split out
// so tests can construct one without invoking the cobra command.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{Addr: addr, Handler: handler}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}

// shutdownHTTPServer stops accepting new connections and waits up to 10s
// for in-flight requests to drain.
func shutdownHTTPServer(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}
