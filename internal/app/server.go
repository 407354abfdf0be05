package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	intrnl "roomrelay/internal"
)

// ServerHandle represents a running HTTP/WebSocket relay instance.
type ServerHandle struct {
	addr    string
	server  *http.Server
	relay   *intrnl.Server
	logger  *slog.Logger
	timeout time.Duration
	done    chan struct{}
	err     error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop shuts the HTTP server down and hangs up every websocket client.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
	}
	// close the listener first so no upgrade can slip in after the hub is
	// emptied; hijacked websocket connections are not tracked by http.Server
	err := h.server.Shutdown(ctx)
	h.relay.Shutdown()
	return err
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires handlers and starts serving in the background. Cancelling
// ctx stops the server; otherwise call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*ServerHandle, error) {
	cfg.Path = NormalizeJoinPath(cfg.Path)
	if cfg.Timeouts.Shutdown <= 0 {
		cfg.Timeouts.Shutdown = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	relay := intrnl.NewServer(cfg.Options(), logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           relay.Handler(cfg.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:    listener.Addr().String(),
		server:  httpServer,
		relay:   relay,
		logger:  logger,
		timeout: cfg.Timeouts.Shutdown,
		done:    make(chan struct{}),
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
			case <-handle.done:
				return
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), handle.timeout)
			defer cancel()
			if err := handle.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server shutdown error", "error", err)
			}
		}()
	}

	go handle.serve(listener)

	logger.Info("relay listening", "addr", handle.addr, "path", cfg.Path)
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.err = err
}
