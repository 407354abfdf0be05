package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roomrelay/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("roomrelay", flag.ExitOnError)
	configPath := flagSet.String("config", envOrDefault("ROOMRELAY_CONFIG", ""), "YAML config file for server and local modes")
	serverURL := flagSet.String("server-url", envOrDefault("ROOMRELAY_SERVER", "ws://localhost:3001/join"), "relay websocket URL (client mode)")
	username := flagSet.String("user", envOrDefault("ROOMRELAY_USER", ""), "display name; prompted for when empty")
	_ = flagSet.Parse(args)

	roomKey := ""
	if remaining := flagSet.Args(); len(remaining) > 0 {
		roomKey = remaining[0]
	}

	clientCfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
		RoomKey:   roomKey,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, *configPath)
	case modeLocal:
		err = runLocalMode(ctx, *configPath, clientCfg)
	default:
		err = app.RunClient(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "roomrelay: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, configPath string) error {
	cfg, err := app.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	handle, err := app.RunServer(ctx, cfg, cfg.NewLogger())
	if err != nil {
		return err
	}
	return handle.Wait()
}

// local mode runs a private relay on a random loopback port and points the
// client at it. The TUI owns the terminal, so server logs are discarded.
func runLocalMode(ctx context.Context, configPath string, clientCfg app.ClientConfig) error {
	cfg, err := app.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Addr = "127.0.0.1:0"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), cfg.Path)
	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	return fmt.Sprintf("ws://%s%s", addr, app.NormalizeJoinPath(path))
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
