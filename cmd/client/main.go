package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"roomrelay/internal/app"
)

const defaultServerURL = "ws://localhost:3001/join"

func main() {
	cfg, err := parseClientArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "roomrelay-client: %v\n", err)
		os.Exit(1)
	}
}

// parseClientArgs reads flags and the optional room argument. Flag defaults
// come from ROOMRELAY_SERVER and ROOMRELAY_USER.
func parseClientArgs(args []string, output io.Writer) (app.ClientConfig, error) {
	flags := flag.NewFlagSet("roomrelay-client", flag.ContinueOnError)
	flags.SetOutput(output)
	serverURL := flags.String("server", envOrDefault("ROOMRELAY_SERVER", defaultServerURL), "relay websocket endpoint (ws:// or wss://)")
	username := flags.String("user", envOrDefault("ROOMRELAY_USER", ""), "display name shown to the room; prompted for when empty")
	flags.Usage = func() {
		fmt.Fprintln(output, "usage: roomrelay-client [-server URL] [-user NAME] [ROOM]")
		fmt.Fprintln(output, "Joins ROOM on the relay, or prompts for a room id (/new creates one).")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return app.ClientConfig{}, err
	}
	if flags.NArg() > 1 {
		flags.Usage()
		return app.ClientConfig{}, fmt.Errorf("expected at most one room, got %d arguments", flags.NArg())
	}
	return app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
		RoomKey:   flags.Arg(0),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
