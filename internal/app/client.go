package app

import (
	"errors"
	"fmt"
	"net/url"

	intrnl "roomrelay/internal"
)

// RunClient validates the websocket URL and launches the Bubble Tea TUI.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	parsed, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("server URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("server URL must use ws:// or wss://, got %q", parsed.Scheme)
	}
	return intrnl.RunClient(cfg.ServerURL, cfg.RoomKey, cfg.Username)
}
