package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	intrnl "roomrelay/internal"
)

// Default values for optional configuration fields.
const (
	DefaultPort            = "3001"
	DefaultPath            = "/join"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultShutdownTimeout = 10 * time.Second
)

// ServerConfig defines how the HTTP/WebSocket relay should run.
type ServerConfig struct {
	Addr           string         `yaml:"addr"`
	Path           string         `yaml:"path"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	Log            LogConfig      `yaml:"log"`
	Limits         LimitsConfig   `yaml:"limits"`
	Timeouts       TimeoutsConfig `yaml:"timeouts"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LimitsConfig bounds per-connection resources. MessageRate is in messages
// per second; a negative value disables rate limiting.
type LimitsConfig struct {
	SendBuffer     int     `yaml:"send_buffer"`
	MaxMessageSize int64   `yaml:"max_message_size"`
	MessageRate    float64 `yaml:"message_rate"`
	MessageBurst   int     `yaml:"message_burst"`
}

type TimeoutsConfig struct {
	WriteWait time.Duration `yaml:"write_wait"`
	PongWait  time.Duration `yaml:"pong_wait"`
	Shutdown  time.Duration `yaml:"shutdown"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
	RoomKey   string
}

// LoadServerConfig reads an optional YAML file, expands ${VAR} references,
// applies environment overrides and defaults, then validates.
func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return ServerConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// PORT is what hosting platforms hand us; ROOMRELAY_ADDR wins over it.
func (c *ServerConfig) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	if addr := os.Getenv("ROOMRELAY_ADDR"); addr != "" {
		c.Addr = addr
	}
	if path := os.Getenv("ROOMRELAY_PATH"); path != "" {
		c.Path = path
	}
	if origins := os.Getenv("ROOMRELAY_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}
	if level := os.Getenv("ROOMRELAY_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *ServerConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":" + DefaultPort
	}
	c.Path = NormalizeJoinPath(c.Path)
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Limits.SendBuffer == 0 {
		c.Limits.SendBuffer = intrnl.DefaultSendBuffer
	}
	if c.Limits.MaxMessageSize == 0 {
		c.Limits.MaxMessageSize = intrnl.DefaultMaxMessageSize
	}
	if c.Limits.MessageBurst == 0 {
		c.Limits.MessageBurst = intrnl.DefaultMessageBurst
	}
	if c.Timeouts.WriteWait == 0 {
		c.Timeouts.WriteWait = intrnl.DefaultWriteWait
	}
	if c.Timeouts.PongWait == 0 {
		c.Timeouts.PongWait = intrnl.DefaultPongWait
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = DefaultShutdownTimeout
	}
}

// Validate checks that all values are usable.
func (c *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("addr %q is invalid: %w", c.Addr, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Limits.SendBuffer < 1 {
		return errors.New("limits.send_buffer must be >= 1")
	}
	if c.Limits.MaxMessageSize < 1 {
		return errors.New("limits.max_message_size must be >= 1")
	}
	if c.Limits.MessageBurst < 1 {
		return errors.New("limits.message_burst must be >= 1")
	}
	if c.Timeouts.WriteWait < 0 || c.Timeouts.PongWait < 0 || c.Timeouts.Shutdown < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Options maps the file-level config onto the relay's options.
func (c ServerConfig) Options() intrnl.ServerOptions {
	var messageRate rate.Limit
	if c.Limits.MessageRate != 0 {
		messageRate = rate.Limit(c.Limits.MessageRate)
	}
	return intrnl.ServerOptions{
		AllowedOrigins: c.AllowedOrigins,
		SendBuffer:     c.Limits.SendBuffer,
		MaxMessageSize: c.Limits.MaxMessageSize,
		MessageRate:    messageRate,
		MessageBurst:   c.Limits.MessageBurst,
		WriteWait:      c.Timeouts.WriteWait,
		PongWait:       c.Timeouts.PongWait,
	}
}

// NewLogger builds the process logger from the log section.
func (c ServerConfig) NewLogger() *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return level, fmt.Errorf("log.level %q is invalid: %w", value, err)
	}
	return level, nil
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return DefaultPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
