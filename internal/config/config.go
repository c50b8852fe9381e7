// Package config loads the CLI configuration from flags, environment
// variables and defaults, in that priority order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Default configuration values
const (
	DefaultServer       = "localhost:8080"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultTURN         = "" // optional
	DefaultTURNUser     = ""
	DefaultTURNPass     = ""
	DefaultTransport    = "push"
	DefaultPollInterval = 2 * time.Second
)

// Config holds application configuration.
type Config struct {
	// Server is the coordinator host[:port].
	Server string

	// WebSocketURL and BaseURL are constructed from Server.
	WebSocketURL string
	BaseURL      string

	// Transport selects how the CLI talks to the coordinator: "push"
	// (websocket) or "poll" (HTTP).
	Transport    string
	PollInterval time.Duration

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// OutputDir is where fetched files land.
	OutputDir string
}

// Options for loading config with CLI flag overrides.
type Options struct {
	Server       string
	Transport    string
	PollInterval time.Duration
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	OutputDir    string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := opts.Server
	if server == "" {
		server = os.Getenv("PEERDROP_SERVER")
	}
	if server == "" {
		server = DefaultServer
	}

	transport := opts.Transport
	if transport == "" {
		transport = os.Getenv("PEERDROP_TRANSPORT")
	}
	if transport == "" {
		transport = DefaultTransport
	}
	if transport != "push" && transport != "poll" {
		return nil, fmt.Errorf("invalid transport %q: must be push or poll", transport)
	}

	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		if v := os.Getenv("PEERDROP_POLL_INTERVAL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid PEERDROP_POLL_INTERVAL %q: %w", v, err)
			}
			pollInterval = d
		}
	}
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}

	stunServer := opts.STUNServer
	if stunServer == "" {
		stunServer = os.Getenv("STUN_SERVER")
	}
	if stunServer == "" {
		stunServer = DefaultSTUN
	}

	turnServer := opts.TURNServer
	if turnServer == "" {
		turnServer = os.Getenv("TURN_SERVER")
	}
	if turnServer == "" {
		turnServer = DefaultTURN
	}

	turnUser := opts.TURNUser
	if turnUser == "" {
		turnUser = os.Getenv("TURN_USERNAME")
	}
	if turnUser == "" {
		turnUser = DefaultTURNUser
	}

	turnPass := opts.TURNPass
	if turnPass == "" {
		turnPass = os.Getenv("TURN_PASSWORD")
	}
	if turnPass == "" {
		turnPass = DefaultTURNPass
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = os.Getenv("PEERDROP_OUTPUT_DIR")
	}

	// Bare host:port means a local/dev server without TLS.
	wsScheme, httpScheme := "wss", "https"
	if strings.HasPrefix(server, "localhost") || strings.HasPrefix(server, "127.0.0.1") {
		wsScheme, httpScheme = "ws", "http"
	}

	return &Config{
		Server:       server,
		WebSocketURL: fmt.Sprintf("%s://%s/ws", wsScheme, server),
		BaseURL:      fmt.Sprintf("%s://%s", httpScheme, server),
		Transport:    transport,
		PollInterval: pollInterval,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
		OutputDir:    outputDir,
	}, nil
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
