package config

import (
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultHost   = "127.0.0.1"
	DefaultPort   = 32146
	DefaultReader = "Sony FeliCa Port/PaSoRi 3.0 0"
)

// Config holds the runtime configuration read from the environment.
type Config struct {
	Host   string
	Port   int
	Reader string

	// AutoStart starts monitoring as soon as the agent is up.
	AutoStart bool
	// MDNS advertises the HTTP API on the local network.
	MDNS bool

	// readerSet and autoStartSet record whether the environment chose the
	// value, so persisted settings only fill the gaps.
	readerSet    bool
	autoStartSet bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Host:   DefaultHost,
		Port:   DefaultPort,
		Reader: DefaultReader,
	}

	if host := strings.TrimSpace(os.Getenv("CARDID_AGENT_HOST")); host != "" {
		cfg.Host = host
	}

	if portStr := os.Getenv("CARDID_AGENT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		}
	}

	if reader := os.Getenv("CARDID_AGENT_READER"); reader != "" {
		cfg.Reader = reader
		cfg.readerSet = true
	}

	if v, ok := parseBool(os.Getenv("CARDID_AGENT_AUTOSTART")); ok {
		cfg.AutoStart = v
		cfg.autoStartSet = true
	}

	if v, ok := parseBool(os.Getenv("CARDID_AGENT_MDNS")); ok {
		cfg.MDNS = v
	}

	return cfg
}

// Address returns the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ApplyDefaults fills the reader and autostart preference from persisted
// settings where the environment left them unset.
func (c *Config) ApplyDefaults(reader string, autoStart bool) {
	if !c.readerSet && reader != "" {
		c.Reader = reader
	}
	if !c.autoStartSet {
		c.AutoStart = autoStart
	}
}

// SetReader overrides the reader, e.g. from a command-line flag.
func (c *Config) SetReader(reader string) {
	c.Reader = reader
	c.readerSet = true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
