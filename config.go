package sympai

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds client settings, loadable from a YAML file with
// environment overrides.
type Config struct {
	// BackendURL is the dashboard API base URL.
	BackendURL string `yaml:"backend_url"`

	// Language is the default consultation language code.
	Language string `yaml:"language"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// AudioSampleRate is the playback sample rate in Hz for inbound
	// assistant audio.
	AudioSampleRate int `yaml:"audio_sample_rate"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BackendURL:       "http://localhost:8000",
		Language:         DefaultLanguage,
		HandshakeTimeout: 10 * time.Second,
		AudioSampleRate:  24000,
	}
}

// LoadConfig reads a YAML config file and applies environment
// overrides on top. A missing file is not an error; defaults plus the
// environment apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// ConfigFromEnv builds a Config from defaults plus environment
// variables, loading a .env file when present.
func ConfigFromEnv() Config {
	_ = godotenv.Load()
	cfg := DefaultConfig()
	cfg.applyEnv()
	cfg.normalize()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SYMPAI_BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv("SYMPAI_LANGUAGE"); v != "" {
		c.Language = v
	}
}

func (c *Config) normalize() {
	c.BackendURL = normalizeBackendURL(c.BackendURL)
	c.Language = NormalizeLanguage(c.Language)
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.AudioSampleRate <= 0 {
		c.AudioSampleRate = 24000
	}
}

// normalizeBackendURL strips stray quotes, whitespace and trailing
// slashes, falling back to the local development backend.
func normalizeBackendURL(value string) string {
	trimmed := strings.Trim(strings.TrimSpace(value), `'"`)
	trimmed = strings.TrimRight(trimmed, "/")
	if trimmed == "" {
		return "http://localhost:8000"
	}
	return trimmed
}

// websocketBaseURL derives the realtime endpoint base from the backend
// URL: http becomes ws, https becomes wss.
func websocketBaseURL(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}
