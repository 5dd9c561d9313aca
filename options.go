package sympai

import (
	"log/slog"
	"net/http"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithConfig applies a full Config.
func WithConfig(cfg Config) ClientOption {
	return func(c *Client) {
		cfg.normalize()
		c.cfg = cfg
	}
}

// WithBackendURL sets the dashboard API base URL.
func WithBackendURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.cfg.BackendURL = normalizeBackendURL(baseURL)
	}
}

// WithToken sets the bearer token used for API calls and the realtime
// connection.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithUserID attaches the patient's user id to realtime connections.
func WithUserID(userID string) ClientOption {
	return func(c *Client) {
		c.userID = userID
	}
}

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAudioPlayer installs the playback pipeline for inbound assistant
// audio. Without one, binary frames are dropped.
func WithAudioPlayer(player AudioPlayer) ClientOption {
	return func(c *Client) {
		if player != nil {
			c.audio = player
		}
	}
}

// WithNoticeHandler registers a callback invoked for every user-facing
// notice, in addition to the Notices channel.
func WithNoticeHandler(fn func(Notice)) ClientOption {
	return func(c *Client) {
		c.noticeCallback = fn
	}
}
