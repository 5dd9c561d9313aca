// Package sympai is the client SDK for the SympAI patient dashboard:
// session management over the dashboard REST API plus a realtime
// assistant channel carrying streamed replies and voice audio.
package sympai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sympai/sympai-go/internal/httpclient"
	"github.com/sympai/sympai-go/obs"
)

// AudioPlayer consumes inbound assistant audio chunks for playback.
// The audio package provides the real implementation; tests use fakes.
type AudioPlayer interface {
	// Enqueue decodes a binary audio chunk and queues it for playback.
	Enqueue(chunk []byte)

	// Reset stops playback and discards everything queued.
	Reset()

	// Speaking reports whether a buffer is actively playing.
	Speaking() bool
}

// noopAudioPlayer drops all audio.
type noopAudioPlayer struct{}

func (noopAudioPlayer) Enqueue([]byte) {}
func (noopAudioPlayer) Reset()         {}
func (noopAudioPlayer) Speaking() bool { return false }

// Client is the entry point for the SympAI dashboard: it owns the
// session store, the realtime connection and the report tracker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.RWMutex
	token  string
	userID string

	store   *sessionStore
	streams *streamTable
	reports *reportTracker
	audio   AudioPlayer

	noticeCallback func(Notice)
	notices        *noticeSink

	live *liveSession

	loadingSessions atomic.Bool
	creatingSession atomic.Bool

	lastErr atomic.Value // string
}

// NewClient constructs a Client. With no options it targets the local
// development backend and expects SetToken before any API call.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		store:   newSessionStore(),
		streams: newStreamTable(),
		reports: newReportTracker(),
		audio:   noopAudioPlayer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.New(httpclient.WithTimeout(c.cfg.HandshakeTimeout * 3))
	}
	c.notices = newNoticeSink(c.noticeCallback)
	c.live = newLiveSession(c)
	return c
}

// SetToken installs or replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearAuth drops the token and wipes all authenticated client state:
// sessions, in-flight streams and queued audio. An open realtime
// connection is closed with the auth-lost reason so it will not retry.
func (c *Client) ClearAuth() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	c.live.closeForAuthLoss()
	c.store.clear()
	c.streams.clear()
	c.audio.Reset()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) currentUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Notices returns the channel of user-facing notices.
func (c *Client) Notices() <-chan Notice {
	return c.notices.Notices()
}

// LastError returns the most recent API error message, or "".
func (c *Client) LastError() string {
	if v, ok := c.lastErr.Load().(string); ok {
		return v
	}
	return ""
}

func (c *Client) setLastError(message string) {
	c.lastErr.Store(message)
}

// Sessions returns the ordered summary list, most recently updated
// first.
func (c *Client) Sessions() []SessionSummary {
	return c.store.list()
}

// GetSession returns the locally cached detail for a session, or nil.
func (c *Client) GetSession(sessionID string) *Session {
	return c.store.get(sessionID)
}

// SessionLoading reports whether a detail fetch for the session is in
// flight.
func (c *Client) SessionLoading(sessionID string) bool {
	return c.store.isLoading(sessionID)
}

// StreamingReply returns the assistant's in-progress reply for a
// session, or nil.
func (c *Client) StreamingReply(sessionID string) *AssistantStream {
	return c.streams.get(sessionID)
}

// ActiveStreams returns all in-progress assistant replies by session.
func (c *Client) ActiveStreams() map[string]*AssistantStream {
	return c.streams.snapshot()
}

// GetReport returns the stored report for a session, or nil.
func (c *Client) GetReport(sessionID string) *Report {
	return c.reports.get(sessionID)
}

// LatestReport returns the unacknowledged report notification, or nil.
func (c *Client) LatestReport() *LatestReport {
	return c.reports.peekLatest()
}

// AcknowledgeLatestReport clears the report notification. The report
// itself remains available through GetReport.
func (c *Client) AcknowledgeLatestReport() {
	c.reports.acknowledge()
}

// AssistantSpeaking reports whether assistant audio is playing now.
func (c *Client) AssistantSpeaking() bool {
	return c.audio.Speaking()
}

// SocketState returns the realtime connection state.
func (c *Client) SocketState() SocketState {
	return c.live.state()
}

// Close tears down the realtime connection and the audio pipeline.
func (c *Client) Close() {
	c.live.disconnect()
	c.audio.Reset()
}

// --- REST API ---

type apiEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// LoadSessions fetches the session summary list and replaces the local
// one, merging each row into the detail map without discarding message
// histories already loaded.
func (c *Client) LoadSessions(ctx context.Context) ([]SessionSummary, error) {
	if c.currentToken() == "" {
		return nil, ErrNoToken
	}
	if !c.loadingSessions.CompareAndSwap(false, true) {
		return c.store.list(), nil
	}
	defer c.loadingSessions.Store(false)

	c.setLastError("")

	var payload struct {
		apiEnvelope
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &payload); err != nil {
		c.reportAPIError(err)
		return nil, err
	}

	c.store.replaceSummaries(payload.Sessions)
	return c.store.list(), nil
}

// FetchSession returns the full session detail. With force=false a
// session whose messages are already loaded is served from the cache
// without a request; force=true always refetches.
func (c *Client) FetchSession(ctx context.Context, sessionID string, force bool) (*Session, error) {
	if c.currentToken() == "" {
		return nil, ErrNoToken
	}
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	if !force && c.store.hasMessages(sessionID) {
		return c.store.get(sessionID), nil
	}

	c.store.setLoading(sessionID, true)
	defer c.store.setLoading(sessionID, false)

	var payload struct {
		apiEnvelope
		Session *Session `json:"session"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+sessionID, nil, &payload); err != nil {
		c.reportAPIError(err)
		return nil, err
	}
	if payload.Session == nil {
		err := &APIError{Op: "fetch session", Message: "empty session in response"}
		c.reportAPIError(err)
		return nil, err
	}

	c.store.upsertDetail(payload.Session)
	return c.store.get(sessionID), nil
}

// CreateSessionParams configures CreateSession.
type CreateSessionParams struct {
	Language string
	Title    string
}

// CreateSession starts a new consultation. At most one creation may be
// pending at a time; a second concurrent call fails fast without any
// network I/O.
func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (*SessionSummary, error) {
	if c.currentToken() == "" {
		c.notices.publish(NoticeError, "Please log in to start a chat.")
		return nil, ErrNoToken
	}
	if !c.creatingSession.CompareAndSwap(false, true) {
		return nil, ErrCreateInFlight
	}
	defer c.creatingSession.Store(false)

	c.setLastError("")

	body := map[string]string{
		"language": NormalizeLanguage(params.Language),
	}
	if title := strings.TrimSpace(params.Title); title != "" {
		body["title"] = title
	}

	var payload struct {
		apiEnvelope
		SessionID string        `json:"sessionId"`
		Language  string        `json:"language"`
		Status    SessionStatus `json:"status"`
		CreatedAt time.Time     `json:"createdAt"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", body, &payload); err != nil {
		c.reportAPIError(err)
		return nil, err
	}

	summary := SessionSummary{
		SessionID:    payload.SessionID,
		Language:     NormalizeLanguage(payload.Language),
		Status:       payload.Status,
		Title:        inferTitle(payload.SessionID, params.Title, payload.CreatedAt),
		Preview:      "",
		UpdatedAt:    payload.CreatedAt,
		CreatedAt:    payload.CreatedAt,
		MessageCount: 0,
	}
	if summary.Status == "" {
		summary.Status = SessionActive
	}
	c.store.insertCreated(summary)
	return &summary, nil
}

// ReportRecord is one row of the report listing.
type ReportRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Report    *Report   `json:"report,omitempty"`
}

// ListReports fetches the patient's consultation reports.
func (c *Client) ListReports(ctx context.Context) ([]ReportRecord, error) {
	if c.currentToken() == "" {
		return nil, ErrNoToken
	}
	var payload struct {
		apiEnvelope
		Reports []ReportRecord `json:"reports"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/reports", nil, &payload); err != nil {
		c.reportAPIError(err)
		return nil, err
	}
	return payload.Reports, nil
}

// FetchReport fetches the report for one session and stores it for
// GetReport.
func (c *Client) FetchReport(ctx context.Context, sessionID string) (*Report, error) {
	if c.currentToken() == "" {
		return nil, ErrNoToken
	}
	var payload struct {
		apiEnvelope
		Report *Report `json:"report"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/reports/"+sessionID, nil, &payload); err != nil {
		c.reportAPIError(err)
		return nil, err
	}
	if payload.Report != nil {
		c.reports.store(sessionID, payload.Report)
	}
	return payload.Report, nil
}

func (env apiEnvelope) envelope() apiEnvelope { return env }

// doJSON performs one authenticated API round trip and decodes the
// response envelope. success=false is an error carrying the server's
// message.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out interface {
	envelope() apiEnvelope
}) error {
	op := fmt.Sprintf("%s %s", method, path)

	ctx, span := obs.Tracer().Start(ctx, "sympai.api")
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)
	defer span.End()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &APIError{Op: op, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BackendURL+path, reader)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.currentToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if err := json.Unmarshal(data, out); err != nil {
		span.SetStatus(codes.Error, "decode response")
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	env := out.envelope()
	if resp.StatusCode >= 400 || !env.Success {
		span.SetStatus(codes.Error, env.Message)
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}
	return nil
}

// reportAPIError records the failure locally and surfaces a notice.
func (c *Client) reportAPIError(err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.setLastError(apiErr.Notice())
		c.notices.publish(NoticeError, apiErr.Notice())
		c.logger.Warn("api call failed", "op", apiErr.Op, "status", apiErr.StatusCode, "err", err)
		return
	}
	c.setLastError(err.Error())
	c.notices.publish(NoticeError, err.Error())
	c.logger.Warn("api call failed", "err", err)
}
