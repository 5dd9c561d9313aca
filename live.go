package sympai

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sympai/sympai-go/obs"
)

const (
	// closeReasonManual marks an intentional disconnect; the retry
	// branch must not fire for it.
	closeReasonManual = "manual-close"

	// closeReasonAuthLost marks a close forced by losing the token.
	closeReasonAuthLost = "auth-lost"

	// closeCodeAuthFailed is the application close code the server
	// uses for authentication failures.
	closeCodeAuthFailed = 4401
)

// reconnectDelay is the fixed backoff before the single automatic
// reconnect attempt. Variable so tests can shorten it.
var reconnectDelay = 2 * time.Second

// liveSession owns the one realtime connection a client may hold. It
// is bound to at most one session id at a time; connecting elsewhere
// tears the previous connection down first.
type liveSession struct {
	client *Client

	mu              sync.Mutex
	conn            *websocket.Conn
	activeSessionID string
	socketState     SocketState
	reconnectTimer  *time.Timer
	// epoch identifies the current connection; read loops from
	// superseded connections compare against it and stand down.
	epoch uint64

	writeMu sync.Mutex
}

func newLiveSession(client *Client) *liveSession {
	return &liveSession{
		client:      client,
		socketState: SocketState{Status: SocketIdle},
	}
}

func (l *liveSession) state() SocketState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.socketState
}

func (l *liveSession) setState(status SocketStatus, errMsg string) {
	l.mu.Lock()
	l.socketState = SocketState{Status: status, Error: errMsg}
	l.mu.Unlock()
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	// Language overrides the session's stored language code.
	Language string
}

// Connect opens the realtime connection for a session. Connecting to
// the session the socket is already bound to is a no-op; anything else
// disconnects first. A non-manual connection loss schedules exactly
// one automatic reconnect attempt.
func (c *Client) Connect(ctx context.Context, sessionID string, opts ConnectOptions) error {
	return c.live.connect(ctx, sessionID, opts.Language, false)
}

// Disconnect closes the realtime connection, cancels any pending
// reconnect, clears in-flight streams and resets audio playback.
func (c *Client) Disconnect() {
	c.live.disconnect()
}

func (l *liveSession) connect(ctx context.Context, sessionID, language string, retry bool) error {
	token := l.client.currentToken()
	if token == "" {
		return ErrNoToken
	}
	if sessionID == "" {
		return ErrSessionNotFound
	}

	l.mu.Lock()
	if l.conn != nil && l.socketState.Status == SocketOpen && l.activeSessionID == sessionID {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	l.disconnect()

	if language == "" {
		language = l.client.store.language(sessionID)
	}
	language = NormalizeLanguage(language)

	wsURL, err := l.buildURL(sessionID, language, token)
	if err != nil {
		l.setState(SocketErrored, err.Error())
		l.client.notices.publish(NoticeError, "Unable to open realtime connection.")
		return &SocketError{Err: err}
	}

	l.setState(SocketConnecting, "")

	// connID correlates log lines and spans across the connection's
	// lifetime.
	connID := uuid.NewString()

	_, span := obs.Tracer().Start(ctx, "sympai.realtime.connect")
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("connection.id", connID),
	)
	defer span.End()

	dialer := websocket.Dialer{HandshakeTimeout: l.client.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		l.setState(SocketErrored, fmt.Sprintf("websocket dial: %v", err))
		l.client.notices.publish(NoticeError, "Unable to open realtime connection.")
		return &SocketError{Err: err}
	}

	l.mu.Lock()
	l.conn = conn
	l.activeSessionID = sessionID
	l.epoch++
	epoch := l.epoch
	l.socketState = SocketState{Status: SocketOpen}
	l.mu.Unlock()

	l.client.logger.Info("realtime connected", "conn", connID, "session", sessionID, "language", language)
	go l.readLoop(conn, connID, sessionID, language, retry, epoch)
	return nil
}

func (l *liveSession) buildURL(sessionID, language, token string) (string, error) {
	base, err := websocketBaseURL(l.client.cfg.BackendURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", token)
	q.Set("sessionId", sessionID)
	q.Set("language", language)
	if userID := l.client.currentUserID(); userID != "" {
		q.Set("user", userID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop drains one connection, routing binary frames to the audio
// pipeline and JSON frames to the dispatcher. It also owns the close
// handling for its connection.
func (l *liveSession) readLoop(conn *websocket.Conn, connID, sessionID, language string, retry bool, epoch uint64) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			l.handleConnectionLost(err, connID, sessionID, language, retry, epoch)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			l.client.audio.Enqueue(data)
		case websocket.TextMessage:
			frame, err := decodeFrame(data)
			if err != nil {
				l.client.logger.Warn("dropping malformed frame", "err", err)
				continue
			}
			l.client.handleFrame(frame)
		}
	}
}

// handleConnectionLost runs when a read loop exits. A teardown we
// initiated bumps the epoch first, so a stale loop returns without
// touching state. A remote close updates state and, unless the close
// was intentional, auth-related or this connection was already the
// retry attempt, schedules the single reconnect.
func (l *liveSession) handleConnectionLost(err error, connID, sessionID, language string, retry bool, epoch uint64) {
	l.mu.Lock()
	if l.epoch != epoch {
		l.mu.Unlock()
		return
	}
	l.conn = nil

	code := -1 // abnormal closure with no close frame
	reason := ""
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	}

	errMsg := ""
	if code == closeCodeAuthFailed {
		errMsg = "Realtime authentication failed."
	}
	l.socketState = SocketState{Status: SocketClosed, Error: errMsg}

	shouldRetry := l.client.currentToken() != "" &&
		!retry &&
		code != websocket.CloseNormalClosure &&
		reason != closeReasonManual &&
		reason != closeReasonAuthLost &&
		code != closeCodeAuthFailed
	l.mu.Unlock()

	l.client.logger.Info("realtime connection lost", "conn", connID, "session", sessionID, "code", code, "reason", reason, "retry", shouldRetry)

	if shouldRetry {
		l.scheduleReconnect(sessionID, language)
	}
}

// scheduleReconnect arms the single reconnect timer, replacing any
// pending one.
func (l *liveSession) scheduleReconnect(sessionID, language string) {
	l.mu.Lock()
	if l.reconnectTimer != nil {
		l.reconnectTimer.Stop()
	}
	l.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		if err := l.connect(context.Background(), sessionID, language, true); err != nil {
			l.client.logger.Warn("reconnect attempt failed", "session", sessionID, "err", err)
		}
	})
	l.mu.Unlock()
}

// disconnect tears the connection down intentionally: pending
// reconnects are cancelled, the socket closes with the manual reason,
// stream state and audio playback are flushed.
func (l *liveSession) disconnect() {
	l.closeWithReason(closeReasonManual)
	l.client.streams.clear()
	l.client.audio.Reset()
}

// closeForAuthLoss closes the socket because the token went away. The
// reason suppresses the retry branch on the server-echoed close.
func (l *liveSession) closeForAuthLoss() {
	l.closeWithReason(closeReasonAuthLost)
}

func (l *liveSession) closeWithReason(reason string) {
	l.mu.Lock()
	if l.reconnectTimer != nil {
		l.reconnectTimer.Stop()
		l.reconnectTimer = nil
	}
	conn := l.conn
	l.conn = nil
	l.activeSessionID = ""
	l.epoch++
	l.socketState = SocketState{Status: SocketClosed}
	l.mu.Unlock()

	if conn != nil {
		l.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		l.writeMu.Unlock()
		_ = conn.Close()
	}
}

// boundConn returns the open connection if it is bound to sessionID.
func (l *liveSession) boundConn(sessionID string) (*websocket.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil || l.socketState.Status != SocketOpen {
		return nil, ErrNotConnected
	}
	if l.activeSessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	return l.conn, nil
}

func (l *liveSession) sendJSON(conn *websocket.Conn, v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// --- Outbound operations ---

// SendText sends a user text message over the realtime channel.
// Precondition failures surface a notice and no I/O happens.
func (c *Client) SendText(sessionID, text string) error {
	conn, err := c.live.boundConn(sessionID)
	if err != nil {
		c.notices.publish(NoticeError, sendPreconditionNotice(err))
		return err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		c.notices.publish(NoticeError, "Write a message before sending.")
		return ErrEmptyMessage
	}

	return c.live.sendJSON(conn, userTextMessage{Type: frameUserText, Text: trimmed})
}

// BeginAudioStream announces that binary microphone chunks follow.
func (c *Client) BeginAudioStream(sessionID string) error {
	conn, err := c.live.boundConn(sessionID)
	if err != nil {
		c.notices.publish(NoticeError, sendPreconditionNotice(err))
		return err
	}
	return c.live.sendJSON(conn, audioMarkerMessage{Type: frameAudioChunkStart})
}

// SendAudioChunk streams one binary audio chunk. Precondition failures
// are silent so a recording in progress does not spam the user; empty
// chunks are skipped.
func (c *Client) SendAudioChunk(sessionID string, chunk []byte) error {
	conn, err := c.live.boundConn(sessionID)
	if err != nil {
		return err
	}
	if len(chunk) == 0 {
		return nil
	}

	c.live.writeMu.Lock()
	err = conn.WriteMessage(websocket.BinaryMessage, chunk)
	c.live.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("audio chunk send failed", "session", sessionID, "err", err)
		c.notices.publish(NoticeError, "Unable to send audio chunk.")
	}
	return err
}

// EndAudioStream closes the microphone chunk stream.
func (c *Client) EndAudioStream(sessionID string) error {
	conn, err := c.live.boundConn(sessionID)
	if err != nil {
		c.notices.publish(NoticeError, sendPreconditionNotice(err))
		return err
	}
	return c.live.sendJSON(conn, audioMarkerMessage{Type: frameAudioChunkEnd})
}

// EndSession asks the server to finish the consultation and produce
// the report.
func (c *Client) EndSession(sessionID string) error {
	conn, err := c.live.boundConn(sessionID)
	if err != nil {
		c.notices.publish(NoticeError, sendPreconditionNotice(err))
		return err
	}
	return c.live.sendJSON(conn, endConsultationMessage{Type: frameEndConsultation})
}

func sendPreconditionNotice(err error) string {
	if errors.Is(err, ErrSessionMismatch) {
		return "You're not connected to this session yet."
	}
	return "Connection not ready. Please try again."
}

// --- Inbound dispatch ---

// handleFrame applies one inbound control frame. The switch is
// exhaustive over the closed frame set; unknown frame types fall
// through to a logged no-op.
func (c *Client) handleFrame(frame Frame) {
	switch f := frame.(type) {
	case *SessionSnapshotFrame:
		c.store.upsertDetail(f.Session)

	case *StreamStartFrame:
		c.audio.Reset()
		c.streams.start(f.SessionID, f.MessageID, f.Language)

	case *StreamDeltaFrame:
		c.streams.appendDelta(f.SessionID, f.MessageID, f.Delta)

	case *StreamRetrievalFrame:
		c.streams.setRetrievals(f.SessionID, f.MessageID, f.Documents)

	case *StreamCompleteFrame:
		c.streams.complete(f.SessionID, f.MessageID, f.Text, f.Retrievals)

	case *StreamCancelledFrame:
		c.streams.remove(f.SessionID, f.MessageID)

	case *StreamErrorFrame:
		if f.Error != "" {
			c.notices.publish(NoticeError, f.Error)
		}
		c.streams.remove(f.SessionID, f.MessageID)

	case *StreamMetadataFrame:
		// Currently unused on the client.

	case *AudioErrorFrame:
		if f.Error != "" {
			c.notices.publish(NoticeError, f.Error)
		}

	case *ReportReadyFrame:
		if f.Report != nil {
			c.reports.store(f.SessionID, f.Report)
			c.notices.publish(NoticeSuccess, "Consultation summary is ready.")
		}

	case *ChatMessageFrame:
		if f.Message == nil {
			return
		}
		c.store.applyMessage(f.SessionID, *f.Message)
		if f.Message.Role == RoleAssistant && f.Message.Payload != nil && f.Message.Payload.StreamID != "" {
			c.streams.supersede(f.SessionID, f.Message.Payload.StreamID)
		}

	case *ConsultationStatusFrame:
		c.store.setStatus(f.SessionID, f.Status)
		if f.Report != nil {
			c.reports.store(f.SessionID, f.Report)
		}

	case *ErrorFrame:
		message := f.Message
		if message == "" {
			message = "Realtime error."
		}
		c.notices.publish(NoticeError, message)

	case KeepaliveFrame:
		// pong/ack, nothing to do.

	case UnknownFrame:
		c.logger.Debug("ignoring unknown frame", "type", f.Type)
	}
}
