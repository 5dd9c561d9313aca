package sympai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockRealtimeServer is a test WebSocket server standing in for the
// dashboard backend's /ws endpoint.
type mockRealtimeServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   []*websocket.Conn
	queries []url.Values

	msgMu    sync.Mutex
	messages [][]byte

	upgrades atomic.Int32
}

func newMockRealtimeServer(t *testing.T) *mockRealtimeServer {
	m := &mockRealtimeServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		m.upgrades.Add(1)
		m.connsMu.Lock()
		m.conns = append(m.conns, conn)
		m.queries = append(m.queries, r.URL.Query())
		m.connsMu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			m.msgMu.Lock()
			m.messages = append(m.messages, data)
			m.msgMu.Unlock()
		}
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockRealtimeServer) Close() {
	m.connsMu.Lock()
	for _, conn := range m.conns {
		conn.Close()
	}
	m.connsMu.Unlock()
	m.server.Close()
}

// conn returns the nth accepted connection, waiting for it to arrive.
func (m *mockRealtimeServer) conn(t *testing.T, n int) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.connsMu.Lock()
		if len(m.conns) > n {
			conn := m.conns[n]
			m.connsMu.Unlock()
			return conn
		}
		m.connsMu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection %d never arrived", n)
	return nil
}

func (m *mockRealtimeServer) query(n int) url.Values {
	m.connsMu.Lock()
	defer m.connsMu.Unlock()
	return m.queries[n]
}

// message returns the nth message the server received, waiting for it.
func (m *mockRealtimeServer) message(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.msgMu.Lock()
		if len(m.messages) > n {
			data := m.messages[n]
			m.msgMu.Unlock()
			return data
		}
		m.msgMu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message %d never arrived", n)
	return nil
}

func waitFor(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

// fakeAudioPlayer records everything the client routes to audio.
type fakeAudioPlayer struct {
	mu     sync.Mutex
	chunks [][]byte
	resets int
}

func (f *fakeAudioPlayer) Enqueue(chunk []byte) {
	f.mu.Lock()
	f.chunks = append(f.chunks, chunk)
	f.mu.Unlock()
}

func (f *fakeAudioPlayer) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeAudioPlayer) Speaking() bool { return false }

func (f *fakeAudioPlayer) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakeAudioPlayer) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func newLiveTestClient(t *testing.T, server *mockRealtimeServer, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{
		WithBackendURL(server.server.URL),
		WithToken("test-token"),
		WithLogger(discardLogger()),
	}
	client := NewClient(append(base, opts...)...)
	t.Cleanup(client.Close)
	return client
}

func TestConnect(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{Language: "ES"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server.conn(t, 0)

	query := server.query(0)
	if query.Get("token") != "test-token" {
		t.Errorf("token = %q", query.Get("token"))
	}
	if query.Get("sessionId") != "s1" {
		t.Errorf("sessionId = %q", query.Get("sessionId"))
	}
	if query.Get("language") != "es" {
		t.Errorf("language = %q, want normalized es", query.Get("language"))
	}
	if state := client.SocketState(); state.Status != SocketOpen {
		t.Errorf("state = %+v, want open", state)
	}
}

func TestConnectSameSessionIsNoOp(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)
	ctx := context.Background()

	if err := client.Connect(ctx, "s1", ConnectOptions{}); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	server.conn(t, 0)

	if err := client.Connect(ctx, "s1", ConnectOptions{}); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if n := server.upgrades.Load(); n != 1 {
		t.Errorf("upgrades = %d, reconnecting to the same session must reuse the socket", n)
	}
}

func TestConnectDifferentSessionReplacesSocket(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)
	ctx := context.Background()

	if err := client.Connect(ctx, "s1", ConnectOptions{}); err != nil {
		t.Fatalf("connect s1: %v", err)
	}
	server.conn(t, 0)
	if err := client.Connect(ctx, "s2", ConnectOptions{}); err != nil {
		t.Fatalf("connect s2: %v", err)
	}
	server.conn(t, 1)

	if got := server.query(1).Get("sessionId"); got != "s2" {
		t.Errorf("second connection sessionId = %q", got)
	}
	if err := client.SendText("s1", "hello"); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("send to old session err = %v, want ErrSessionMismatch", err)
	}
}

func TestConnectRequiresToken(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)
	client.SetToken("")

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestStreamFramesAssembleReply(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	conn.WriteJSON(map[string]any{"type": "assistant_stream_start", "sessionId": "s1", "messageId": "m1", "language": "en"})
	conn.WriteJSON(map[string]any{"type": "assistant_stream_delta", "sessionId": "s1", "messageId": "m1", "delta": "Hello "})
	conn.WriteJSON(map[string]any{"type": "assistant_stream_delta", "sessionId": "s1", "messageId": "m1", "delta": "world"})

	waitFor(t, func() bool {
		reply := client.StreamingReply("s1")
		return reply != nil && reply.Text == "Hello world"
	}, "deltas never assembled")

	conn.WriteJSON(map[string]any{"type": "assistant_stream_complete", "sessionId": "s1", "messageId": "m1"})
	waitFor(t, func() bool {
		reply := client.StreamingReply("s1")
		return reply != nil && reply.IsComplete
	}, "stream never completed")

	if reply := client.StreamingReply("s1"); reply.Text != "Hello world" {
		t.Errorf("completed text = %q", reply.Text)
	}
}

func TestChatMessageFrameUpdatesStore(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	conn.WriteJSON(map[string]any{
		"type": "chat_message", "sessionId": "s1",
		"message": map[string]any{"messageId": "m1", "role": "user", "text": "my knee hurts"},
	})

	waitFor(t, func() bool {
		session := client.GetSession("s1")
		return session != nil && session.HasMessage("m1")
	}, "chat message never landed in the store")
}

func TestAssistantChatMessageSupersedesStream(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	conn.WriteJSON(map[string]any{"type": "assistant_stream_start", "sessionId": "s1", "messageId": "m1"})
	conn.WriteJSON(map[string]any{"type": "assistant_stream_delta", "sessionId": "s1", "messageId": "m1", "delta": "partial"})
	waitFor(t, func() bool { return client.StreamingReply("s1") != nil }, "stream never started")

	conn.WriteJSON(map[string]any{
		"type": "chat_message", "sessionId": "s1",
		"message": map[string]any{
			"messageId": "m1", "role": "assistant", "text": "final text",
			"payload": map[string]any{"streamId": "m1"},
		},
	})

	waitFor(t, func() bool { return client.StreamingReply("s1") == nil }, "persisted message must clear its stream entry")
	session := client.GetSession("s1")
	if session == nil || !session.HasMessage("m1") {
		t.Fatal("persisted assistant message missing from store")
	}
}

func TestReportReadyFrame(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	conn.WriteJSON(map[string]any{
		"type": "report_ready", "sessionId": "s1",
		"report": map[string]any{"title": "Consultation Report"},
	})

	waitFor(t, func() bool { return client.LatestReport() != nil }, "report notification never arrived")
	if latest := client.LatestReport(); latest.SessionID != "s1" {
		t.Errorf("latest = %+v", latest)
	}
	if client.GetReport("s1") == nil {
		t.Error("report must be stored for GetReport")
	}

	select {
	case notice := <-client.Notices():
		if notice.Level != NoticeSuccess || notice.Text != "Consultation summary is ready." {
			t.Errorf("notice = %+v", notice)
		}
	default:
		t.Error("expected a success notice")
	}
}

func TestBinaryFramesRouteToAudio(t *testing.T) {
	server := newMockRealtimeServer(t)
	player := &fakeAudioPlayer{}
	client := newLiveTestClient(t, server, WithAudioPlayer(player))

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03, 0x04})
	waitFor(t, func() bool { return player.chunkCount() == 1 }, "binary frame never reached the audio player")
}

func TestSendText(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server.conn(t, 0)

	if err := client.SendText("s1", "  hello there  "); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	var sent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(server.message(t, 0), &sent); err != nil {
		t.Fatalf("decode sent message: %v", err)
	}
	if sent.Type != "user_text" || sent.Text != "hello there" {
		t.Errorf("sent = %+v, text must be trimmed", sent)
	}
}

func TestSendTextPreconditions(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.SendText("s1", "hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	select {
	case notice := <-client.Notices():
		if notice.Text != "Connection not ready. Please try again." {
			t.Errorf("notice = %q", notice.Text)
		}
	default:
		t.Error("expected a not-ready notice")
	}

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server.conn(t, 0)

	if err := client.SendText("s1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	select {
	case notice := <-client.Notices():
		if notice.Text != "Write a message before sending." {
			t.Errorf("notice = %q", notice.Text)
		}
	default:
		t.Error("expected an empty-message notice")
	}
}

func TestSendAudioChunkSilentWhenDisconnected(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.SendAudioChunk("s1", []byte{0x01}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	select {
	case notice := <-client.Notices():
		t.Errorf("audio chunk precondition must not notify, got %+v", notice)
	default:
	}
}

func TestAudioMarkers(t *testing.T) {
	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server.conn(t, 0)

	if err := client.BeginAudioStream("s1"); err != nil {
		t.Fatalf("BeginAudioStream: %v", err)
	}
	if err := client.SendAudioChunk("s1", []byte{0x01, 0x02}); err != nil {
		t.Fatalf("SendAudioChunk: %v", err)
	}
	if err := client.EndAudioStream("s1"); err != nil {
		t.Fatalf("EndAudioStream: %v", err)
	}

	var start struct {
		Type string `json:"type"`
	}
	json.Unmarshal(server.message(t, 0), &start)
	if start.Type != "user_audio_chunk_start" {
		t.Errorf("first message type = %q", start.Type)
	}

	if chunk := server.message(t, 1); len(chunk) != 2 {
		t.Errorf("chunk = %v", chunk)
	}

	var end struct {
		Type string `json:"type"`
	}
	json.Unmarshal(server.message(t, 2), &end)
	if end.Type != "user_audio_chunk_end" {
		t.Errorf("last message type = %q", end.Type)
	}
}

func TestDisconnectClearsState(t *testing.T) {
	server := newMockRealtimeServer(t)
	player := &fakeAudioPlayer{}
	client := newLiveTestClient(t, server, WithAudioPlayer(player))

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	conn.WriteJSON(map[string]any{"type": "assistant_stream_start", "sessionId": "s1", "messageId": "m1"})
	waitFor(t, func() bool { return client.StreamingReply("s1") != nil }, "stream never started")

	client.Disconnect()

	if state := client.SocketState(); state.Status != SocketClosed {
		t.Errorf("state = %+v, want closed", state)
	}
	if client.StreamingReply("s1") != nil {
		t.Error("disconnect must clear in-flight streams")
	}
	if player.resetCount() == 0 {
		t.Error("disconnect must reset audio playback")
	}
	if err := client.SendText("s1", "hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after disconnect err = %v, want ErrNotConnected", err)
	}
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	saved := reconnectDelay
	reconnectDelay = 20 * time.Millisecond
	defer func() { reconnectDelay = saved }()

	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	// Drop the connection without a close frame, as a crashed backend
	// would.
	conn.Close()

	waitFor(t, func() bool { return server.upgrades.Load() == 2 }, "reconnect never attempted")
	waitFor(t, func() bool { return client.SocketState().Status == SocketOpen }, "socket never reopened")
	if got := server.query(1).Get("sessionId"); got != "s1" {
		t.Errorf("reconnect sessionId = %q", got)
	}

	// The retry connection gets no further attempts.
	server.conn(t, 1).Close()
	time.Sleep(100 * time.Millisecond)
	if n := server.upgrades.Load(); n != 2 {
		t.Errorf("upgrades = %d, only one automatic retry is allowed", n)
	}
}

func TestManualDisconnectDoesNotReconnect(t *testing.T) {
	saved := reconnectDelay
	reconnectDelay = 20 * time.Millisecond
	defer func() { reconnectDelay = saved }()

	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server.conn(t, 0)

	client.Disconnect()
	time.Sleep(100 * time.Millisecond)
	if n := server.upgrades.Load(); n != 1 {
		t.Errorf("upgrades = %d, manual disconnect must not retry", n)
	}
}

func TestAuthFailureCloseDoesNotReconnect(t *testing.T) {
	saved := reconnectDelay
	reconnectDelay = 20 * time.Millisecond
	defer func() { reconnectDelay = saved }()

	server := newMockRealtimeServer(t)
	client := newLiveTestClient(t, server)

	if err := client.Connect(context.Background(), "s1", ConnectOptions{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := server.conn(t, 0)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(4401, "token expired"))

	waitFor(t, func() bool {
		state := client.SocketState()
		return state.Status == SocketClosed && state.Error == "Realtime authentication failed."
	}, "auth failure never surfaced")

	time.Sleep(100 * time.Millisecond)
	if n := server.upgrades.Load(); n != 1 {
		t.Errorf("upgrades = %d, auth failure must not retry", n)
	}
}
