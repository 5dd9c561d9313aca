package sympai

import (
	"sync"
)

// sessionStore holds the client's view of all sessions: an ordered
// summary list (most recently updated first) and a detail map keyed by
// session id. Every mutation keeps the two consistent.
type sessionStore struct {
	mu        sync.RWMutex
	summaries []SessionSummary
	byID      map[string]*Session
	loading   map[string]bool
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		byID:    make(map[string]*Session),
		loading: make(map[string]bool),
	}
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	copied := *s
	if s.Messages != nil {
		copied.Messages = make([]Message, len(s.Messages))
		copy(copied.Messages, s.Messages)
	}
	return &copied
}

// replaceSummaries installs a freshly fetched summary list. Each
// summary is merged into the detail map, preserving message arrays
// already loaded for that session.
func (st *sessionStore) replaceSummaries(summaries []SessionSummary) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.summaries = make([]SessionSummary, len(summaries))
	copy(st.summaries, summaries)

	for _, summary := range summaries {
		existing := st.byID[summary.SessionID]
		merged := &Session{
			SessionID:    summary.SessionID,
			Language:     summary.Language,
			Status:       summary.Status,
			Title:        summary.Title,
			Summary:      summary.Preview,
			CreatedAt:    summary.CreatedAt,
			UpdatedAt:    summary.UpdatedAt,
			MessageCount: summary.MessageCount,
		}
		if existing != nil {
			merged.Messages = existing.Messages
		}
		st.byID[summary.SessionID] = merged
	}
}

// upsertDetail replaces the stored detail for a session and moves its
// re-derived summary to the front of the list.
func (st *sessionStore) upsertDetail(detail *Session) {
	if detail == nil || detail.SessionID == "" {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	stored := cloneSession(detail)
	st.byID[detail.SessionID] = stored
	st.promoteSummaryLocked(buildSummary(stored))
}

// promoteSummaryLocked removes any existing row for the summary's
// session and prepends the new one. Caller holds st.mu.
func (st *sessionStore) promoteSummaryLocked(summary SessionSummary) {
	filtered := st.summaries[:0]
	for _, item := range st.summaries {
		if item.SessionID != summary.SessionID {
			filtered = append(filtered, item)
		}
	}
	st.summaries = append([]SessionSummary{summary}, filtered...)
}

// applyMessage appends a message to a session, creating a placeholder
// session when none exists locally. Appending a message id the session
// already holds is a no-op. Returns true when the message was added.
func (st *sessionStore) applyMessage(sessionID string, message Message) bool {
	if sessionID == "" || message.MessageID == "" {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	session := st.byID[sessionID]
	if session == nil {
		session = &Session{
			SessionID: sessionID,
			Language:  NormalizeLanguage(message.Language),
			Status:    SessionActive,
			CreatedAt: message.CreatedAt,
			UpdatedAt: message.CreatedAt,
		}
		st.byID[sessionID] = session
	}

	if session.HasMessage(message.MessageID) {
		return false
	}

	session.Messages = append(session.Messages, message)
	session.MessageCount = len(session.Messages)
	session.UpdatedAt = message.CreatedAt
	if message.Role == RoleAssistant {
		session.Summary = message.Text
	}

	st.promoteSummaryLocked(buildSummary(session))
	return true
}

// setStatus updates a session's status in both the detail map and the
// summary list. Unknown sessions only touch the list, matching how the
// dashboard treats status pushes for rows it has not opened.
func (st *sessionStore) setStatus(sessionID string, status SessionStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if session := st.byID[sessionID]; session != nil {
		session.Status = status
	}
	for i := range st.summaries {
		if st.summaries[i].SessionID == sessionID {
			st.summaries[i].Status = status
		}
	}
}

// insertCreated prepends a newly created session with an empty message
// list.
func (st *sessionStore) insertCreated(summary SessionSummary) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.summaries = append([]SessionSummary{summary}, st.summaries...)
	st.byID[summary.SessionID] = &Session{
		SessionID:    summary.SessionID,
		Language:     summary.Language,
		Status:       summary.Status,
		Title:        summary.Title,
		CreatedAt:    summary.CreatedAt,
		UpdatedAt:    summary.UpdatedAt,
		Messages:     []Message{},
		MessageCount: 0,
	}
}

// get returns a copy of the session detail, or nil if unknown.
func (st *sessionStore) get(sessionID string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return cloneSession(st.byID[sessionID])
}

// hasMessages reports whether the session's message history has been
// loaded, which lets fetches short-circuit to the cache.
func (st *sessionStore) hasMessages(sessionID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session := st.byID[sessionID]
	return session != nil && len(session.Messages) > 0
}

// language returns the stored language for a session, or the default.
func (st *sessionStore) language(sessionID string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if session := st.byID[sessionID]; session != nil && session.Language != "" {
		return session.Language
	}
	return DefaultLanguage
}

// list returns a copy of the ordered summary list.
func (st *sessionStore) list() []SessionSummary {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]SessionSummary, len(st.summaries))
	copy(out, st.summaries)
	return out
}

// setLoading flags a session fetch as in flight.
func (st *sessionStore) setLoading(sessionID string, loading bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if loading {
		st.loading[sessionID] = true
	} else {
		delete(st.loading, sessionID)
	}
}

// isLoading reports whether a fetch for the session is in flight.
func (st *sessionStore) isLoading(sessionID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.loading[sessionID]
}

// clear wipes all session state, as on logout.
func (st *sessionStore) clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.summaries = nil
	st.byID = make(map[string]*Session)
	st.loading = make(map[string]bool)
}
