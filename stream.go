package sympai

import (
	"sync"
	"time"
)

// streamTable tracks at most one in-flight assistant reply per session.
// Mutations go through update, which applies a pure function to the
// previous entry so rapid successive frames cannot lose updates.
type streamTable struct {
	mu      sync.RWMutex
	entries map[string]*AssistantStream
	epoch   uint64
	now     func() time.Time
}

func newStreamTable() *streamTable {
	return &streamTable{
		entries: make(map[string]*AssistantStream),
		now:     time.Now,
	}
}

// update applies fn to the session's current entry (nil if absent).
// Returning nil removes the entry; returning the input unchanged is a
// no-op. The returned bool reports whether anything changed.
func (t *streamTable) update(sessionID string, fn func(*AssistantStream) *AssistantStream) bool {
	if sessionID == "" || fn == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.entries[sessionID]
	next := fn(current)
	if next == current {
		return false
	}
	if next == nil {
		delete(t.entries, sessionID)
		return true
	}
	t.entries[sessionID] = next
	return true
}

// start replaces any prior entry for the session with a fresh one.
func (t *streamTable) start(sessionID, messageID, language string) {
	t.update(sessionID, func(*AssistantStream) *AssistantStream {
		t.epoch++
		now := t.now()
		return &AssistantStream{
			MessageID:   messageID,
			Language:    NormalizeLanguage(language),
			StartedAt:   now,
			LastChunkAt: now,
			Epoch:       t.epoch,
		}
	})
}

// stale reports whether a frame's message id mismatches the entry it
// targets. Frames without an id always apply to the current entry.
func stale(entry *AssistantStream, messageID string) bool {
	return messageID != "" && entry.MessageID != messageID
}

// appendDelta accumulates streamed text onto the current entry,
// dropping deltas from a superseded stream.
func (t *streamTable) appendDelta(sessionID, messageID, delta string) {
	t.update(sessionID, func(entry *AssistantStream) *AssistantStream {
		if entry == nil || stale(entry, messageID) {
			return entry
		}
		next := *entry
		next.Text += delta
		next.LastChunkAt = t.now()
		return &next
	})
}

// setRetrievals attaches retrieval documents, creating an entry when
// the retrieval frame beats the start frame.
func (t *streamTable) setRetrievals(sessionID, messageID string, documents []RetrievalDocument) {
	t.update(sessionID, func(entry *AssistantStream) *AssistantStream {
		if entry == nil {
			t.epoch++
			now := t.now()
			return &AssistantStream{
				MessageID:   messageID,
				Retrievals:  documents,
				Language:    DefaultLanguage,
				StartedAt:   now,
				LastChunkAt: now,
				Epoch:       t.epoch,
			}
		}
		if stale(entry, messageID) {
			return entry
		}
		next := *entry
		next.Retrievals = documents
		next.LastChunkAt = t.now()
		return &next
	})
}

// complete finalizes the entry. A non-nil text overrides the
// accumulated deltas; nil leaves them in place.
func (t *streamTable) complete(sessionID, messageID string, text *string, retrievals []RetrievalDocument) {
	t.update(sessionID, func(entry *AssistantStream) *AssistantStream {
		if entry == nil || stale(entry, messageID) {
			return entry
		}
		next := *entry
		if text != nil {
			next.Text = *text
		}
		if retrievals != nil {
			next.Retrievals = retrievals
		}
		next.LastChunkAt = t.now()
		next.IsComplete = true
		return &next
	})
}

// remove drops the entry if the message id matches (or is absent).
func (t *streamTable) remove(sessionID, messageID string) {
	t.update(sessionID, func(entry *AssistantStream) *AssistantStream {
		if entry == nil || stale(entry, messageID) {
			return entry
		}
		return nil
	})
}

// supersede clears the entry once its finalized message arrives. An
// entry tracking a different stream id is left alone.
func (t *streamTable) supersede(sessionID, streamID string) {
	t.update(sessionID, func(entry *AssistantStream) *AssistantStream {
		if entry == nil {
			return nil
		}
		if entry.MessageID != "" && entry.MessageID != streamID {
			return entry
		}
		return nil
	})
}

// get returns a copy of the session's entry, or nil.
func (t *streamTable) get(sessionID string) *AssistantStream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[sessionID]
	if !ok {
		return nil
	}
	copied := *entry
	return &copied
}

// snapshot returns copies of all in-flight entries keyed by session.
func (t *streamTable) snapshot() map[string]*AssistantStream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*AssistantStream, len(t.entries))
	for id, entry := range t.entries {
		copied := *entry
		out[id] = &copied
	}
	return out
}

func (t *streamTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*AssistantStream)
}

func (t *streamTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
