package sympai

import (
	"testing"
	"time"
)

func TestApplyMessageIdempotent(t *testing.T) {
	store := newSessionStore()
	msg := Message{MessageID: "m1", Role: RoleUser, Text: "hi", CreatedAt: time.Now()}

	if !store.applyMessage("s1", msg) {
		t.Fatal("first append should succeed")
	}
	if store.applyMessage("s1", msg) {
		t.Fatal("duplicate append must be a no-op")
	}

	session := store.get("s1")
	if len(session.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(session.Messages))
	}
	if session.MessageCount != 1 {
		t.Errorf("messageCount = %d, want 1", session.MessageCount)
	}
}

func TestApplyMessageCreatesPlaceholder(t *testing.T) {
	store := newSessionStore()
	now := time.Now()
	store.applyMessage("s1", Message{MessageID: "m1", Role: RoleAssistant, Text: "hello", Language: "ES", CreatedAt: now})

	session := store.get("s1")
	if session == nil {
		t.Fatal("placeholder session should exist")
	}
	if session.Status != SessionActive {
		t.Errorf("status = %q, want ACTIVE", session.Status)
	}
	if session.Language != "es" {
		t.Errorf("language = %q, want normalized es", session.Language)
	}
	if session.Summary != "hello" {
		t.Errorf("assistant message should set the summary, got %q", session.Summary)
	}

	summaries := store.list()
	if len(summaries) != 1 || summaries[0].SessionID != "s1" {
		t.Errorf("summary list should contain the placeholder, got %+v", summaries)
	}
}

func TestApplyMessageMovesSummaryToFront(t *testing.T) {
	store := newSessionStore()
	now := time.Now()
	store.applyMessage("s1", Message{MessageID: "m1", Text: "a", CreatedAt: now})
	store.applyMessage("s2", Message{MessageID: "m2", Text: "b", CreatedAt: now})
	store.applyMessage("s1", Message{MessageID: "m3", Text: "c", CreatedAt: now})

	summaries := store.list()
	if summaries[0].SessionID != "s1" {
		t.Errorf("most recently touched session should lead the list, got %s", summaries[0].SessionID)
	}
	if len(summaries) != 2 {
		t.Errorf("list length = %d, want 2", len(summaries))
	}
}

func TestReplaceSummariesPreservesMessages(t *testing.T) {
	store := newSessionStore()
	store.upsertDetail(&Session{
		SessionID: "s1",
		Messages:  []Message{{MessageID: "m1", Text: "kept"}},
	})

	store.replaceSummaries([]SessionSummary{
		{SessionID: "s1", Title: "fresh title", Status: SessionActive},
		{SessionID: "s2", Title: "new row", Status: SessionActive},
	})

	session := store.get("s1")
	if len(session.Messages) != 1 {
		t.Error("already-loaded messages must survive a summary refresh")
	}
	if session.Title != "fresh title" {
		t.Errorf("title = %q, want refreshed", session.Title)
	}
	if store.get("s2") == nil {
		t.Error("every summary must have a detail entry")
	}
	if len(store.list()) != 2 {
		t.Errorf("list = %d rows, want 2", len(store.list()))
	}
}

func TestUpsertDetailPromotesSummary(t *testing.T) {
	store := newSessionStore()
	store.insertCreated(SessionSummary{SessionID: "s1", Title: "one", Status: SessionActive})
	store.insertCreated(SessionSummary{SessionID: "s2", Title: "two", Status: SessionActive})

	store.upsertDetail(&Session{SessionID: "s1", Title: "one updated"})

	summaries := store.list()
	if summaries[0].SessionID != "s1" {
		t.Errorf("upserted session should move to the front, got %s", summaries[0].SessionID)
	}
}

func TestSetStatus(t *testing.T) {
	store := newSessionStore()
	store.insertCreated(SessionSummary{SessionID: "s1", Status: SessionActive})

	store.setStatus("s1", SessionEnded)

	if store.get("s1").Status != SessionEnded {
		t.Error("detail status not updated")
	}
	if store.list()[0].Status != SessionEnded {
		t.Error("summary status not updated")
	}

	// Unknown session: must not panic or create an entry.
	store.setStatus("missing", SessionEnded)
	if store.get("missing") != nil {
		t.Error("setStatus must not create sessions")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := newSessionStore()
	store.upsertDetail(&Session{SessionID: "s1", Messages: []Message{{MessageID: "m1"}}})

	got := store.get("s1")
	got.Messages[0].MessageID = "mutated"
	got.Title = "mutated"

	fresh := store.get("s1")
	if fresh.Messages[0].MessageID != "m1" || fresh.Title == "mutated" {
		t.Error("get must return a defensive copy")
	}
}

func TestClear(t *testing.T) {
	store := newSessionStore()
	store.insertCreated(SessionSummary{SessionID: "s1"})
	store.setLoading("s1", true)
	store.clear()

	if len(store.list()) != 0 || store.get("s1") != nil || store.isLoading("s1") {
		t.Error("clear must wipe all state")
	}
}
