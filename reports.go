package sympai

import (
	"sync"
	"time"
)

// reportTracker keeps the latest report per session plus a single-slot
// pointer to the most recently received one. The pointer stays set
// until the consumer acknowledges it; reports themselves remain
// available for polling afterwards.
type reportTracker struct {
	mu        sync.RWMutex
	bySession map[string]*Report
	latest    *LatestReport
	now       func() time.Time
}

func newReportTracker() *reportTracker {
	return &reportTracker{
		bySession: make(map[string]*Report),
		now:       time.Now,
	}
}

// store records the report for its session and arms the latest-report
// slot. Nil reports and empty session ids are ignored.
func (t *reportTracker) store(sessionID string, report *Report) {
	if sessionID == "" || report == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySession[sessionID] = report
	t.latest = &LatestReport{
		SessionID:  sessionID,
		Report:     report,
		ReceivedAt: t.now(),
	}
}

// get returns the stored report for a session, or nil.
func (t *reportTracker) get(sessionID string) *Report {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bySession[sessionID]
}

// peekLatest returns the unacknowledged latest report, or nil.
func (t *reportTracker) peekLatest() *LatestReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// acknowledge clears the latest-report slot.
func (t *reportTracker) acknowledge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = nil
}
