package sympai

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a consultation session.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted chat message inside a session.
type Message struct {
	MessageID string          `json:"messageId"`
	Role      Role            `json:"role"`
	Text      string          `json:"text"`
	Language  string          `json:"language,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   *MessagePayload `json:"payload,omitempty"`
}

// MessagePayload carries server-side metadata attached to a message.
// StreamID links a finalized assistant message back to the stream that
// produced it.
type MessagePayload struct {
	StreamID string `json:"streamId,omitempty"`
}

// Session is the full detail of one consultation: identity, status and
// the ordered message history.
type Session struct {
	SessionID    string        `json:"sessionId"`
	Language     string        `json:"language,omitempty"`
	Status       SessionStatus `json:"status,omitempty"`
	Title        string        `json:"title,omitempty"`
	Messages     []Message     `json:"messages,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Preview      string        `json:"preview,omitempty"`
	CreatedAt    time.Time     `json:"createdAt,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt,omitempty"`
	MessageCount int           `json:"messageCount,omitempty"`
}

// HasMessage reports whether the session already contains a message
// with the given id.
func (s *Session) HasMessage(messageID string) bool {
	for i := range s.Messages {
		if s.Messages[i].MessageID == messageID {
			return true
		}
	}
	return false
}

// SessionSummary is the lightweight projection of a Session used for
// list views.
type SessionSummary struct {
	SessionID    string        `json:"sessionId"`
	Language     string        `json:"language"`
	Status       SessionStatus `json:"status"`
	Title        string        `json:"title"`
	Preview      string        `json:"preview"`
	UpdatedAt    time.Time     `json:"updatedAt,omitempty"`
	CreatedAt    time.Time     `json:"createdAt,omitempty"`
	MessageCount int           `json:"messageCount"`
}

// RetrievalDocument is one supporting document attached to an
// assistant reply by the retrieval pipeline.
type RetrievalDocument struct {
	Title   string  `json:"title,omitempty"`
	Source  string  `json:"source,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// AssistantStream is the assistant's in-progress reply for one session,
// built up from stream frames until it is finalized into a Message.
type AssistantStream struct {
	MessageID   string              `json:"messageId,omitempty"`
	Text        string              `json:"text"`
	Retrievals  []RetrievalDocument `json:"retrievals,omitempty"`
	Language    string              `json:"language,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	LastChunkAt time.Time           `json:"lastChunkAt"`
	IsComplete  bool                `json:"isComplete"`

	// Epoch is bumped each time a new stream replaces this session's
	// entry, so work scheduled against an older stream can detect it
	// is stale.
	Epoch uint64 `json:"-"`
}

// Report is the structured clinical summary produced at the end of a
// consultation.
type Report struct {
	Title                string                `json:"title,omitempty"`
	AIGenerated          bool                  `json:"aiGenerated,omitempty"`
	PatientDetails       *PatientDetails       `json:"patientDetails,omitempty"`
	ConsultationSummary  *ConsultationSummary  `json:"consultationSummary,omitempty"`
	DiagnosedIssues      []DiagnosedIssue      `json:"diagnosedIssues,omitempty"`
	Prescription         []PrescriptionItem    `json:"prescription,omitempty"`
	DoctorRecommendation *DoctorRecommendation `json:"doctorRecommendation,omitempty"`
	AdditionalNotes      string                `json:"additionalNotes,omitempty"`
	GeneratedAt          time.Time             `json:"generatedAt,omitempty"`
}

// PatientDetails holds the patient block of a report.
type PatientDetails struct {
	Name       string `json:"name,omitempty"`
	Age        string `json:"age,omitempty"`
	Gender     string `json:"gender,omitempty"`
	PatientID  string `json:"patientId,omitempty"`
	BloodGroup string `json:"bloodGroup,omitempty"`
	Weight     string `json:"weight,omitempty"`
	Height     string `json:"height,omitempty"`
	Contact    string `json:"contact,omitempty"`
}

// ConsultationSummary captures the narrative part of a report.
type ConsultationSummary struct {
	ChiefComplaint      string `json:"chiefComplaint,omitempty"`
	History             string `json:"history,omitempty"`
	ExaminationFindings string `json:"examinationFindings,omitempty"`
}

// DiagnosedIssue is one condition identified during the consultation.
type DiagnosedIssue struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// PrescriptionItem is one row of the prescription table.
type PrescriptionItem struct {
	Medication string `json:"medication,omitempty"`
	Dosage     string `json:"dosage,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// DoctorRecommendation suggests a follow-up with a human doctor.
type DoctorRecommendation struct {
	Specialty   string `json:"specialty,omitempty"`
	Urgency     string `json:"urgency,omitempty"`
	Description string `json:"description,omitempty"`
}

// LatestReport is the single-slot "report ready" notification. It stays
// set until the consumer acknowledges it.
type LatestReport struct {
	SessionID  string    `json:"sessionId"`
	Report     *Report   `json:"report"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// SocketStatus is the lifecycle state of the realtime connection.
type SocketStatus string

const (
	SocketIdle       SocketStatus = "idle"
	SocketConnecting SocketStatus = "connecting"
	SocketOpen       SocketStatus = "open"
	SocketClosing    SocketStatus = "closing"
	SocketClosed     SocketStatus = "closed"
	SocketErrored    SocketStatus = "error"
)

// SocketState pairs the connection status with an optional error
// message for display.
type SocketState struct {
	Status SocketStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// DefaultLanguage is used whenever a session or frame carries no
// language code.
const DefaultLanguage = "en"

// NormalizeLanguage lowercases and trims a language code, falling back
// to DefaultLanguage when empty.
func NormalizeLanguage(language string) string {
	normalized := strings.ToLower(strings.TrimSpace(language))
	if normalized == "" {
		return DefaultLanguage
	}
	return normalized
}

// inferTitle derives a display title for a session that has none.
func inferTitle(sessionID, title string, createdAt time.Time) string {
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		return trimmed
	}
	if !createdAt.IsZero() {
		return fmt.Sprintf("SympAI check-in • %s", createdAt.Format("Jan 2, 3:04 PM"))
	}
	suffix := sessionID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	if suffix == "" {
		return "SympAI check-in"
	}
	return "SympAI session " + suffix
}

// buildSummary projects a session detail into its list-view summary.
func buildSummary(detail *Session) SessionSummary {
	summary := SessionSummary{
		SessionID:    detail.SessionID,
		Language:     detail.Language,
		Status:       detail.Status,
		Title:        inferTitle(detail.SessionID, detail.Title, detail.CreatedAt),
		Preview:      detail.Summary,
		UpdatedAt:    detail.UpdatedAt,
		CreatedAt:    detail.CreatedAt,
		MessageCount: detail.MessageCount,
	}
	if summary.Language == "" {
		summary.Language = DefaultLanguage
	}
	if summary.Status == "" {
		summary.Status = SessionActive
	}
	if summary.Preview == "" {
		summary.Preview = detail.Preview
	}
	if summary.MessageCount == 0 {
		summary.MessageCount = len(detail.Messages)
	}
	if len(detail.Messages) > 0 {
		latest := detail.Messages[len(detail.Messages)-1]
		if latest.Text != "" {
			summary.Preview = latest.Text
		}
		if summary.UpdatedAt.IsZero() {
			summary.UpdatedAt = latest.CreatedAt
		}
	}
	return summary
}
