package sympai

import (
	"encoding/json"
	"fmt"
)

// Inbound frame type identifiers.
const (
	frameSessionSnapshot    = "session_snapshot"
	frameStreamStart        = "assistant_stream_start"
	frameStreamDelta        = "assistant_stream_delta"
	frameStreamRetrieval    = "assistant_stream_retrieval"
	frameStreamComplete     = "assistant_stream_complete"
	frameStreamCancelled    = "assistant_stream_cancelled"
	frameStreamError        = "assistant_stream_error"
	frameStreamMetadata     = "assistant_stream_metadata"
	frameAudioError         = "assistant_audio_error"
	frameReportReady        = "report_ready"
	frameChatMessage        = "chat_message"
	frameConsultationStatus = "consultation_status"
	frameError              = "error"
	framePong               = "pong"
	frameAck                = "ack"
)

// Outbound frame type identifiers.
const (
	frameUserText        = "user_text"
	frameAudioChunkStart = "user_audio_chunk_start"
	frameAudioChunkEnd   = "user_audio_chunk_end"
	frameEndConsultation = "end_consultation"
)

// Frame is one decoded JSON control frame from the realtime channel.
// Binary frames never become Frames; they go straight to the audio
// pipeline.
type Frame interface {
	frameType() string
}

// SessionSnapshotFrame replaces the full session detail.
type SessionSnapshotFrame struct {
	Session *Session `json:"session"`
}

func (SessionSnapshotFrame) frameType() string { return frameSessionSnapshot }

// StreamStartFrame opens a new assistant reply for a session.
type StreamStartFrame struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Language  string `json:"language,omitempty"`
}

func (StreamStartFrame) frameType() string { return frameStreamStart }

// StreamDeltaFrame appends text to the in-flight reply.
type StreamDeltaFrame struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId,omitempty"`
	Delta     string `json:"delta"`
}

func (StreamDeltaFrame) frameType() string { return frameStreamDelta }

// StreamRetrievalFrame attaches retrieval documents to the reply.
type StreamRetrievalFrame struct {
	SessionID string              `json:"sessionId"`
	MessageID string              `json:"messageId,omitempty"`
	Documents []RetrievalDocument `json:"documents"`
}

func (StreamRetrievalFrame) frameType() string { return frameStreamRetrieval }

// StreamCompleteFrame finalizes the reply. Text is a pointer because
// the server may omit it, in which case the accumulated deltas stand.
type StreamCompleteFrame struct {
	SessionID  string              `json:"sessionId"`
	MessageID  string              `json:"messageId,omitempty"`
	Text       *string             `json:"text,omitempty"`
	Retrievals []RetrievalDocument `json:"retrievals,omitempty"`
}

func (StreamCompleteFrame) frameType() string { return frameStreamComplete }

// StreamCancelledFrame discards the in-flight reply.
type StreamCancelledFrame struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId,omitempty"`
}

func (StreamCancelledFrame) frameType() string { return frameStreamCancelled }

// StreamErrorFrame discards the reply and surfaces an error.
type StreamErrorFrame struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (StreamErrorFrame) frameType() string { return frameStreamError }

// StreamMetadataFrame is emitted by the server but carries nothing the
// client acts on.
type StreamMetadataFrame struct {
	SessionID string `json:"sessionId"`
}

func (StreamMetadataFrame) frameType() string { return frameStreamMetadata }

// AudioErrorFrame reports a server-side audio failure.
type AudioErrorFrame struct {
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (AudioErrorFrame) frameType() string { return frameAudioError }

// ReportReadyFrame delivers a finished consultation report.
type ReportReadyFrame struct {
	SessionID string  `json:"sessionId"`
	Report    *Report `json:"report"`
}

func (ReportReadyFrame) frameType() string { return frameReportReady }

// ChatMessageFrame appends a persisted message to a session.
type ChatMessageFrame struct {
	SessionID string   `json:"sessionId"`
	Message   *Message `json:"message"`
}

func (ChatMessageFrame) frameType() string { return frameChatMessage }

// ConsultationStatusFrame updates a session's status, optionally
// carrying the final report.
type ConsultationStatusFrame struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	Report    *Report       `json:"report,omitempty"`
}

func (ConsultationStatusFrame) frameType() string { return frameConsultationStatus }

// ErrorFrame is a generic realtime error.
type ErrorFrame struct {
	Message string `json:"message,omitempty"`
}

func (ErrorFrame) frameType() string { return frameError }

// KeepaliveFrame covers pong/ack frames, which are ignored.
type KeepaliveFrame struct {
	Type string `json:"type"`
}

func (KeepaliveFrame) frameType() string { return framePong }

// UnknownFrame preserves frames of a type this client does not know.
type UnknownFrame struct {
	Type string `json:"type"`
}

func (f UnknownFrame) frameType() string { return f.Type }

// decodeFrame parses one JSON control frame into its typed form.
func decodeFrame(data []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}

	unmarshal := func(frame Frame) (Frame, error) {
		if err := json.Unmarshal(data, frame); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", head.Type, err)
		}
		return frame, nil
	}

	switch head.Type {
	case frameSessionSnapshot:
		return unmarshal(&SessionSnapshotFrame{})
	case frameStreamStart:
		return unmarshal(&StreamStartFrame{})
	case frameStreamDelta:
		return unmarshal(&StreamDeltaFrame{})
	case frameStreamRetrieval:
		return unmarshal(&StreamRetrievalFrame{})
	case frameStreamComplete:
		return unmarshal(&StreamCompleteFrame{})
	case frameStreamCancelled:
		return unmarshal(&StreamCancelledFrame{})
	case frameStreamError:
		return unmarshal(&StreamErrorFrame{})
	case frameStreamMetadata:
		return unmarshal(&StreamMetadataFrame{})
	case frameAudioError:
		return unmarshal(&AudioErrorFrame{})
	case frameReportReady:
		return unmarshal(&ReportReadyFrame{})
	case frameChatMessage:
		return unmarshal(&ChatMessageFrame{})
	case frameConsultationStatus:
		return unmarshal(&ConsultationStatusFrame{})
	case frameError:
		return unmarshal(&ErrorFrame{})
	case framePong, frameAck:
		return KeepaliveFrame{Type: head.Type}, nil
	default:
		return UnknownFrame{Type: head.Type}, nil
	}
}

// Outbound control messages.

type userTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioMarkerMessage struct {
	Type string `json:"type"`
}

type endConsultationMessage struct {
	Type string `json:"type"`
}
