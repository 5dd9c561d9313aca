package sympai

// NoticeLevel classifies a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient message intended for the user (the consuming
// UI typically renders it as a toast).
type Notice struct {
	Level NoticeLevel
	Text  string
}

// noticeSink fans notices out to an optional callback and a bounded
// channel. Delivery is best-effort: when the channel is full the notice
// is dropped rather than blocking the event loop.
type noticeSink struct {
	ch       chan Notice
	callback func(Notice)
}

func newNoticeSink(callback func(Notice)) *noticeSink {
	return &noticeSink{
		ch:       make(chan Notice, 32),
		callback: callback,
	}
}

func (s *noticeSink) publish(level NoticeLevel, text string) {
	if text == "" {
		return
	}
	notice := Notice{Level: level, Text: text}
	if s.callback != nil {
		s.callback(notice)
	}
	select {
	case s.ch <- notice:
	default:
	}
}

// Notices returns the channel of user-facing notices. Consumers that
// do not drain it lose notices, never events.
func (s *noticeSink) Notices() <-chan Notice {
	return s.ch
}
