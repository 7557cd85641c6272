package events

import (
	"time"

	"optiquantia/internal/models"
)

// Topics.
const (
	TopicSessionChanged = "session:changed"
	TopicNotice         = "notice:posted"
	TopicNavigation     = "navigation:requested"
	TopicActivity       = "activity:recorded"
)

type SessionEventType string

const (
	SignedIn  SessionEventType = "SIGNED_IN"
	SignedOut SessionEventType = "SIGNED_OUT"
)

// SessionEvent is published by identity providers when their session changes.
type SessionEvent struct {
	Type    SessionEventType
	Session *models.SessionHandle
}

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeWarning NoticeLevel = "warning"
	NoticeInfo    NoticeLevel = "info"
)

// Notice is a transient user-facing status message.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Time    time.Time   `json:"time"`
}

type Navigation struct {
	Path string `json:"path"`
}

type ActivityEvent struct {
	UserID  string
	Action  models.ActivityAction
	Details string
}
