package models

import "time"

// Provider webhook event types.
const (
	EventSessionStarted    = "session.started"
	EventSessionEnded      = "session.ended"
	EventParticipantJoined = "participant.joined"
	EventParticipantLeft   = "participant.left"
)

// ProviderEvent is the decoded body of a provider webhook delivery.
type ProviderEvent struct {
	Type    string               `json:"event"`
	SentAt  int64                `json:"event_ts"`
	Payload ProviderEventPayload `json:"payload"`
}

type ProviderEventPayload struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// Audit event kinds published to the session-events topic.
const (
	AuditSessionCreated   = "session_created"
	AuditSessionStarted   = "session_started"
	AuditSessionCompleted = "session_completed"
	AuditSessionCancelled = "session_cancelled"
	AuditUserJoined       = "user_joined"
	AuditUserLeft         = "user_left"
)

// SessionAuditEvent is the record published to Kafka for every lifecycle
// change and roster mutation. Consumers build attendance reports from it.
type SessionAuditEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	At        time.Time `json:"at"`
}
