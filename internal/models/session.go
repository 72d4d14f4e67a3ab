package models

import "time"

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether the status can never change again.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

type SessionType string

const (
	SessionTypeStanding SessionType = "standing-daily"
	SessionTypeAdHoc    SessionType = "adhoc"
)

// Recurrence describes a repeating schedule: which weekdays and at what
// local wall-clock time. A zero Recurrence means the session does not
// repeat.
type Recurrence struct {
	Days   []time.Weekday `db:"days"`
	Hour   int            `db:"hour"`
	Minute int            `db:"minute"`
}

func (r Recurrence) IsZero() bool {
	return len(r.Days) == 0
}

func (r Recurrence) ActiveOn(day time.Weekday) bool {
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}

type Session struct {
	ID              string        `db:"id"`
	Title           string        `db:"title"`
	ScheduledAt     time.Time     `db:"scheduled_at"`
	Duration        time.Duration `db:"duration"`
	HostID          string        `db:"host_id"`
	Participants    []string      `db:"participants"`
	Attendees       []string      `db:"attendees"`
	Status          SessionStatus `db:"status"`
	Type            SessionType   `db:"type"`
	Recurrence      Recurrence    `db:"recurrence"`
	ProviderTag     string        `db:"provider_tag"`
	ProviderRoomID  string        `db:"provider_room_id"`
	ProviderJoinURL string        `db:"provider_join_url"`
	RestrictedPlans []string      `db:"restricted_plans"`
	Public          bool          `db:"public"`
	Locked          bool          `db:"locked"`
	StartedAt       *time.Time    `db:"started_at"`
	EndedAt         *time.Time    `db:"ended_at"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       *time.Time    `db:"updated_at"`
}

// Capability is the permission key a user needs for this session when it
// is plan-restricted. All live sessions share one capability today;
// per-course capabilities ride on the same field.
func (s *Session) Capability() string {
	return CapabilityLiveSession
}

const CapabilityLiveSession = "live-session"

func (s *Session) IsRestricted() bool {
	return len(s.RestrictedPlans) > 0
}

func (s *Session) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Session) HasAttendee(userID string) bool {
	for _, id := range s.Attendees {
		if id == userID {
			return true
		}
	}
	return false
}
