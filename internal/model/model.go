package model

import "time"

// Role classifies an identity. Badge keys and sequence ids are unique
// across both roles combined.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// Status is the classification of an admitted arrival. An "absent"
// status models a logged-but-very-late arrival; it is recorded, not
// declined.
type Status string

const (
	StatusOnTime Status = "on_time"
	StatusLate   Status = "late"
	StatusAbsent Status = "absent"
)

// Identity is a person eligible to badge in. Created once via
// registration and never mutated afterwards.
type Identity struct {
	BadgeKey    string    `json:"badge_key"`
	SequenceID  string    `json:"sequence_id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	Group       string    `json:"group,omitempty"` // grade+section, optional for teachers
	CreatedAt   time.Time `json:"created_at"`
}

// AttendanceEvent is one badge-in for one identity on one calendar day.
// At most one event exists per (badge key, day).
type AttendanceEvent struct {
	ID         string    `json:"id"`
	BadgeKey   string    `json:"badge_key"`
	OccurredAt time.Time `json:"occurred_at"`
	Session    string    `json:"session"` // AM or PM
	Status     Status    `json:"status"`
	CaptureRef string    `json:"capture_ref,omitempty"`
	Pending    bool      `json:"pending"`
}

// Day returns the civil date of the event in YYYY-MM-DD form, the key
// the dedup invariant is expressed over.
func (e AttendanceEvent) Day() string {
	return e.OccurredAt.Format("2006-01-02")
}

// SessionFor derives the AM/PM session label from an arrival time.
func SessionFor(t time.Time) string {
	if t.Hour() < 12 {
		return "AM"
	}
	return "PM"
}

// Snapshot is the full logical schema persisted by the local cache.
// All writes are whole-snapshot rewrites under a single lock.
type Snapshot struct {
	Students          map[string]Identity `json:"students"`
	Teachers          map[string]Identity `json:"teachers"`
	Attendance        []AttendanceEvent   `json:"attendance"`
	PendingAttendance []AttendanceEvent   `json:"pending_attendance"`
	NextSequenceID    int                 `json:"next_sequence_id"`
	LastSyncAt        *time.Time          `json:"last_sync_at"`
}

// EmptySnapshot returns a well-formed snapshot with no data. Loading a
// missing or corrupt cache file produces this rather than an error.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Students:          map[string]Identity{},
		Teachers:          map[string]Identity{},
		Attendance:        []AttendanceEvent{},
		PendingAttendance: []AttendanceEvent{},
		NextSequenceID:    1,
	}
}

// Normalize fills in nil maps and slices on a snapshot decoded from
// disk so callers never touch a nil collection.
func (s *Snapshot) Normalize() {
	if s.Students == nil {
		s.Students = map[string]Identity{}
	}
	if s.Teachers == nil {
		s.Teachers = map[string]Identity{}
	}
	if s.Attendance == nil {
		s.Attendance = []AttendanceEvent{}
	}
	if s.PendingAttendance == nil {
		s.PendingAttendance = []AttendanceEvent{}
	}
	if s.NextSequenceID < 1 {
		s.NextSequenceID = 1
	}
}

// Identity returns the identity for a badge key from either role table.
func (s *Snapshot) Identity(badgeKey string) (Identity, bool) {
	if id, ok := s.Students[badgeKey]; ok {
		return id, true
	}
	if id, ok := s.Teachers[badgeKey]; ok {
		return id, true
	}
	return Identity{}, false
}

// PutIdentity stores an identity in the table for its role.
func (s *Snapshot) PutIdentity(id Identity) {
	if id.Role == RoleTeacher {
		s.Teachers[id.BadgeKey] = id
	} else {
		s.Students[id.BadgeKey] = id
	}
}

// DeleteIdentity removes a badge key from whichever role table holds it
// and reports the role that was removed.
func (s *Snapshot) DeleteIdentity(badgeKey string) (Role, bool) {
	if _, ok := s.Students[badgeKey]; ok {
		delete(s.Students, badgeKey)
		return RoleStudent, true
	}
	if _, ok := s.Teachers[badgeKey]; ok {
		delete(s.Teachers, badgeKey)
		return RoleTeacher, true
	}
	return "", false
}

// HasAttendanceOn reports whether an event (committed or pending)
// exists for the badge key on the given civil day.
func (s *Snapshot) HasAttendanceOn(badgeKey, day string) bool {
	for _, e := range s.Attendance {
		if e.BadgeKey == badgeKey && e.Day() == day {
			return true
		}
	}
	for _, e := range s.PendingAttendance {
		if e.BadgeKey == badgeKey && e.Day() == day {
			return true
		}
	}
	return false
}
