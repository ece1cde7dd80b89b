package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionFor(t *testing.T) {
	assert.Equal(t, "AM", SessionFor(time.Date(2026, 3, 2, 11, 59, 59, 0, time.UTC)))
	assert.Equal(t, "PM", SessionFor(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "AM", SessionFor(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestEventDay(t *testing.T) {
	e := AttendanceEvent{OccurredAt: time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)}
	assert.Equal(t, "2026-03-02", e.Day())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleStudent.Valid())
	assert.True(t, RoleTeacher.Valid())
	assert.False(t, Role("janitor").Valid())
	assert.False(t, Role("").Valid())
}

func TestSnapshotIdentityTables(t *testing.T) {
	s := EmptySnapshot()
	s.PutIdentity(Identity{BadgeKey: "s1", Role: RoleStudent, DisplayName: "S"})
	s.PutIdentity(Identity{BadgeKey: "t1", Role: RoleTeacher, DisplayName: "T"})

	_, ok := s.Identity("s1")
	assert.True(t, ok)
	_, ok = s.Identity("t1")
	assert.True(t, ok)
	_, ok = s.Identity("nobody")
	assert.False(t, ok)

	role, ok := s.DeleteIdentity("t1")
	assert.True(t, ok)
	assert.Equal(t, RoleTeacher, role)
	_, ok = s.DeleteIdentity("t1")
	assert.False(t, ok)
}

func TestHasAttendanceOnChecksPendingToo(t *testing.T) {
	s := EmptySnapshot()
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s.Attendance = append(s.Attendance, AttendanceEvent{ID: "a", BadgeKey: "b1", OccurredAt: at})
	s.PendingAttendance = append(s.PendingAttendance, AttendanceEvent{ID: "p", BadgeKey: "b2", OccurredAt: at, Pending: true})

	assert.True(t, s.HasAttendanceOn("b1", "2026-03-02"))
	assert.True(t, s.HasAttendanceOn("b2", "2026-03-02"))
	assert.False(t, s.HasAttendanceOn("b1", "2026-03-03"))
	assert.False(t, s.HasAttendanceOn("b3", "2026-03-02"))
}

func TestNormalize(t *testing.T) {
	var s Snapshot
	s.Normalize()
	assert.NotNil(t, s.Students)
	assert.NotNil(t, s.Teachers)
	assert.NotNil(t, s.Attendance)
	assert.NotNil(t, s.PendingAttendance)
	assert.Equal(t, 1, s.NextSequenceID)
}
