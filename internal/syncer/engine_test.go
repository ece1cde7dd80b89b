package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tamtap/internal/cache"
	"tamtap/internal/clock"
	"tamtap/internal/model"
	"tamtap/internal/remote"
)

func newEngine(t *testing.T) (*Engine, *cache.Guard, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	guard := cache.NewGuard(cache.New(filepath.Join(t.TempDir(), "snap.json"), zap.NewNop()))
	return NewEngine(guard, clk, time.Second, zap.NewNop()), guard, clk
}

func pendingEvent(id, badgeKey string, at time.Time) model.AttendanceEvent {
	return model.AttendanceEvent{
		ID:         id,
		BadgeKey:   badgeKey,
		OccurredAt: at,
		Session:    model.SessionFor(at),
		Status:     model.StatusOnTime,
		Pending:    true,
	}
}

func TestPushDrainsPendingQueue(t *testing.T) {
	eng, guard, clk := newEngine(t)
	mem := remote.NewMemory()
	ctx := context.Background()

	require.NoError(t, guard.Update(func(s *model.Snapshot) {
		s.PutIdentity(model.Identity{
			BadgeKey: "badge-1", SequenceID: "001", Role: model.RoleStudent, DisplayName: "A",
		})
		s.PendingAttendance = append(s.PendingAttendance,
			pendingEvent("evt-1", "badge-1", clk.Now()),
			pendingEvent("evt-2", "badge-2", clk.Now()))
	}))

	n, err := eng.Push(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, badge := range []string{"badge-1", "badge-2"} {
		exists, err := mem.HasAttendanceOn(ctx, badge, "2026-03-02")
		require.NoError(t, err)
		assert.True(t, exists, badge)
	}
	id, err := mem.FindIdentity(ctx, "badge-1")
	require.NoError(t, err)
	assert.NotNil(t, id)

	guard.View(func(s *model.Snapshot) {
		assert.Empty(t, s.PendingAttendance)
		require.Len(t, s.Attendance, 2)
		assert.False(t, s.Attendance[0].Pending)
		assert.False(t, s.Attendance[1].Pending)
	})
}

func TestPushFailureKeepsEventsQueued(t *testing.T) {
	eng, guard, clk := newEngine(t)
	mem := remote.NewMemory()
	mem.SetFailing(true)

	require.NoError(t, guard.Update(func(s *model.Snapshot) {
		s.PendingAttendance = append(s.PendingAttendance, pendingEvent("evt-1", "badge-1", clk.Now()))
	}))

	n, err := eng.Push(context.Background(), mem)
	assert.Error(t, err)
	assert.Zero(t, n)
	guard.View(func(s *model.Snapshot) {
		assert.Len(t, s.PendingAttendance, 1)
		assert.Empty(t, s.Attendance)
	})
}

func TestPushConfirmsEventsTheRemoteAlreadyHas(t *testing.T) {
	eng, guard, clk := newEngine(t)
	mem := remote.NewMemory()
	ctx := context.Background()

	// Same badge and day already recorded remotely under another id.
	require.NoError(t, mem.InsertAttendance(ctx, model.AttendanceEvent{
		ID: "remote-evt", BadgeKey: "badge-1", OccurredAt: clk.Now(), Session: "AM", Status: model.StatusOnTime,
	}))
	require.NoError(t, guard.Update(func(s *model.Snapshot) {
		s.PendingAttendance = append(s.PendingAttendance, pendingEvent("evt-1", "badge-1", clk.Now()))
	}))

	n, err := eng.Push(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	guard.View(func(s *model.Snapshot) {
		assert.Empty(t, s.PendingAttendance)
	})
}

func TestPullReplacesIdentitiesWholesale(t *testing.T) {
	eng, guard, clk := newEngine(t)
	mem := remote.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.InsertIdentity(ctx, model.Identity{
		BadgeKey: "badge-a", SequenceID: "001", Role: model.RoleStudent, DisplayName: "A",
	}))
	require.NoError(t, mem.InsertIdentity(ctx, model.Identity{
		BadgeKey: "badge-t", SequenceID: "002", Role: model.RoleTeacher, DisplayName: "T",
	}))
	require.NoError(t, guard.Update(func(s *model.Snapshot) {
		s.PutIdentity(model.Identity{
			BadgeKey: "stale", SequenceID: "009", Role: model.RoleStudent, DisplayName: "Gone",
		})
	}))

	n, err := eng.Pull(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	guard.View(func(s *model.Snapshot) {
		assert.Len(t, s.Students, 1)
		assert.Len(t, s.Teachers, 1)
		_, stale := s.Students["stale"]
		assert.False(t, stale)
		require.NotNil(t, s.LastSyncAt)
		assert.Equal(t, clk.Now(), *s.LastSyncAt)
	})
}

func TestPullNeverTouchesAttendance(t *testing.T) {
	eng, guard, clk := newEngine(t)
	mem := remote.NewMemory()

	require.NoError(t, guard.Update(func(s *model.Snapshot) {
		s.Attendance = append(s.Attendance, model.AttendanceEvent{
			ID: "evt-1", BadgeKey: "badge-1", OccurredAt: clk.Now(), Session: "AM", Status: model.StatusOnTime,
		})
		s.PendingAttendance = append(s.PendingAttendance, pendingEvent("evt-2", "badge-2", clk.Now()))
	}))

	_, err := eng.Pull(context.Background(), mem)
	require.NoError(t, err)
	guard.View(func(s *model.Snapshot) {
		assert.Len(t, s.Attendance, 1)
		assert.Len(t, s.PendingAttendance, 1)
	})
}

func TestSyncConverges(t *testing.T) {
	eng, guard, clk := newEngine(t)
	mem := remote.NewMemory()
	ctx := context.Background()

	// Registered and logged while offline, plus one identity the
	// appliance has never seen.
	require.NoError(t, mem.InsertIdentity(ctx, model.Identity{
		BadgeKey: "badge-b", SequenceID: "002", Role: model.RoleStudent, DisplayName: "B",
	}))
	require.NoError(t, guard.Update(func(s *model.Snapshot) {
		s.PutIdentity(model.Identity{
			BadgeKey: "badge-a", SequenceID: "001", Role: model.RoleStudent, DisplayName: "A",
		})
		s.PendingAttendance = append(s.PendingAttendance, pendingEvent("evt-1", "badge-a", clk.Now()))
	}))

	require.NoError(t, eng.Sync(ctx, mem))

	exists, err := mem.HasAttendanceOn(ctx, "badge-a", "2026-03-02")
	require.NoError(t, err)
	assert.True(t, exists)
	guard.View(func(s *model.Snapshot) {
		assert.Empty(t, s.PendingAttendance)
		assert.Len(t, s.Attendance, 1)
		assert.Len(t, s.Students, 2) // offline registration pushed, then pulled back
	})
}

func TestSyncReportsFailure(t *testing.T) {
	eng, guard, clk := newEngine(t)
	mem := remote.NewMemory()
	mem.SetFailing(true)

	require.NoError(t, guard.Update(func(s *model.Snapshot) {
		s.PendingAttendance = append(s.PendingAttendance, pendingEvent("evt-1", "badge-1", clk.Now()))
	}))
	assert.Error(t, eng.Sync(context.Background(), mem))
}
