// Package records is the public facade over the two stores: identity
// lookup and registration, attendance dedup-check and commit. Every
// operation tries the remote store first while connected, falls back
// to the local cache on any remote error, and mirrors successful
// remote writes into the cache so it stays warm.
package records

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tamtap/internal/cache"
	"tamtap/internal/clock"
	"tamtap/internal/metrics"
	"tamtap/internal/model"
	"tamtap/internal/remote"
	"tamtap/internal/syncer"
)

var (
	// ErrDuplicateKey rejects a registration whose badge key or
	// sequence id is already taken. The only error surfaced as a hard
	// failure to interactive callers.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrAlreadyLogged marks the expected one-event-per-day outcome of
	// a repeated commit; a modeled state, not a fault.
	ErrAlreadyLogged = errors.New("already logged today")
)

// Store routes reads and writes between the remote canonical store and
// the local cache depending on connectivity.
type Store struct {
	guard   *cache.Guard
	sup     *syncer.Supervisor
	alloc   *Allocator
	clk     clock.Clock
	log     *zap.Logger
	timeout time.Duration
}

// NewStore builds the facade. timeout bounds each remote call made on
// the scan path.
func NewStore(guard *cache.Guard, sup *syncer.Supervisor, clk clock.Clock, timeout time.Duration, log *zap.Logger) *Store {
	s := &Store{guard: guard, sup: sup, clk: clk, log: log, timeout: timeout}
	s.alloc = &Allocator{guard: guard, sup: sup, timeout: timeout, log: log}
	return s
}

// Allocator exposes the sequential-id allocator.
func (s *Store) Allocator() *Allocator { return s.alloc }

// remoteClient returns the live remote handle, or nil while
// disconnected.
func (s *Store) remoteClient() remote.Client {
	if !s.sup.Connected() {
		return nil
	}
	return s.sup.Client()
}

func (s *Store) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Lookup resolves a badge key to an identity. While connected the
// remote answer is authoritative, including "not found"; the cache
// answers only when the remote is unreachable.
func (s *Store) Lookup(ctx context.Context, badgeKey string) (model.Identity, bool) {
	if rc := s.remoteClient(); rc != nil {
		cctx, cancel := s.callCtx(ctx)
		id, err := rc.FindIdentity(cctx, badgeKey)
		cancel()
		if err == nil {
			if id == nil {
				return model.Identity{}, false
			}
			return *id, true
		}
		s.log.Warn("remote lookup failed, using cache", zap.String("badge_key", badgeKey), zap.Error(err))
	}

	var id model.Identity
	var ok bool
	s.guard.View(func(snap *model.Snapshot) {
		id, ok = snap.Identity(badgeKey)
	})
	return id, ok
}

// Register creates a new identity. A badge key or sequence id that
// already resolves anywhere fails with ErrDuplicateKey and writes
// nothing; collisions are never silently remapped. An empty sequence
// id is allocated. The write goes to the remote when connected and is
// always mirrored locally, so offline registrations queue for the next
// push.
func (s *Store) Register(ctx context.Context, id model.Identity) (model.Identity, error) {
	if id.BadgeKey == "" {
		return model.Identity{}, errors.New("badge key required")
	}
	if !id.Role.Valid() {
		return model.Identity{}, errors.New("role must be student or teacher")
	}
	if id.DisplayName == "" {
		return model.Identity{}, errors.New("display name required")
	}

	if _, exists := s.Lookup(ctx, id.BadgeKey); exists {
		return model.Identity{}, ErrDuplicateKey
	}

	if id.SequenceID == "" {
		id.SequenceID = s.alloc.Next(ctx)
	} else {
		id.SequenceID = PadSequence(id.SequenceID)
	}
	if s.alloc.Exists(ctx, id.SequenceID) {
		return model.Identity{}, ErrDuplicateKey
	}

	if id.CreatedAt.IsZero() {
		id.CreatedAt = s.clk.Now()
	}

	if rc := s.remoteClient(); rc != nil {
		cctx, cancel := s.callCtx(ctx)
		err := rc.InsertIdentity(cctx, id)
		cancel()
		if err != nil {
			s.log.Warn("remote registration failed, will push on reconnect",
				zap.String("badge_key", id.BadgeKey), zap.Error(err))
		}
	}

	if err := s.guard.Update(func(snap *model.Snapshot) {
		snap.PutIdentity(id)
		if n, ok := ParseSequence(id.SequenceID); ok && n >= snap.NextSequenceID {
			snap.NextSequenceID = n + 1
		}
	}); err != nil {
		metrics.CacheWriteFailures.Inc()
		s.log.Error("cache write failed after registration", zap.Error(err))
	}
	return id, nil
}

// Delete removes an identity from both stores and reports the role
// that was removed.
func (s *Store) Delete(ctx context.Context, badgeKey string) (model.Role, bool) {
	var role model.Role
	var found bool

	if rc := s.remoteClient(); rc != nil {
		cctx, cancel := s.callCtx(ctx)
		r, ok, err := rc.DeleteIdentity(cctx, badgeKey)
		cancel()
		if err != nil {
			s.log.Warn("remote delete failed", zap.String("badge_key", badgeKey), zap.Error(err))
		} else if ok {
			role, found = r, true
		}
	}

	if err := s.guard.Update(func(snap *model.Snapshot) {
		if r, ok := snap.DeleteIdentity(badgeKey); ok && !found {
			role, found = r, true
		}
	}); err != nil {
		metrics.CacheWriteFailures.Inc()
		s.log.Error("cache write failed after delete", zap.Error(err))
	}
	return role, found
}

// AlreadyLoggedToday reports whether an attendance event exists for
// the badge key on today's civil date in either store, pending queue
// included.
func (s *Store) AlreadyLoggedToday(ctx context.Context, badgeKey string) bool {
	today := s.clk.Now().Format("2006-01-02")

	if rc := s.remoteClient(); rc != nil {
		cctx, cancel := s.callCtx(ctx)
		exists, err := rc.HasAttendanceOn(cctx, badgeKey, today)
		cancel()
		if err != nil {
			s.log.Warn("remote attendance check failed, using cache", zap.Error(err))
		} else if exists {
			return true
		}
	}

	var logged bool
	s.guard.View(func(snap *model.Snapshot) {
		logged = snap.HasAttendanceOn(badgeKey, today)
	})
	return logged
}

// CommitAttendance records one badge-in. The dedup check is repeated
// here to close the race between check and commit within a serialized
// call; a duplicate fails with ErrAlreadyLogged and writes nothing.
// The event goes through the remote when connected, else it joins the
// pending queue with Pending set.
func (s *Store) CommitAttendance(ctx context.Context, badgeKey string, status model.Status, captureRef string) (model.AttendanceEvent, error) {
	if s.AlreadyLoggedToday(ctx, badgeKey) {
		return model.AttendanceEvent{}, ErrAlreadyLogged
	}

	now := s.clk.Now()
	evt := model.AttendanceEvent{
		ID:         uuid.NewString(),
		BadgeKey:   badgeKey,
		OccurredAt: now,
		Session:    model.SessionFor(now),
		Status:     status,
		CaptureRef: captureRef,
	}

	remoteOK := false
	if rc := s.remoteClient(); rc != nil {
		cctx, cancel := s.callCtx(ctx)
		err := rc.InsertAttendance(cctx, evt)
		cancel()
		if err != nil {
			s.log.Warn("remote attendance write failed, queueing locally", zap.Error(err))
		} else {
			remoteOK = true
		}
	}

	if !remoteOK {
		evt.Pending = true
	}
	if err := s.guard.Update(func(snap *model.Snapshot) {
		if remoteOK {
			snap.Attendance = append(snap.Attendance, evt)
		} else {
			snap.PendingAttendance = append(snap.PendingAttendance, evt)
		}
	}); err != nil {
		metrics.CacheWriteFailures.Inc()
		s.log.Error("cache write failed after commit", zap.Error(err))
	}
	return evt, nil
}

// ListAttendance returns the events for a civil day (YYYY-MM-DD),
// newest first, merging the pending queue when answering from cache.
func (s *Store) ListAttendance(ctx context.Context, day string) []model.AttendanceEvent {
	if rc := s.remoteClient(); rc != nil {
		cctx, cancel := s.callCtx(ctx)
		events, err := rc.ListAttendanceOn(cctx, day)
		cancel()
		if err == nil {
			return events
		}
		s.log.Warn("remote attendance list failed, using cache", zap.Error(err))
	}

	var out []model.AttendanceEvent
	s.guard.View(func(snap *model.Snapshot) {
		for _, e := range snap.Attendance {
			if e.Day() == day {
				out = append(out, e)
			}
		}
		for _, e := range snap.PendingAttendance {
			if e.Day() == day {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out
}

// ListIdentities returns all identities, ordered by sequence id.
func (s *Store) ListIdentities(ctx context.Context) []model.Identity {
	if rc := s.remoteClient(); rc != nil {
		cctx, cancel := s.callCtx(ctx)
		ids, err := rc.ListIdentities(cctx)
		cancel()
		if err == nil {
			return ids
		}
		s.log.Warn("remote identity list failed, using cache", zap.Error(err))
	}

	var out []model.Identity
	s.guard.View(func(snap *model.Snapshot) {
		for _, id := range snap.Students {
			out = append(out, id)
		}
		for _, id := range snap.Teachers {
			out = append(out, id)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out
}

// Status summarizes the store for health and operator endpoints.
type Status struct {
	Connected  bool       `json:"connected"`
	State      string     `json:"state"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	Students   int        `json:"students"`
	Teachers   int        `json:"teachers"`
	Pending    int        `json:"pending"`
}

// Status reports connectivity and cache counts.
func (s *Store) Status() Status {
	st := Status{
		Connected: s.sup.Connected(),
		State:     s.sup.State().String(),
	}
	s.guard.View(func(snap *model.Snapshot) {
		st.Students = len(snap.Students)
		st.Teachers = len(snap.Teachers)
		st.Pending = len(snap.PendingAttendance)
		st.LastSyncAt = snap.LastSyncAt
	})
	return st
}
