// Package syncer keeps the local cache and the remote canonical store
// converged: it pushes locally-queued events out, pulls reference data
// back, and supervises the connection that makes either possible.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tamtap/internal/cache"
	"tamtap/internal/clock"
	"tamtap/internal/metrics"
	"tamtap/internal/model"
	"tamtap/internal/remote"
)

// Engine performs the push/pull cycle. State is copied out of the
// snapshot under the Guard lock, remote I/O runs outside it, and
// results are applied back under the lock, so a slow network never
// holds up the scan path.
type Engine struct {
	guard       *cache.Guard
	clk         clock.Clock
	log         *zap.Logger
	callTimeout time.Duration
}

// NewEngine builds an engine. callTimeout bounds each individual
// remote call made during a cycle.
func NewEngine(guard *cache.Guard, clk clock.Clock, callTimeout time.Duration, log *zap.Logger) *Engine {
	return &Engine{guard: guard, clk: clk, log: log, callTimeout: callTimeout}
}

func (e *Engine) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

// Push sends every queued attendance event and every local-only
// identity to the remote store. Events the remote will not take stay
// queued for the next cycle; a non-nil error reports that some records
// remain. Returns the number of attendance records confirmed.
func (e *Engine) Push(ctx context.Context, rc remote.Client) (int, error) {
	var pending []model.AttendanceEvent
	var locals []model.Identity
	e.guard.View(func(s *model.Snapshot) {
		pending = append(pending, s.PendingAttendance...)
		for _, id := range s.Students {
			locals = append(locals, id)
		}
		for _, id := range s.Teachers {
			locals = append(locals, id)
		}
	})

	var firstErr error
	confirmed := map[string]bool{}
	for _, evt := range pending {
		if err := e.pushEvent(ctx, rc, evt); err != nil {
			e.log.Warn("attendance push failed, kept queued",
				zap.String("badge_key", evt.BadgeKey), zap.String("day", evt.Day()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		confirmed[evt.ID] = true
	}

	// Registrations made while offline are never dropped: any identity
	// the remote does not know yet is inserted.
	for _, id := range locals {
		if err := e.pushIdentity(ctx, rc, id); err != nil {
			e.log.Warn("identity push failed",
				zap.String("badge_key", id.BadgeKey), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(confirmed) > 0 {
		if err := e.guard.Update(func(s *model.Snapshot) {
			var still []model.AttendanceEvent
			for _, evt := range s.PendingAttendance {
				if !confirmed[evt.ID] {
					still = append(still, evt)
					continue
				}
				evt.Pending = false
				if !hasEvent(s.Attendance, evt.ID) {
					s.Attendance = append(s.Attendance, evt)
				}
			}
			if still == nil {
				still = []model.AttendanceEvent{}
			}
			s.PendingAttendance = still
		}); err != nil {
			metrics.CacheWriteFailures.Inc()
			e.log.Error("cache write after push failed", zap.Error(err))
		}
		metrics.SyncPushed.Add(float64(len(confirmed)))
	}

	if firstErr != nil {
		return len(confirmed), fmt.Errorf("push incomplete: %w", firstErr)
	}
	return len(confirmed), nil
}

func (e *Engine) pushEvent(ctx context.Context, rc remote.Client, evt model.AttendanceEvent) error {
	cctx, cancel := e.call(ctx)
	defer cancel()
	exists, err := rc.HasAttendanceOn(cctx, evt.BadgeKey, evt.Day())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	ictx, icancel := e.call(ctx)
	defer icancel()
	return rc.InsertAttendance(ictx, evt)
}

func (e *Engine) pushIdentity(ctx context.Context, rc remote.Client, id model.Identity) error {
	cctx, cancel := e.call(ctx)
	defer cancel()
	existing, err := rc.FindIdentity(cctx, id.BadgeKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	ictx, icancel := e.call(ctx)
	defer icancel()
	return rc.InsertIdentity(ictx, id)
}

// Pull fetches all identities from the remote store and replaces the
// local identity tables wholesale; the remote is authoritative for
// reference data. Attendance is never pulled, only merged by Push, so
// events recorded offline survive. Returns the number of identities
// pulled.
func (e *Engine) Pull(ctx context.Context, rc remote.Client) (int, error) {
	cctx, cancel := e.call(ctx)
	defer cancel()
	ids, err := rc.ListIdentities(cctx)
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}

	now := e.clk.Now()
	if err := e.guard.Update(func(s *model.Snapshot) {
		s.Students = map[string]model.Identity{}
		s.Teachers = map[string]model.Identity{}
		for _, id := range ids {
			s.PutIdentity(id)
		}
		s.LastSyncAt = &now
	}); err != nil {
		metrics.CacheWriteFailures.Inc()
		e.log.Error("cache write after pull failed", zap.Error(err))
	}
	metrics.SyncPulled.Add(float64(len(ids)))
	return len(ids), nil
}

// Sync is the full push-then-pull cycle, run on every reconnect and on
// operator demand.
func (e *Engine) Sync(ctx context.Context, rc remote.Client) error {
	pushed, pushErr := e.Push(ctx, rc)
	pulled, pullErr := e.Pull(ctx, rc)
	if pushErr != nil || pullErr != nil {
		metrics.SyncFailures.Inc()
		if pushErr != nil {
			return pushErr
		}
		return pullErr
	}
	if pushed > 0 || pulled > 0 {
		e.log.Info("sync complete", zap.Int("pushed", pushed), zap.Int("pulled", pulled))
	}
	return nil
}

func hasEvent(events []model.AttendanceEvent, id string) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}
