package records

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tamtap/internal/cache"
	"tamtap/internal/model"
	"tamtap/internal/syncer"
)

// SequenceWidth is the zero-padded width of human-facing sequence ids,
// "001" through "999".
const SequenceWidth = 3

// Allocator derives the next unique sequential identifier without
// central coordination. The remote may hold ids written while the
// cache was stale, and the cache may hold ids registered offline, so
// the only cheap collision-free answer is the max over the remote,
// the local tables, and the stored counter.
type Allocator struct {
	guard   *cache.Guard
	sup     *syncer.Supervisor
	timeout time.Duration
	log     *zap.Logger
}

// Next returns the next free sequence id, zero-padded.
func (a *Allocator) Next(ctx context.Context) string {
	max := 0

	if a.sup.Connected() {
		if rc := a.sup.Client(); rc != nil {
			cctx, cancel := context.WithTimeout(ctx, a.timeout)
			n, err := rc.MaxSequence(cctx)
			cancel()
			if err != nil {
				a.log.Warn("remote max-sequence scan failed", zap.Error(err))
			} else if n > max {
				max = n
			}
		}
	}

	stored := 1
	a.guard.View(func(snap *model.Snapshot) {
		stored = snap.NextSequenceID
		for _, id := range snap.Students {
			if n, ok := ParseSequence(id.SequenceID); ok && n > max {
				max = n
			}
		}
		for _, id := range snap.Teachers {
			if n, ok := ParseSequence(id.SequenceID); ok && n > max {
				max = n
			}
		}
	})

	next := max + 1
	if stored > next {
		next = stored
	}
	return FormatSequence(next)
}

// Exists reports whether a sequence id is taken in either store.
func (a *Allocator) Exists(ctx context.Context, sequenceID string) bool {
	sequenceID = PadSequence(sequenceID)

	if a.sup.Connected() {
		if rc := a.sup.Client(); rc != nil {
			cctx, cancel := context.WithTimeout(ctx, a.timeout)
			id, err := rc.FindBySequence(cctx, sequenceID)
			cancel()
			if err != nil {
				a.log.Warn("remote sequence check failed", zap.Error(err))
			} else if id != nil {
				return true
			}
		}
	}

	taken := false
	a.guard.View(func(snap *model.Snapshot) {
		for _, id := range snap.Students {
			if id.SequenceID == sequenceID {
				taken = true
				return
			}
		}
		for _, id := range snap.Teachers {
			if id.SequenceID == sequenceID {
				taken = true
				return
			}
		}
	})
	return taken
}

// FormatSequence renders a numeric id at the fixed width.
func FormatSequence(n int) string {
	return fmt.Sprintf("%0*d", SequenceWidth, n)
}

// ParseSequence parses a sequence id back to its number.
func ParseSequence(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// PadSequence normalizes a manually-entered id to the fixed width,
// leaving non-numeric input untouched for the Exists check to reject.
func PadSequence(s string) string {
	if n, ok := ParseSequence(s); ok {
		return FormatSequence(n)
	}
	return s
}
