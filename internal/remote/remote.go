// Package remote is the canonical store. It is authoritative for
// identity reference data and is the eventual home of every attendance
// event; the local cache stands in for it whenever it is unreachable.
package remote

import (
	"context"

	"tamtap/internal/model"
)

// Client is the handle to the canonical store. Every call takes a
// context with a short deadline so the scan path and shutdown are never
// blocked indefinitely on a dead network.
//
// Absence is reported as (nil, nil) / (false, nil), never as an error;
// errors always mean the remote could not answer.
type Client interface {
	// Ping is the cheap liveness probe used by the connection
	// supervisor.
	Ping(ctx context.Context) error

	FindIdentity(ctx context.Context, badgeKey string) (*model.Identity, error)
	FindBySequence(ctx context.Context, sequenceID string) (*model.Identity, error)
	InsertIdentity(ctx context.Context, id model.Identity) error
	DeleteIdentity(ctx context.Context, badgeKey string) (model.Role, bool, error)
	ListIdentities(ctx context.Context) ([]model.Identity, error)

	// MaxSequence returns the highest numeric sequence id present, 0
	// when the store is empty.
	MaxSequence(ctx context.Context) (int, error)

	HasAttendanceOn(ctx context.Context, badgeKey, day string) (bool, error)
	// InsertAttendance is idempotent per (badge key, day): a second
	// insert for the same day is a no-op, not an error.
	InsertAttendance(ctx context.Context, evt model.AttendanceEvent) error
	ListAttendanceOn(ctx context.Context, day string) ([]model.AttendanceEvent, error)

	Close() error
}
