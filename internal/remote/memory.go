package remote

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"tamtap/internal/model"
)

// ErrUnavailable is what a failing Memory store returns from every
// call, standing in for a dead network.
var ErrUnavailable = errors.New("remote unavailable")

// Memory is the in-process canonical store used as the dev backend and
// in tests. SetFailing simulates the remote dropping off the network.
type Memory struct {
	mu         sync.Mutex
	failing    bool
	identities map[string]model.Identity
	attendance map[string]model.AttendanceEvent // keyed badgeKey+"|"+day
}

// NewMemory returns an empty in-memory canonical store.
func NewMemory() *Memory {
	return &Memory{
		identities: map[string]model.Identity{},
		attendance: map[string]model.AttendanceEvent{},
	}
}

// SetFailing toggles simulated unavailability. While failing, every
// call (including Ping) returns ErrUnavailable.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *Memory) check() error {
	if m.failing {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *Memory) FindIdentity(ctx context.Context, badgeKey string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	if id, ok := m.identities[badgeKey]; ok {
		cp := id
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) FindBySequence(ctx context.Context, sequenceID string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	for _, id := range m.identities {
		if id.SequenceID == sequenceID {
			cp := id
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) InsertIdentity(ctx context.Context, id model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.identities[id.BadgeKey]; ok {
		return nil
	}
	m.identities[id.BadgeKey] = id
	return nil
}

func (m *Memory) DeleteIdentity(ctx context.Context, badgeKey string) (model.Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", false, err
	}
	id, ok := m.identities[badgeKey]
	if !ok {
		return "", false, nil
	}
	delete(m.identities, badgeKey)
	return id.Role, true, nil
}

func (m *Memory) ListIdentities(ctx context.Context) ([]model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]model.Identity, 0, len(m.identities))
	for _, id := range m.identities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}

func (m *Memory) MaxSequence(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	max := 0
	for _, id := range m.identities {
		if n, err := strconv.Atoi(id.SequenceID); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

func (m *Memory) HasAttendanceOn(ctx context.Context, badgeKey, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	_, ok := m.attendance[badgeKey+"|"+day]
	return ok, nil
}

func (m *Memory) InsertAttendance(ctx context.Context, evt model.AttendanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	key := evt.BadgeKey + "|" + evt.Day()
	if _, ok := m.attendance[key]; ok {
		return nil
	}
	evt.Pending = false
	m.attendance[key] = evt
	return nil
}

func (m *Memory) ListAttendanceOn(ctx context.Context, day string) ([]model.AttendanceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []model.AttendanceEvent
	for _, evt := range m.attendance {
		if evt.Day() == day {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (m *Memory) Close() error { return nil }
