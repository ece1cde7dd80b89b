// Package machine orchestrates a single badge scan: identity lookup,
// dedup check, liveness verification, classification, and the final
// attendance commit. One scan is fully resolved before the next is
// accepted, which is what makes the single cache lock sufficient.
package machine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tamtap/internal/capture"
	"tamtap/internal/clock"
	"tamtap/internal/metrics"
	"tamtap/internal/model"
	"tamtap/internal/records"
	"tamtap/internal/schedule"
)

// State is where the machine currently is in a scan.
type State string

const (
	StateIdle          State = "IDLE"
	StateLookup        State = "LOOKUP"
	StateVerify        State = "VERIFY"
	StateCommit        State = "COMMIT"
	StateDecline       State = "DECLINE"
	StateAlreadyLogged State = "ALREADY_LOGGED"
	StateRejectUnknown State = "REJECT_UNKNOWN"
)

// OutcomeKind is the admission result enum rendered by the hardware
// feedback layer.
type OutcomeKind string

const (
	OutcomeAdmitted      OutcomeKind = "admitted"
	OutcomeDeclined      OutcomeKind = "declined"
	OutcomeAlreadyLogged OutcomeKind = "already_logged"
	OutcomeUnknown       OutcomeKind = "unknown"
)

// Decline reasons produced by the machine itself; classifier reasons
// pass through unchanged.
const (
	ReasonLivenessFailed     = "LIVENESS_FAILED"
	ReasonCaptureUnavailable = "CAPTURE_UNAVAILABLE"
)

// Outcome is the fully-resolved result of one scan.
type Outcome struct {
	Kind     OutcomeKind            `json:"kind"`
	Status   model.Status           `json:"status,omitempty"` // set when admitted
	Reason   string                 `json:"reason,omitempty"` // set when declined
	Identity *model.Identity        `json:"identity,omitempty"`
	Event    *model.AttendanceEvent `json:"event,omitempty"`
}

// Machine drives the scan state machine against the record store and
// the external collaborators.
type Machine struct {
	store      *records.Store
	verifier   capture.Verifier
	classifier *schedule.Classifier
	clk        clock.Clock
	log        *zap.Logger

	scanMu  sync.Mutex // serializes scans; no concurrent scans in flight
	stateMu sync.Mutex
	state   State
}

// New builds a machine in the IDLE state.
func New(store *records.Store, verifier capture.Verifier, classifier *schedule.Classifier, clk clock.Clock, log *zap.Logger) *Machine {
	return &Machine{
		store:      store,
		verifier:   verifier,
		classifier: classifier,
		clk:        clk,
		log:        log,
		state:      StateIdle,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// verifyTimeout bounds the capture collaborator so a stuck camera
// cannot stall the scan path.
const verifyTimeout = 8 * time.Second

// Scan processes one badge read end to end and returns to IDLE. Calls
// are serialized; a second scan blocks until the first resolves.
func (m *Machine) Scan(ctx context.Context, badgeKey string) Outcome {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	defer m.setState(StateIdle)

	m.setState(StateLookup)
	m.log.Info("scan", zap.String("badge_key", badgeKey))

	identity, found := m.store.Lookup(ctx, badgeKey)
	if !found {
		m.setState(StateRejectUnknown)
		m.log.Warn("unknown badge", zap.String("badge_key", badgeKey))
		return m.finish(Outcome{Kind: OutcomeUnknown})
	}

	if m.store.AlreadyLoggedToday(ctx, badgeKey) {
		m.setState(StateAlreadyLogged)
		m.log.Info("already logged today", zap.String("badge_key", badgeKey))
		return m.finish(Outcome{Kind: OutcomeAlreadyLogged, Identity: &identity})
	}

	m.setState(StateVerify)
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	result, err := m.verifier.CaptureAndVerify(vctx, identity)
	cancel()
	if err != nil {
		m.setState(StateDecline)
		m.log.Warn("capture collaborator failed", zap.Error(err))
		return m.finish(Outcome{Kind: OutcomeDeclined, Reason: ReasonCaptureUnavailable, Identity: &identity})
	}
	if !result.OK {
		m.setState(StateDecline)
		m.log.Info("liveness check failed", zap.String("badge_key", badgeKey))
		return m.finish(Outcome{Kind: OutcomeDeclined, Reason: ReasonLivenessFailed, Identity: &identity})
	}

	decision := m.classifier.Classify(ctx, identity.Group, m.clk.Now())
	if !decision.Admit {
		m.setState(StateDecline)
		m.log.Info("policy decline",
			zap.String("badge_key", badgeKey), zap.String("reason", string(decision.Reason)))
		return m.finish(Outcome{Kind: OutcomeDeclined, Reason: string(decision.Reason), Identity: &identity})
	}

	m.setState(StateCommit)
	evt, err := m.store.CommitAttendance(ctx, badgeKey, decision.Status, result.ArtifactRef)
	if err != nil {
		if errors.Is(err, records.ErrAlreadyLogged) {
			// The dedup race closed at commit time; same terminal state
			// as the earlier check.
			m.setState(StateAlreadyLogged)
			return m.finish(Outcome{Kind: OutcomeAlreadyLogged, Identity: &identity})
		}
		m.setState(StateDecline)
		m.log.Error("attendance commit failed", zap.Error(err))
		return m.finish(Outcome{Kind: OutcomeDeclined, Reason: "COMMIT_FAILED", Identity: &identity})
	}

	m.log.Info("admitted",
		zap.String("badge_key", badgeKey),
		zap.String("status", string(decision.Status)),
		zap.Bool("pending", evt.Pending))
	return m.finish(Outcome{Kind: OutcomeAdmitted, Status: decision.Status, Identity: &identity, Event: &evt})
}

func (m *Machine) finish(o Outcome) Outcome {
	metrics.Scans.WithLabelValues(string(o.Kind)).Inc()
	return o
}
