package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tamtap/internal/model"
)

// EarlyBufferMinutes is how far before the scheduled start an arrival
// is still accepted.
const EarlyBufferMinutes = 30

// DeclineReason is a named business-rule outcome, distinct from a
// fault.
type DeclineReason string

const (
	ReasonTooEarly       DeclineReason = "TOO_EARLY"
	ReasonClassesEnded   DeclineReason = "CLASSES_ENDED"
	ReasonNoClassesToday DeclineReason = "NO_CLASSES_TODAY"
)

// Decision is the classifier's verdict on one arrival.
type Decision struct {
	Admit  bool
	Status model.Status  // valid when admitted
	Reason DeclineReason // valid when declined
}

// Classifier converts an arrival time plus a fetched (or defaulted)
// schedule into an admission decision and a status label.
type Classifier struct {
	client *Client
	log    *zap.Logger
}

// NewClassifier wraps the schedule client.
func NewClassifier(client *Client, log *zap.Logger) *Classifier {
	return &Classifier{client: client, log: log}
}

// Classify decides admission for an arrival. A fetch failure
// substitutes the documented defaults rather than failing the scan;
// an identity with no group (teachers) classifies against the defaults
// directly.
//
// Cutoffs are inclusive at the minute: an arrival at exactly
// start+grace is still on_time. Comparisons run at second granularity
// so one second past the cutoff tips the label.
func (c *Classifier) Classify(ctx context.Context, group string, arrival time.Time) Decision {
	sched := Default()
	if group != "" {
		fetched, err := c.client.Today(ctx, group)
		if err != nil {
			c.log.Warn("schedule fetch failed, using defaults",
				zap.String("group", group), zap.Error(err))
		} else {
			sched = fetched
		}
	}

	if !sched.HasSession {
		return Decision{Reason: ReasonNoClassesToday}
	}

	arrSec := arrival.Hour()*3600 + arrival.Minute()*60 + arrival.Second()
	if arrSec < (sched.StartMinutes-EarlyBufferMinutes)*60 {
		return Decision{Reason: ReasonTooEarly}
	}
	if arrSec > sched.EndMinutes*60 {
		return Decision{Reason: ReasonClassesEnded}
	}

	switch {
	case arrSec <= (sched.StartMinutes+sched.GraceMinutes)*60:
		return Decision{Admit: true, Status: model.StatusOnTime}
	case arrSec <= (sched.StartMinutes+sched.AbsentThreshold)*60:
		return Decision{Admit: true, Status: model.StatusLate}
	default:
		// Very late but still within the session: recorded as absent,
		// not declined.
		return Decision{Admit: true, Status: model.StatusAbsent}
	}
}
