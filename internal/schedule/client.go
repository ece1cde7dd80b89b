// Package schedule fetches per-group session windows and classifies
// arrival times against them.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Schedule is one group's session window for today, in minutes past
// midnight, plus the minute offsets that split on-time from late and
// late from absent.
type Schedule struct {
	HasSession      bool
	StartMinutes    int
	EndMinutes      int
	GraceMinutes    int
	AbsentThreshold int
}

// Default is the documented fallback used whenever the schedule API is
// unreachable or answers unusably: 07:00-17:00, 20 minute grace,
// 60 minute absent threshold.
func Default() Schedule {
	return Schedule{
		HasSession:      true,
		StartMinutes:    7 * 60,
		EndMinutes:      17 * 60,
		GraceMinutes:    20,
		AbsentThreshold: 60,
	}
}

// Client fetches today's schedule for a group from the external
// schedule service. Unavailability degrades to defaults at the caller,
// never to an error on the scan path.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client with the given base URL and per-request
// timeout.
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type todayResponse struct {
	Success  bool `json:"success"`
	Schedule *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"schedule"`
	GracePeriodMinutes     int `json:"grace_period_minutes"`
	AbsentThresholdMinutes int `json:"absent_threshold_minutes"`
}

// Today fetches the group's schedule. A nil schedule in a successful
// response means the group has no session today (HasSession false).
// Any transport or decode failure is returned for the caller to
// substitute defaults.
func (c *Client) Today(ctx context.Context, group string) (Schedule, error) {
	url := fmt.Sprintf("%s/schedules/today/%s", c.base, group)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Schedule{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Schedule{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Schedule{}, fmt.Errorf("schedule api status %d", resp.StatusCode)
	}

	var body todayResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Schedule{}, fmt.Errorf("decode schedule: %w", err)
	}
	if !body.Success {
		return Schedule{}, fmt.Errorf("schedule api reported failure")
	}
	if body.Schedule == nil {
		return Schedule{HasSession: false}, nil
	}

	start, err := TimeToMinutes(body.Schedule.Start)
	if err != nil {
		return Schedule{}, fmt.Errorf("bad start time: %w", err)
	}
	end, err := TimeToMinutes(body.Schedule.End)
	if err != nil {
		return Schedule{}, fmt.Errorf("bad end time: %w", err)
	}

	sched := Schedule{
		HasSession:      true,
		StartMinutes:    start,
		EndMinutes:      end,
		GraceMinutes:    body.GracePeriodMinutes,
		AbsentThreshold: body.AbsentThresholdMinutes,
	}
	if sched.GraceMinutes <= 0 {
		sched.GraceMinutes = Default().GraceMinutes
	}
	if sched.AbsentThreshold <= 0 {
		sched.AbsentThreshold = Default().AbsentThreshold
	}
	return sched, nil
}

// TimeToMinutes converts "hh:mm" or "hh:mm:ss" to minutes past
// midnight; seconds are truncated.
func TimeToMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("malformed hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("malformed minute in %q", s)
	}
	return hh*60 + mm, nil
}
