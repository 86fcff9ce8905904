package fluidnc

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HomingFailure says why a homing cycle did not complete.
type HomingFailure int

const (
	// HomingNeverStarted means no cycle marker was ever seen; the
	// trigger command itself probably failed.
	HomingNeverStarted HomingFailure = iota
	// HomingTimedOut means the cycle started but went quiet before
	// the terminal marker.
	HomingTimedOut
	// HomingAlarm means the firmware raised an alarm mid-cycle.
	HomingAlarm
)

func (f HomingFailure) String() string {
	switch f {
	case HomingNeverStarted:
		return "never started"
	case HomingTimedOut:
		return "timed out"
	case HomingAlarm:
		return "alarm"
	}
	return "unknown"
}

// HomingError reports a failed homing cycle.
type HomingError struct {
	Reason    HomingFailure
	AlarmCode int
}

func (e *HomingError) Error() string {
	switch e.Reason {
	case HomingNeverStarted:
		return "fluidnc: homing never started, no cycle marker seen"
	case HomingTimedOut:
		return "fluidnc: homing timed out mid-cycle"
	case HomingAlarm:
		if e.AlarmCode != 0 {
			return fmt.Sprintf("fluidnc: alarm %d during homing", e.AlarmCode)
		}
		return "fluidnc: alarm during homing"
	}
	return "fluidnc: homing failed"
}

// HomingSession decides when a homing cycle has truly finished. The
// protocol has no structured completion reply, only debug chatter:
// a cycle marker containing "Homing" and "Cycle", per-axis
// "Homed:<axis>" markers, and a terminal marker containing "Homing"
// and "done" ("done" matched case-insensitively). Success requires
// the terminal marker plus a following Idle status report, because
// some builds blip through Idle mid-sequence.
type HomingSession struct {
	mu       sync.Mutex
	started  bool
	terminal bool
	homed    map[string]bool
}

func NewHomingSession() *HomingSession {
	return &HomingSession{homed: make(map[string]bool)}
}

// Started reports whether the cycle marker has been seen.
func (h *HomingSession) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// HomedAxes lists the axes with completion markers so far, sorted.
func (h *HomingSession) HomedAxes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	axes := make([]string, 0, len(h.homed))
	for a := range h.homed {
		axes = append(axes, a)
	}
	sort.Strings(axes)
	return axes
}

// Observe consumes one classified message. done=true with a nil
// error means the cycle completed; done with an error means it
// failed. Acks are not part of the grammar and are ignored.
func (h *HomingSession) Observe(msg Message) (done bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Kind {
	case KindDebug:
		return h.observeText(msg.Text)
	case KindAlarm:
		return true, &HomingError{Reason: HomingAlarm, AlarmCode: msg.Code}
	case KindStatus:
		if msg.Report.StateIs("Alarm") {
			return true, &HomingError{Reason: HomingAlarm}
		}
		if h.terminal && msg.Report.StateIs("Idle") {
			return true, nil
		}
	}
	return false, nil
}

func (h *HomingSession) observeText(text string) (bool, error) {
	if strings.Contains(text, "ALARM") {
		return true, &HomingError{Reason: HomingAlarm}
	}

	hasHoming := strings.Contains(text, "Homing")
	if hasHoming && strings.Contains(strings.ToLower(text), "done") {
		h.started = true
		h.terminal = true
		return false, nil
	}
	if hasHoming && strings.Contains(text, "Cycle") {
		h.started = true
		return false, nil
	}
	if i := strings.Index(text, "Homed:"); i >= 0 {
		axis, _, _ := strings.Cut(text[i+len("Homed:"):], " ")
		axis = strings.TrimSpace(axis)
		if axis != "" {
			h.homed[axis] = true
		}
		h.started = true
	}
	return false, nil
}

// TimeoutError distinguishes a cycle that never visibly started from
// one that went quiet mid-run.
func (h *HomingSession) TimeoutError() *HomingError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return &HomingError{Reason: HomingNeverStarted}
	}
	return &HomingError{Reason: HomingTimedOut}
}
