package core

import "time"

// ClockState is the lifecycle phase of a group's auction.
type ClockState int

const (
	ClockNotStarted ClockState = iota
	ClockRunning
	ClockClosed
)

func (s ClockState) String() string {
	switch s {
	case ClockNotStarted:
		return "not_started"
	case ClockRunning:
		return "running"
	default:
		return "closed"
	}
}

// Clock tracks the bidding window of one group.
//
// Clock is not safe for concurrent use; writes are serialized by the owner of the group.
type Clock struct {
	treatment      Treatment
	durations      Durations
	candleDuration time.Duration

	started    bool
	startedAt  time.Time
	resettedAt time.Time

	now func() time.Time
}

// NewClock creates a stopped clock. candleDuration is only used by the candle treatment.
func NewClock(treatment Treatment, durations Durations, candleDuration time.Duration) *Clock {
	return &Clock{
		treatment:      treatment,
		durations:      durations,
		candleDuration: candleDuration,
		now:            time.Now,
	}
}

// WithNow replaces the time source; used by tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

func (c *Clock) Treatment() Treatment {
	return c.treatment
}

func (c *Clock) CandleDuration() time.Duration {
	return c.candleDuration
}

// Start opens the bidding window. Calling Start on a running clock is a no-op.
func (c *Clock) Start() {
	if c.started {
		return
	}
	c.started = true
	c.startedAt = c.now()
	c.resettedAt = c.startedAt
}

// Reset moves the deadline base to now.
func (c *Clock) Reset() {
	if !c.started {
		return
	}
	c.resettedAt = c.now()
}

// Elapsed returns the time since Start, zero if not started.
func (c *Clock) Elapsed() time.Duration {
	if !c.started {
		return 0
	}
	return c.now().Sub(c.startedAt)
}

// DurationMax returns the latest admissible bid timestamp, including activity extensions.
func (c *Clock) DurationMax() time.Duration {
	return c.resettedAt.Sub(c.startedAt) + c.treatment.Timeout(c.durations)
}

// DurationFinal returns the effective auction length used for results and export.
func (c *Clock) DurationFinal() time.Duration {
	if c.treatment == TreatmentCandle {
		return c.candleDuration
	}
	return c.DurationMax()
}

// Remaining returns the time left until DurationMax.
func (c *Clock) Remaining() time.Duration {
	if !c.started {
		return c.treatment.Timeout(c.durations)
	}
	return c.DurationMax() - c.Elapsed()
}

// IsValidTimestamp reports whether t lies in (0, DurationMax].
func (c *Clock) IsValidTimestamp(t time.Duration) bool {
	return c.started && 0 < t && t <= c.DurationMax()
}

// State derives the lifecycle phase from the elapsed time.
func (c *Clock) State() ClockState {
	switch {
	case !c.started:
		return ClockNotStarted
	case c.Elapsed() <= c.DurationMax():
		return ClockRunning
	default:
		return ClockClosed
	}
}

// Cutoff returns the canonical result cutoff of the treatment.
func (c *Clock) Cutoff() *time.Duration {
	return c.treatment.Cutoff(c.candleDuration)
}
