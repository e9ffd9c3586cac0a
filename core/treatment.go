package core

import (
	"fmt"
	"time"
)

// Treatment selects how an auction ends.
type Treatment int

const (
	// TreatmentHard ends at a fixed, publicly known deadline.
	TreatmentHard Treatment = iota + 1

	// TreatmentCandle accepts bids until the maximum duration, but only bids placed
	// before a secretly drawn earlier deadline count.
	TreatmentCandle

	// TreatmentActivity extends the deadline with every accepted bid.
	TreatmentActivity
)

// AllTreatments lists every treatment in configuration order.
var AllTreatments = []Treatment{TreatmentHard, TreatmentCandle, TreatmentActivity}

// Durations holds the per-treatment timing constants.
type Durations struct {
	Hard      time.Duration `yaml:"hard_duration" json:"hard_duration"`
	CandleMin time.Duration `yaml:"candle_duration_min" json:"candle_duration_min"`
	CandleMax time.Duration `yaml:"candle_duration_max" json:"candle_duration_max"`
	Activity  time.Duration `yaml:"activity_duration" json:"activity_duration"`
}

// DefaultDurations are the timings used by the experiment unless overridden.
var DefaultDurations = Durations{
	Hard:      60 * time.Second,
	CandleMin: 45 * time.Second,
	CandleMax: 90 * time.Second,
	Activity:  30 * time.Second,
}

// Validate checks all durations are positive and the candle range is ordered.
func (d Durations) Validate() error {
	if d.Hard <= 0 || d.CandleMin <= 0 || d.CandleMax <= 0 || d.Activity <= 0 {
		return fmt.Errorf("all auction durations must be positive")
	}
	if d.CandleMin > d.CandleMax {
		return fmt.Errorf("candle_duration_min (%s) exceeds candle_duration_max (%s)", d.CandleMin, d.CandleMax)
	}
	if d.CandleMin%time.Second != 0 || d.CandleMax%time.Second != 0 {
		return fmt.Errorf("candle durations must be whole seconds, got [%s, %s]", d.CandleMin, d.CandleMax)
	}
	return nil
}

// Timeout returns the bidding window of a treatment before any activity resets.
func (t Treatment) Timeout(d Durations) time.Duration {
	switch t {
	case TreatmentHard:
		return d.Hard
	case TreatmentCandle:
		return d.CandleMax
	case TreatmentActivity:
		return d.Activity
	default:
		panic(fmt.Sprintf("unknown treatment %d", int(t)))
	}
}

// Cutoff returns the timestamp up to which bids count for the canonical result,
// or nil when every admitted bid counts.
func (t Treatment) Cutoff(candleDuration time.Duration) *time.Duration {
	switch t {
	case TreatmentCandle:
		return At(candleDuration)
	case TreatmentHard, TreatmentActivity:
		return nil
	default:
		panic(fmt.Sprintf("unknown treatment %d", int(t)))
	}
}

// ResetsOnBid reports whether an accepted bid extends the deadline.
func (t Treatment) ResetsOnBid() bool {
	return t == TreatmentActivity
}

func (t Treatment) String() string {
	switch t {
	case TreatmentHard:
		return "hard"
	case TreatmentCandle:
		return "candle"
	case TreatmentActivity:
		return "activity"
	default:
		return fmt.Sprintf("treatment(%d)", int(t))
	}
}

// ParseTreatment parses the textual treatment name.
func ParseTreatment(s string) (Treatment, error) {
	for _, t := range AllTreatments {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown treatment: %q", s)
}

func (t Treatment) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Treatment) UnmarshalText(text []byte) error {
	parsed, err := ParseTreatment(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
