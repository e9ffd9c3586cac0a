package session

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/slotauction/core"
)

// ValuationConfig bounds the private valuations drawn each round.
type ValuationConfig struct {
	// GlobalMin and GlobalMax bound the global bidder's value of the full bundle
	GlobalMin core.Currency `yaml:"global_min"`
	GlobalMax core.Currency `yaml:"global_max"`

	// LocalTotal is the budget split across a local bidder's choices
	LocalTotal core.Currency `yaml:"local_total"`
}

// Config describes an experiment session.
type Config struct {
	// Code identifies the session in exports; generated when empty
	Code string `yaml:"session_code,omitempty"`

	Slots core.SlotConfig `yaml:",inline"`

	PlayersPerGroup   int `yaml:"players_per_group"`
	NumRounds         int `yaml:"num_rounds"`
	NumPracticeRounds int `yaml:"num_practice_rounds"`

	HardParticipants     int `yaml:"num_hard_participants"`
	CandleParticipants   int `yaml:"num_candle_participants"`
	ActivityParticipants int `yaml:"num_activity_participants"`

	// ShuffleGroups regroups participants every round instead of only at the start of the
	// practice and the paid rounds
	ShuffleGroups bool `yaml:"shuffle_groups"`

	Valuations ValuationConfig `yaml:"valuations"`
	Durations  core.Durations  `yaml:"durations"`
}

// DefaultConfig returns the standard experiment settings with no participants.
func DefaultConfig() Config {
	return Config{
		Slots:             core.SlotConfig{GlobalSlots: 2, LocalSlots: 1},
		PlayersPerGroup:   3,
		NumRounds:         15,
		NumPracticeRounds: 3,
		Valuations: ValuationConfig{
			GlobalMin:  core.Units(90),
			GlobalMax:  core.Units(110),
			LocalTotal: core.Units(80),
		},
		Durations: core.DefaultDurations,
	}
}

// LoadConfig reads a YAML session config on top of DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session config: %w", err)
	}

	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing session config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	return &cfg, nil
}

// NumParticipants is the total over all treatments.
func (c *Config) NumParticipants() int {
	return c.HardParticipants + c.CandleParticipants + c.ActivityParticipants
}

// Participants returns the configured count for a treatment.
func (c *Config) Participants(t core.Treatment) int {
	switch t {
	case core.TreatmentHard:
		return c.HardParticipants
	case core.TreatmentCandle:
		return c.CandleParticipants
	case core.TreatmentActivity:
		return c.ActivityParticipants
	default:
		return 0
	}
}

// Validate checks the config can be turned into groups and rounds.
func (c *Config) Validate() error {
	if err := c.Slots.Validate(); err != nil {
		return err
	}
	if err := c.Durations.Validate(); err != nil {
		return err
	}

	if c.PlayersPerGroup < 2 {
		return fmt.Errorf("players_per_group must be at least 2, got %d", c.PlayersPerGroup)
	}
	if c.NumRounds < 1 {
		return fmt.Errorf("num_rounds must be positive, got %d", c.NumRounds)
	}
	if c.NumPracticeRounds < 0 || c.NumPracticeRounds >= c.NumRounds {
		return fmt.Errorf("num_practice_rounds must be in [0, %d), got %d", c.NumRounds, c.NumPracticeRounds)
	}

	if c.NumParticipants() == 0 {
		return fmt.Errorf("session needs at least one participant")
	}
	for _, t := range core.AllTreatments {
		if n := c.Participants(t); n < 0 || n%c.PlayersPerGroup != 0 {
			return fmt.Errorf("number of %s participants (%d) has to be a multiple of group size %d", t, n, c.PlayersPerGroup)
		}
	}

	v := c.Valuations
	if v.GlobalMin <= 0 || v.GlobalMax < v.GlobalMin {
		return fmt.Errorf("global valuation range [%s, %s] is invalid", v.GlobalMin, v.GlobalMax)
	}
	if v.LocalTotal < 0 || v.LocalTotal%100 != 0 {
		return fmt.Errorf("local_total must be a non-negative whole amount, got %s", v.LocalTotal)
	}
	return nil
}
