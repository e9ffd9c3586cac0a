package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/slotauction/core"
)

// Participant is a person taking part in the whole session.
// Treatment and role are fixed for all rounds.
type Participant struct {
	Code      string         `json:"code"`
	Treatment core.Treatment `json:"treatment"`
	Role      core.Role      `json:"role"`
}

// Member is a participant's seat in one group of one round.
type Member struct {
	Participant *Participant    `json:"participant"`
	Player      core.PlayerID   `json:"player"`
	Valuations  core.Valuations `json:"valuations"`
}

// Bidder returns the member as seen by the validator.
func (m *Member) Bidder() core.Bidder {
	return core.Bidder{ID: m.Player, Role: m.Participant.Role, Valuations: m.Valuations}
}

// Group is one auction of a round. The global bidder is always player 1.
type Group struct {
	ID             core.GroupID   `json:"id"`
	Round          int            `json:"round"`
	Treatment      core.Treatment `json:"treatment"`
	CandleDuration time.Duration  `json:"candle_duration"`
	Members        []*Member      `json:"members"`
}

// NewClock returns a stopped clock for the group's treatment.
func (g *Group) NewClock(durations core.Durations) *core.Clock {
	return core.NewClock(g.Treatment, durations, g.CandleDuration)
}

// Cutoff returns the canonical result cutoff of the group.
func (g *Group) Cutoff() *time.Duration {
	return g.Treatment.Cutoff(g.CandleDuration)
}

// Bidders returns all members as bidders.
func (g *Group) Bidders() []core.Bidder {
	bidders := make([]core.Bidder, len(g.Members))
	for i, m := range g.Members {
		bidders[i] = m.Bidder()
	}
	return bidders
}

// Round holds the groups formed for one round.
type Round struct {
	Number   int      `json:"number"`
	Practice bool     `json:"practice"`
	Groups   []*Group `json:"groups"`
}

// Session assigns participants to treatments, roles and groups and draws the private
// values of every round.
//
// Session is not safe for concurrent use.
type Session struct {
	Code         string
	Config       Config
	Participants []*Participant

	// RewardRound is the paid round, drawn among the non-practice rounds
	RewardRound int

	rounds    map[int]*Round
	nextGroup core.GroupID
	rng       RandSource
}

// New creates a session. A nil rng uses crypto/rand.
func New(cfg Config, rng RandSource) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if rng == nil {
		rng = defaultRandSource
	}

	code := cfg.Code
	if code == "" {
		code = newCode()
	}

	s := &Session{
		Code:      code,
		Config:    cfg,
		rounds:    make(map[int]*Round),
		nextGroup: 1,
		rng:       rng,
	}
	s.assignParticipants()
	s.RewardRound = between(rng, cfg.NumPracticeRounds+1, cfg.NumRounds)

	return s, nil
}

func newCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// assignParticipants hands out treatment and role combinations in random order.
// Every treatment contributes one global and G-1 local seats per group.
func (s *Session) assignParticipants() {
	g := s.Config.PlayersPerGroup

	type seat struct {
		treatment core.Treatment
		role      core.Role
	}
	var seats []seat
	for _, t := range core.AllTreatments {
		groups := s.Config.Participants(t) / g
		for i := 0; i < groups; i++ {
			seats = append(seats, seat{t, core.RoleGlobal})
		}
		for i := 0; i < groups*(g-1); i++ {
			seats = append(seats, seat{t, core.RoleLocal})
		}
	}
	shuffle(s.rng, len(seats), func(i, j int) { seats[i], seats[j] = seats[j], seats[i] })

	s.Participants = make([]*Participant, len(seats))
	for i, st := range seats {
		s.Participants[i] = &Participant{Code: newCode(), Treatment: st.treatment, Role: st.role}
	}
}

// StartGroupsAt numbers the groups of the session's rounds from first on. It must be
// called before the first round is set up.
func (s *Session) StartGroupsAt(first core.GroupID) error {
	if len(s.rounds) > 0 {
		return fmt.Errorf("groups of session %s are already numbered", s.Code)
	}
	if first < 1 {
		return fmt.Errorf("first group id must be positive, got %d", first)
	}
	s.nextGroup = first
	return nil
}

// Round returns a previously set up round.
func (s *Session) Round(number int) (*Round, bool) {
	r, ok := s.rounds[number]
	return r, ok
}

// Participant looks up a participant by code.
func (s *Session) Participant(code string) (*Participant, bool) {
	for _, p := range s.Participants {
		if p.Code == code {
			return p, true
		}
	}
	return nil, false
}

// SetupRound forms the groups of a round and draws candle durations and valuations.
// Groups are reshuffled in the first round, the first paid round and, if configured,
// every round; otherwise the previous round's seating is kept.
func (s *Session) SetupRound(number int) (*Round, error) {
	if number < 1 || number > s.Config.NumRounds {
		return nil, fmt.Errorf("round %d out of range [1, %d]", number, s.Config.NumRounds)
	}
	if _, ok := s.rounds[number]; ok {
		return nil, fmt.Errorf("round %d already set up", number)
	}

	var matrix [][]*Participant
	previous, hasPrevious := s.rounds[number-1]
	if s.Config.ShuffleGroups || number == 1 || number == s.Config.NumPracticeRounds+1 || !hasPrevious {
		matrix = s.groupMatrix()
	} else {
		for _, g := range previous.Groups {
			row := make([]*Participant, len(g.Members))
			for i, m := range g.Members {
				row[i] = m.Participant
			}
			matrix = append(matrix, row)
		}
	}

	round := &Round{Number: number, Practice: number <= s.Config.NumPracticeRounds}
	for _, row := range matrix {
		group := &Group{
			ID:        s.nextGroup,
			Round:     number,
			Treatment: row[0].Treatment,
		}
		s.nextGroup++

		d := s.Config.Durations
		seconds := between(s.rng, int(d.CandleMin/time.Second), int(d.CandleMax/time.Second))
		group.CandleDuration = time.Duration(seconds) * time.Second

		for i, p := range row {
			group.Members = append(group.Members, &Member{
				Participant: p,
				Player:      core.PlayerID(i + 1),
				Valuations:  s.drawValuations(p.Role),
			})
		}
		round.Groups = append(round.Groups, group)
	}

	s.rounds[number] = round
	return round, nil
}

// groupMatrix seats one random global and G-1 random local participants of the same
// treatment per group. Groups are ordered by treatment.
func (s *Session) groupMatrix() [][]*Participant {
	g := s.Config.PlayersPerGroup

	var matrix [][]*Participant
	for _, t := range core.AllTreatments {
		var globals, locals []*Participant
		for _, p := range s.Participants {
			if p.Treatment != t {
				continue
			}
			if p.Role == core.RoleGlobal {
				globals = append(globals, p)
			} else {
				locals = append(locals, p)
			}
		}

		shuffle(s.rng, len(globals), func(i, j int) { globals[i], globals[j] = globals[j], globals[i] })
		shuffle(s.rng, len(locals), func(i, j int) { locals[i], locals[j] = locals[j], locals[i] })

		for i, global := range globals {
			row := []*Participant{global}
			row = append(row, locals[i*(g-1):(i+1)*(g-1)]...)
			matrix = append(matrix, row)
		}
	}
	return matrix
}

// drawValuations draws the private values of one member.
// Global bidders value the full bundle uniformly within the configured range. Local bidders
// split the local budget across their choices: uniformly between two choices, unit by unit
// otherwise.
func (s *Session) drawValuations(role core.Role) core.Valuations {
	n, l := s.Config.Slots.GlobalSlots, s.Config.Slots.LocalSlots
	v := s.Config.Valuations

	if role == core.RoleGlobal {
		steps := int((v.GlobalMax - v.GlobalMin) / core.Units(1))
		return core.GlobalValuations(n, v.GlobalMin+core.Units(int64(between(s.rng, 0, steps))))
	}

	choices := len(core.LocalValues(n, l))
	total := int(v.LocalTotal / core.Units(1))
	counts := make([]int, choices)
	if choices == 2 {
		k := between(s.rng, 0, total)
		counts[0], counts[1] = k, total-k
	} else {
		for i := 0; i < total; i++ {
			counts[s.rng.Intn(choices)]++
		}
	}

	values := make([]core.Currency, choices)
	for i, c := range counts {
		values[i] = core.Units(int64(c))
	}
	return core.LocalValuations(n, l, values)
}

// NewAuction creates the auction of a group backed by ledger.
func (s *Session) NewAuction(g *Group, ledger core.Ledger) *core.Auction {
	return core.NewAuction(s.Config.Slots, g.ID, g.NewClock(s.Config.Durations), ledger)
}

// Report builds the final report of every group of a round.
func (s *Session) Report(ctx context.Context, ledger core.Ledger, number int) ([]*core.GroupReport, error) {
	round, ok := s.rounds[number]
	if !ok {
		return nil, fmt.Errorf("round %d not set up", number)
	}

	reports := make([]*core.GroupReport, 0, len(round.Groups))
	for _, g := range round.Groups {
		report, err := s.NewAuction(g, ledger).Report(ctx, g.Bidders())
		if err != nil {
			return nil, fmt.Errorf("report group %d: %w", g.ID, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Payoff returns every participant's profit in the reward round, keyed by participant code.
func (s *Session) Payoff(ctx context.Context, ledger core.Ledger) (map[string]core.Currency, error) {
	round, ok := s.rounds[s.RewardRound]
	if !ok {
		return nil, fmt.Errorf("reward round %d not set up", s.RewardRound)
	}

	payoff := make(map[string]core.Currency, len(s.Participants))
	for _, g := range round.Groups {
		result, err := core.DetermineWinners(ctx, ledger, g.ID, s.Config.Slots, g.Cutoff())
		if err != nil {
			return nil, fmt.Errorf("result of group %d: %w", g.ID, err)
		}
		for _, m := range g.Members {
			payoff[m.Participant.Code] = result.Profit(m.Player, m.Valuations)
		}
	}
	return payoff, nil
}
