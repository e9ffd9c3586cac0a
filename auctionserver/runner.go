package auctionserver

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/slotauction/attest"
	"github.com/cloudx-io/slotauction/auctionapi"
	"github.com/cloudx-io/slotauction/core"
	"github.com/cloudx-io/slotauction/session"
	"github.com/cloudx-io/slotauction/storage/sqlite"
)

// Run plays every round of the session in order and publishes the payoffs.
func (s *Server) Run(ctx context.Context) error {
	first, err := s.store.NextGroupID(ctx)
	if err != nil {
		return err
	}
	if err := s.session.StartGroupsAt(first); err != nil {
		return err
	}

	for number := 1; number <= s.session.Config.NumRounds; number++ {
		if err := s.runRound(ctx, number); err != nil {
			return fmt.Errorf("round %d: %w", number, err)
		}
	}

	payoff, err := s.session.Payoff(ctx, s.store)
	if err != nil {
		return fmt.Errorf("payoff: %w", err)
	}

	s.mu.Lock()
	s.current = nil
	s.finished = true
	s.payoff = payoff
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session":      s.session.Code,
		"reward_round": s.session.RewardRound,
	}).Info("Session complete")

	for _, code := range s.hub.Codes() {
		s.hub.Send(code, s.finishedNotice(code))
	}
	return nil
}

func (s *Server) runRound(ctx context.Context, number int) error {
	round, err := s.session.SetupRound(number)
	if err != nil {
		return err
	}
	if err := s.persistRound(ctx, round); err != nil {
		return err
	}

	state := &roundState{round: round, seats: make(map[string]seatRef)}
	for _, g := range round.Groups {
		room := NewRoom(g, s.session.NewAuction(g, s.store), s.cache)
		state.rooms = append(state.rooms, room)
		for _, m := range g.Members {
			state.seats[m.Participant.Code] = seatRef{room: room, player: m.Player}
		}
	}

	s.mu.Lock()
	s.current = state
	for code, ref := range state.seats {
		s.lastGroup[code] = ref.room.Group().ID
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"round":    number,
		"practice": round.Practice,
		"groups":   len(round.Groups),
	}).Info("Round started")

	// Participants still connected from the previous round are seated right away
	for _, code := range s.hub.Codes() {
		ref, ok := state.seats[code]
		if !ok {
			continue
		}
		if _, err := ref.room.Join(ctx, ref.player); err != nil {
			return err
		}
		s.hub.Send(code, auctionapi.RoundNotice{
			Type: auctionapi.TypeRound,
			Seat: ref.room.seat(ref.room.Member(ref.player), round.Practice, s.session.Config.Slots),
		})
	}

	if err := s.waitClosed(ctx, state); err != nil {
		return err
	}
	return s.closeRound(ctx, round, state)
}

func (s *Server) persistRound(ctx context.Context, round *session.Round) error {
	for _, g := range round.Groups {
		err := s.store.SaveGroup(ctx, sqlite.GroupRecord{
			ID:             g.ID,
			SessionCode:    s.session.Code,
			Round:          round.Number,
			Treatment:      g.Treatment,
			Slots:          s.session.Config.Slots,
			CandleDuration: g.CandleDuration,
		})
		if err != nil {
			return err
		}
		for _, m := range g.Members {
			err := s.store.SavePlayer(ctx, sqlite.PlayerRecord{
				Group:           g.ID,
				Player:          m.Player,
				ParticipantCode: m.Participant.Code,
				Role:            m.Participant.Role,
				Valuations:      m.Valuations,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// waitClosed blocks until every room's auction has closed. Rooms still waiting for
// members are started once StartTimeout has passed.
func (s *Server) waitClosed(ctx context.Context, state *roundState) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	setupAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if s.cfg.StartTimeout > 0 && time.Since(setupAt) >= s.cfg.StartTimeout {
			for _, room := range state.rooms {
				room.Start()
			}
		}

		closed := true
		for _, room := range state.rooms {
			if !room.Closed() {
				closed = false
				break
			}
		}
		if closed {
			return nil
		}
	}
}

// closeRound records the final durations and publishes reports and attested results.
func (s *Server) closeRound(ctx context.Context, round *session.Round, state *roundState) error {
	results := make([]*auctionapi.ResultResponse, len(state.rooms))

	errG := errgroup.Group{}
	for i, room := range state.rooms {
		errG.Go(func() error {
			result, err := s.closeRoom(ctx, round, room)
			if err != nil {
				return fmt.Errorf("group %d: %w", room.Group().ID, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := errG.Wait(); err != nil {
		return fmt.Errorf("failed to close round: %w", err)
	}

	s.mu.Lock()
	for _, result := range results {
		s.results[result.Group] = result
	}
	s.mu.Unlock()

	logrus.WithField("round", round.Number).Info("Round complete")
	return nil
}

func (s *Server) closeRoom(ctx context.Context, round *session.Round, room *Room) (*auctionapi.ResultResponse, error) {
	g := room.Group()
	if err := s.store.FinishGroup(ctx, g.ID, room.DurationFinal()); err != nil {
		return nil, err
	}

	report, err := room.Report(ctx)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"round":     round.Number,
		"group":     g.ID,
		"treatment": g.Treatment,
		"bids":      report.BidCount,
	})
	if report.HasWinner {
		log.WithField("profits", report.Profits).Info("Auction complete")
	} else {
		log.Info("Auction complete: no winner")
	}

	result := &auctionapi.ResultResponse{Type: auctionapi.TypeResult, Group: g.ID, Report: report}
	if s.attester == nil {
		return result, nil
	}

	attestation, _, err := attest.GenerateResultProof(ctx, s.attester, s.store, attest.Round{
		SessionCode: s.session.Code,
		Round:       round.Number,
		Group:       g.ID,
		Treatment:   g.Treatment,
		Slots:       s.session.Config.Slots,
		Cutoff:      g.Cutoff(),
		Bidders:     g.Bidders(),
	})
	if err != nil {
		// The result stands without proof
		log.WithError(err).Error("Failed to attest result")
		return result, nil
	}
	result.Attestation = attestation.EncodeBase64()
	return result, nil
}

// Payoff returns the published payoff of a participant once the session is complete.
func (s *Server) Payoff(code string) (core.Currency, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payoff, ok := s.payoff[code]
	return payoff, ok
}
