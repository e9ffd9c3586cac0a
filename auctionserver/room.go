package auctionserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/slotauction/auctionapi"
	"github.com/cloudx-io/slotauction/core"
	"github.com/cloudx-io/slotauction/session"
)

// Room runs the live auction of one group. All requests of the group are serialized by
// the room's mutex, so validation and append happen atomically.
type Room struct {
	mu      sync.Mutex
	group   *session.Group
	auction *core.Auction
	cache   *SnapshotCache
	joined  map[core.PlayerID]bool
	log     *logrus.Entry
}

func NewRoom(group *session.Group, auction *core.Auction, cache *SnapshotCache) *Room {
	return &Room{
		group:   group,
		auction: auction,
		cache:   cache,
		joined:  make(map[core.PlayerID]bool, len(group.Members)),
		log: logrus.WithFields(logrus.Fields{
			"round": group.Round,
			"group": group.ID,
		}),
	}
}

func (r *Room) Group() *session.Group {
	return r.group
}

// Member returns the member seated as player, or nil.
func (r *Room) Member(player core.PlayerID) *session.Member {
	for _, m := range r.group.Members {
		if m.Player == player {
			return m
		}
	}
	return nil
}

// Join marks player as present. Bidding opens once every member has joined.
func (r *Room) Join(ctx context.Context, player core.PlayerID) (auctionapi.Replies, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Member(player) == nil {
		return nil, fmt.Errorf("player %d is not a member of group %d", player, r.group.ID)
	}

	r.joined[player] = true
	if len(r.joined) == len(r.group.Members) && r.auction.Clock.State() == core.ClockNotStarted {
		r.auction.Clock.Start()
		r.log.Info("All players joined, auction started")
	}

	return r.initReplies(ctx, auctionapi.TypeJoin, player)
}

// Start opens bidding even if not every member has joined.
func (r *Room) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.auction.Clock.State() == core.ClockNotStarted {
		r.auction.Clock.Start()
		r.log.Infof("Auction started with %d of %d players", len(r.joined), len(r.group.Members))
	}
}

// State answers a poll with the current view.
func (r *Room) State(ctx context.Context, player core.PlayerID) (auctionapi.Replies, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initReplies(ctx, auctionapi.TypeState, player)
}

// Handle processes the data of a bid request sent by player.
//
// An empty payload is answered with the current view. A rejected or malformed bid is
// answered to the sender only. An accepted bid is confirmed to the sender and pushed as an
// update to every other member. The returned error is reserved for ledger failures.
func (r *Room) Handle(ctx context.Context, player core.PlayerID, data json.RawMessage) (auctionapi.Replies, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member := r.Member(player)
	if member == nil {
		return nil, fmt.Errorf("player %d is not a member of group %d", player, r.group.ID)
	}

	msg, err := auctionapi.ParseBidMessage(data)
	if err != nil {
		r.log.WithError(err).WithField("player", player).Warn("Rejecting malformed bid")
		return errorReply(player, err), nil
	}
	if msg == nil {
		return r.initReplies(ctx, auctionapi.TypeBid, player)
	}

	r.log.WithFields(logrus.Fields{
		"player": player,
		"slots":  msg.Slots.Label(),
		"price":  msg.Price,
	}).Debug("Processing bid")

	bid, err := r.auction.Submit(ctx, member.Bidder(), msg.Slots, msg.Price)
	if err != nil {
		var subErr *core.SubmissionError
		if errors.As(err, &subErr) {
			r.log.WithField("player", player).Infof("Bid rejected: %s", subErr.Reason)
			return errorReply(player, subErr), nil
		}
		return nil, fmt.Errorf("submit bid: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"player":    player,
		"bid":       bid.ID,
		"timestamp": bid.Timestamp,
	}).Info("Bid accepted")

	view, err := r.view(ctx)
	if err != nil {
		return nil, err
	}

	replies := make(auctionapi.Replies, len(r.group.Members))
	for _, m := range r.group.Members {
		replies[m.Player] = auctionapi.Reply{Type: auctionapi.TypeBid, Status: auctionapi.StatusUpdate, Payload: view}
	}
	replies[player] = auctionapi.Reply{Type: auctionapi.TypeBid, Status: auctionapi.StatusSuccess, Payload: view, Bid: &bid}
	return replies, nil
}

// Started reports whether bidding has opened.
func (r *Room) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auction.Clock.State() != core.ClockNotStarted
}

// Closed reports whether the auction deadline has passed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auction.Clock.State() == core.ClockClosed
}

// DurationFinal returns the effective auction length.
func (r *Room) DurationFinal() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auction.Clock.DurationFinal()
}

// Report builds the final report of the group.
func (r *Room) Report(ctx context.Context) (*core.GroupReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auction.Report(ctx, r.group.Bidders())
}

func (r *Room) initReplies(ctx context.Context, typ string, player core.PlayerID) (auctionapi.Replies, error) {
	view, err := r.view(ctx)
	if err != nil {
		return nil, err
	}
	return auctionapi.Replies{
		player: {Type: typ, Status: auctionapi.StatusInit, Payload: view},
	}, nil
}

// view builds the live state. Bidders always see every admitted bid; a candle cutoff only
// applies to the final result.
func (r *Room) view(ctx context.Context) (*auctionapi.StateView, error) {
	snapshot, err := r.cache.Snapshot(ctx, r.auction, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	count, err := r.auction.Ledger.Count(ctx, r.group.ID)
	if err != nil {
		return nil, fmt.Errorf("count bids: %w", err)
	}

	clock := r.auction.Clock
	remaining := clock.Remaining()
	if remaining < 0 {
		remaining = 0
	}
	return &auctionapi.StateView{
		Group:       r.group.ID,
		State:       clock.State().String(),
		ElapsedMs:   clock.Elapsed().Milliseconds(),
		RemainingMs: remaining.Milliseconds(),
		BidCount:    count,
		Snapshot:    snapshot,
	}, nil
}

func errorReply(player core.PlayerID, err error) auctionapi.Replies {
	return auctionapi.Replies{
		player: {Type: auctionapi.TypeBid, Status: auctionapi.StatusError, Payload: err.Error()},
	}
}

// seat describes the member's place in the room for the join reply and round notices.
func (r *Room) seat(m *session.Member, practice bool, slots core.SlotConfig) *auctionapi.Seat {
	n, l := slots.GlobalSlots, slots.LocalSlots
	var valued []auctionapi.ValuedSlots
	for _, mask := range core.ValidValues(n, l) {
		value, ok := m.Valuations[mask]
		if !ok {
			continue
		}
		valued = append(valued, auctionapi.ValuedSlots{Slots: mask, Label: mask.Label(), Value: value})
	}

	return &auctionapi.Seat{
		Round:      r.group.Round,
		Practice:   practice,
		Group:      r.group.ID,
		Player:     m.Player,
		Treatment:  r.group.Treatment,
		Role:       m.Participant.Role,
		Slots:      slots,
		Valuations: valued,
	}
}
