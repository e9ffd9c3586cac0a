// Package auctionserver serves the live slot auctions of a session to connected bidders.
//
// Bidders hold one connection for the whole session and exchange newline-delimited JSON.
// The first request must be a join carrying the participant code; every later request is
// attributed to the participant's seat in the running round.
package auctionserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/slotauction/attest"
	"github.com/cloudx-io/slotauction/auctionapi"
	"github.com/cloudx-io/slotauction/core"
	"github.com/cloudx-io/slotauction/session"
	"github.com/cloudx-io/slotauction/storage/sqlite"
)

// Store persists bids and round records.
type Store interface {
	core.Ledger
	NextGroupID(ctx context.Context) (core.GroupID, error)
	SaveGroup(ctx context.Context, g sqlite.GroupRecord) error
	SavePlayer(ctx context.Context, p sqlite.PlayerRecord) error
	FinishGroup(ctx context.Context, group core.GroupID, durationFinal time.Duration) error
}

// Config tunes the server.
type Config struct {
	// MaxWorkers bounds concurrently served connections; further connections are rejected
	MaxWorkers int

	// StartTimeout opens bidding in rooms whose members have not all joined in time.
	// Zero waits for every member.
	StartTimeout time.Duration

	// PollInterval is how often the round runner checks whether all auctions closed
	PollInterval time.Duration

	// IdleTimeout closes connections that send nothing for this long
	IdleTimeout time.Duration

	SnapshotCacheSize int
}

// DefaultConfig returns production settings. MaxWorkers can be overridden through
// SLOTAUCTION_MAX_WORKERS.
func DefaultConfig() (Config, error) {
	maxWorkers, err := getEnvInt("SLOTAUCTION_MAX_WORKERS", 256)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get max workers config: %w", err)
	}
	return Config{
		MaxWorkers:        maxWorkers,
		StartTimeout:      2 * time.Minute,
		PollInterval:      250 * time.Millisecond,
		IdleTimeout:       30 * time.Minute,
		SnapshotCacheSize: DefaultSnapshotCacheSize,
	}, nil
}

type seatRef struct {
	room   *Room
	player core.PlayerID
}

// roundState is the seating of the running round.
type roundState struct {
	round *session.Round
	rooms []*Room
	seats map[string]seatRef
}

type Server struct {
	cfg      Config
	session  *session.Session
	store    Store
	attester attest.EnclaveAttester
	cache    *SnapshotCache
	hub      *Hub

	mu        sync.RWMutex
	current   *roundState
	lastGroup map[string]core.GroupID
	results   map[core.GroupID]*auctionapi.ResultResponse
	finished  bool
	payoff    map[string]core.Currency
}

// NewServer creates a server for the session. A nil attester serves results without
// attestation.
func NewServer(cfg Config, sess *session.Session, store Store, attester attest.EnclaveAttester) (*Server, error) {
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("max workers must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.SnapshotCacheSize <= 0 {
		cfg.SnapshotCacheSize = DefaultSnapshotCacheSize
	}

	cache, err := NewSnapshotCache(cfg.SnapshotCacheSize)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		session:   sess,
		store:     store,
		attester:  attester,
		cache:     cache,
		hub:       NewHub(),
		lastGroup: make(map[string]core.GroupID),
		results:   make(map[core.GroupID]*auctionapi.ResultResponse),
	}, nil
}

// Listen opens a listener for addr, either "vsock://<port>" for the enclave transport or
// a TCP host:port.
func Listen(addr string) (net.Listener, error) {
	if port, ok := strings.CutPrefix(addr, "vsock://"); ok {
		p, err := strconv.ParseUint(port, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port %q: %w", port, err)
		}
		listener, err := vsock.Listen(uint32(p), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return listener, nil
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp listener: %w", err)
	}
	return listener, nil
}

// Serve accepts bidders on listener and runs every round of the session. After the last
// round it keeps serving results until ctx is cancelled. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close listener")
		}
		return nil
	})

	g.Go(func() error {
		return s.acceptLoop(ctx, listener)
	})

	g.Go(func() error {
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	logrus.WithField("addr", listener.Addr().String()).Info("Auction server listening")

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	logrus.Infof("Worker pool initialized with %d max concurrent workers", s.cfg.MaxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.WithError(err).Error("Failed to accept connection")
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			logrus.Info("No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				logrus.WithError(err).Error("Failed to close rejected connection")
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	c := newClient(conn)
	var code string

	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Panic recovered in handleConnection: %v", r)
		}
		if code != "" {
			s.hub.unregister(code, c)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logrus.WithError(err).Debug("Failed to close connection")
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logrus.WithError(err).WithField("participant", code).Debug("Connection read ended")
			}
			return
		}

		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		req, err := auctionapi.ParseRequest(line)
		if err != nil {
			logrus.WithError(err).WithField("participant", code).Warn("Failed to parse request")
			_ = c.send(auctionapi.Reply{Type: "error", Status: auctionapi.StatusError, Payload: err.Error()})
			continue
		}

		if req.Type == auctionapi.TypeJoin {
			joined, ok := s.join(ctx, c, code, req.Participant)
			if ok {
				code = joined
			}
			continue
		}

		s.dispatch(ctx, c, code, req)
	}
}

// join binds the connection to a participant and seats it in the running round.
func (s *Server) join(ctx context.Context, c *client, previous, code string) (string, bool) {
	participant, ok := s.session.Participant(code)
	if !ok {
		logrus.WithField("participant", code).Warn("Unknown participant tried to join")
		_ = c.send(auctionapi.Reply{Type: auctionapi.TypeJoin, Status: auctionapi.StatusError, Payload: "Unknown participant code."})
		return "", false
	}
	if previous != "" && previous != code {
		s.hub.unregister(previous, c)
	}

	if old := s.hub.register(participant.Code, c); old != nil {
		logrus.WithField("participant", code).Info("Participant reconnected, closing previous connection")
		_ = old.conn.Close()
	}

	s.mu.RLock()
	current, finished := s.current, s.finished
	s.mu.RUnlock()

	if finished {
		_ = c.send(s.finishedNotice(code))
		return code, true
	}

	ref, seated := s.seatOf(current, code)
	if !seated {
		_ = c.send(auctionapi.Reply{Type: auctionapi.TypeJoin, Status: auctionapi.StatusInit})
		return code, true
	}

	replies, err := ref.room.Join(ctx, ref.player)
	if err != nil {
		logrus.WithError(err).WithField("participant", code).Error("Join failed")
		_ = c.send(auctionapi.Reply{Type: auctionapi.TypeJoin, Status: auctionapi.StatusError, Payload: "Internal error."})
		return code, true
	}

	reply := replies[ref.player]
	reply.Seat = ref.room.seat(ref.room.Member(ref.player), current.round.Practice, s.session.Config.Slots)
	_ = c.send(reply)

	logrus.WithFields(logrus.Fields{
		"participant": code,
		"group":       ref.room.Group().ID,
		"player":      ref.player,
	}).Info("Participant joined")
	return code, true
}

func (s *Server) dispatch(ctx context.Context, c *client, code string, req *auctionapi.Request) {
	if req.Type == auctionapi.TypePing {
		_ = c.send(auctionapi.PongResponse{
			Type:      "pong",
			Message:   "Auction server is healthy",
			Timestamp: time.Now().Unix(),
		})
		return
	}

	if code == "" {
		_ = c.send(auctionapi.Reply{Type: req.Type, Status: auctionapi.StatusError, Payload: "Join first."})
		return
	}

	switch req.Type {
	case auctionapi.TypeBid, auctionapi.TypeState:
		s.mu.RLock()
		current := s.current
		s.mu.RUnlock()

		ref, ok := s.seatOf(current, code)
		if !ok {
			_ = c.send(auctionapi.Reply{Type: req.Type, Status: auctionapi.StatusError, Payload: "No auction is running for you."})
			return
		}

		var replies auctionapi.Replies
		var err error
		if req.Type == auctionapi.TypeBid {
			replies, err = ref.room.Handle(ctx, ref.player, req.Data)
		} else {
			replies, err = ref.room.State(ctx, ref.player)
		}
		if err != nil {
			logrus.WithError(err).WithField("participant", code).Error("Request failed")
			_ = c.send(auctionapi.Reply{Type: req.Type, Status: auctionapi.StatusError, Payload: "Internal error."})
			return
		}
		s.deliver(ref.room, replies)

	case auctionapi.TypeResult:
		s.mu.RLock()
		group, seated := s.lastGroup[code]
		result := s.results[group]
		s.mu.RUnlock()

		switch {
		case !seated:
			_ = c.send(auctionapi.Reply{Type: req.Type, Status: auctionapi.StatusError, Payload: "You have not taken part in an auction yet."})
		case result == nil:
			_ = c.send(auctionapi.Reply{Type: req.Type, Status: auctionapi.StatusError, Payload: "Auction has not finished yet."})
		default:
			_ = c.send(result)
		}

	default:
		_ = c.send(auctionapi.Reply{Type: req.Type, Status: auctionapi.StatusError, Payload: fmt.Sprintf("Unknown request type: %s", req.Type)})
	}
}

// deliver routes every reply to the member's connection.
func (s *Server) deliver(room *Room, replies auctionapi.Replies) {
	for player, reply := range replies {
		member := room.Member(player)
		if member == nil {
			continue
		}
		if !s.hub.Send(member.Participant.Code, reply) {
			logrus.WithFields(logrus.Fields{
				"group":  room.Group().ID,
				"player": player,
			}).Debug("Player not connected, dropping reply")
		}
	}
}

func (s *Server) seatOf(current *roundState, code string) (seatRef, bool) {
	if current == nil {
		return seatRef{}, false
	}
	ref, ok := current.seats[code]
	return ref, ok
}

func (s *Server) finishedNotice(code string) auctionapi.RoundNotice {
	notice := auctionapi.RoundNotice{Type: auctionapi.TypeRound, Finished: true}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if payoff, ok := s.payoff[code]; ok {
		notice.Payoff = &payoff
	}
	return notice
}

// CurrentRound returns the round being played, if any.
func (s *Server) CurrentRound() (*session.Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, false
	}
	return s.current.round, true
}

// Result returns the published result of a group.
func (s *Server) Result(group core.GroupID) (*auctionapi.ResultResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[group]
	return result, ok
}

// Helper function for optional environment variable parsing
func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	logrus.Infof("Using %s=%d from environment", key, intValue)
	return intValue, nil
}
