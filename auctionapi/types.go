package auctionapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/slotauction/core"
)

// Request types understood by the auction server.
const (
	TypeJoin   = "join"
	TypeBid    = "bid"
	TypeState  = "state"
	TypeResult = "result"
	TypePing   = "ping"

	// TypeRound is pushed by the server when a new round's seating is ready
	TypeRound = "round"
)

// Status tells a recipient how to interpret a reply.
type Status string

const (
	// StatusInit answers a request that carried no bid, e.g. joining or polling
	StatusInit Status = "init"

	// StatusSuccess is sent to the bidder whose bid was accepted
	StatusSuccess Status = "success"

	// StatusError carries a rejection or protocol failure to the sender only
	StatusError Status = "error"

	// StatusUpdate is pushed to every other group member after an accepted bid
	StatusUpdate Status = "update"
)

// ProtocolError reports an inbound message that could not be understood.
// It is answered to the sender and never closes the connection.
type ProtocolError struct {
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Malformed request: %s: %v", e.Detail, e.Err)
	}
	return "Malformed request: " + e.Detail
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Request is the envelope of every message sent by a bidder.
// Participant is only read from the join request; later requests on the same
// connection are attributed to the joined participant's seat in the current round.
type Request struct {
	Type        string          `json:"type"`
	Participant string          `json:"participant,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ParseRequest decodes one newline-delimited request.
func ParseRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, &ProtocolError{Detail: "invalid JSON", Err: err}
	}
	if req.Type == "" {
		return nil, &ProtocolError{Detail: "missing type"}
	}
	if req.Type == TypeJoin && req.Participant == "" {
		return nil, &ProtocolError{Detail: "join requires a participant code"}
	}
	return &req, nil
}

// BidMessage is the payload of a bid request.
type BidMessage struct {
	Price core.Currency `json:"price"`
	Slots core.SlotMask `json:"slots"`
}

// ParseBidMessage decodes the data of a bid request. A missing or empty payload returns
// nil without error; it is answered like a state request.
func ParseBidMessage(data json.RawMessage) (*BidMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}

	var raw struct {
		Price *core.Currency `json:"price"`
		Slots *core.SlotMask `json:"slots"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &ProtocolError{Detail: "invalid bid", Err: err}
	}
	if raw.Price == nil {
		return nil, &ProtocolError{Detail: "missing price"}
	}
	if raw.Slots == nil {
		return nil, &ProtocolError{Detail: "missing slots"}
	}

	return &BidMessage{Price: *raw.Price, Slots: *raw.Slots}, nil
}

// StateView is the auction state shown to bidders after every request.
type StateView struct {
	Group       core.GroupID   `json:"group"`
	State       string         `json:"state"`
	ElapsedMs   int64          `json:"elapsed_ms"`
	RemainingMs int64          `json:"remaining_ms"`
	BidCount    int            `json:"bid_count"`
	Snapshot    *core.Snapshot `json:"snapshot"`
}

// Seat tells a participant where they bid in the current round.
type Seat struct {
	Round      int             `json:"round"`
	Practice   bool            `json:"practice"`
	Group      core.GroupID    `json:"group"`
	Player     core.PlayerID   `json:"player"`
	Treatment  core.Treatment  `json:"treatment"`
	Role       core.Role       `json:"role"`
	Slots      core.SlotConfig `json:"slots"`
	Valuations []ValuedSlots   `json:"valuations"`
}

// ValuedSlots is one slot combination the participant values.
type ValuedSlots struct {
	Slots core.SlotMask `json:"slots"`
	Label string        `json:"label"`
	Value core.Currency `json:"value"`
}

// RoundNotice is pushed to every connected participant when a round starts or the
// session ends. Seat is nil for participants without a seat and after the last round.
type RoundNotice struct {
	Type     string         `json:"type"`
	Seat     *Seat          `json:"seat,omitempty"`
	Finished bool           `json:"finished,omitempty"`
	Payoff   *core.Currency `json:"payoff,omitempty"`
}

// Reply is a single message from the server to one bidder.
// Payload is a *StateView, or the error message when Status is StatusError.
// Seat is only set on the reply to a join, Bid only on the success reply to the bidder.
type Reply struct {
	Type    string    `json:"type"`
	Status  Status    `json:"status"`
	Payload any       `json:"payload"`
	Seat    *Seat     `json:"seat,omitempty"`
	Bid     *core.Bid `json:"bid,omitempty"`
}

// Replies maps each recipient of a request to its reply.
type Replies map[core.PlayerID]Reply

// ResultResponse answers a result request once the group's auction has closed.
type ResultResponse struct {
	Type        string                `json:"type"`
	Group       core.GroupID          `json:"group"`
	Report      *core.GroupReport     `json:"report"`
	Attestation AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// PongResponse answers a ping.
type PongResponse struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
