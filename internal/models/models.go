package models

import (
	"math/big"
	"time"
)

// Address identifies a participant, a winner or a contract registered with the oracle
type Address string

// RaffleState is the state of the lottery round
type RaffleState uint8

const (
	RaffleOpen RaffleState = iota
	RaffleCalculating
)

func (s RaffleState) String() string {
	switch s {
	case RaffleOpen:
		return "open"
	case RaffleCalculating:
		return "calculating"
	default:
		return "unknown"
	}
}

func (s RaffleState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Lottery is the persisted record of the current round
type Lottery struct {
	Players           []Address   `json:"players"`
	State             RaffleState `json:"state"`
	LastDrawTimestamp time.Time   `json:"last_draw_timestamp"`
	RecentWinner      Address     `json:"recent_winner"`
	Pool              *big.Int    `json:"pool"`

	// Pending randomness request, valid while HasPendingRequest is set
	PendingRequestID  uint64     `json:"pending_request_id"`
	HasPendingRequest bool       `json:"has_pending_request"`
	DrawRequestedAt   *time.Time `json:"draw_requested_at"`

	// Winner selected but not yet paid (payout failed)
	UnpaidWinner Address `json:"unpaid_winner"`
}

// AwaitingPayout reports whether a winner was drawn but the payout could not complete.
func (l Lottery) AwaitingPayout() bool {
	return l.State == RaffleCalculating && !l.HasPendingRequest && l.UnpaidWinner != ""
}

// Clone returns a deep copy so callers can't mutate engine state.
func (l Lottery) Clone() Lottery {
	c := l
	c.Players = append([]Address(nil), l.Players...)
	c.Pool = new(big.Int)
	if l.Pool != nil {
		c.Pool.Set(l.Pool)
	}
	if l.DrawRequestedAt != nil {
		t := *l.DrawRequestedAt
		c.DrawRequestedAt = &t
	}
	return c
}

// Subscription is a funded account on the oracle
type Subscription struct {
	ID        uint64           `json:"id"`
	Owner     Address          `json:"owner"`
	Balance   *big.Int         `json:"balance"`
	Consumers map[Address]bool `json:"consumers"`
}

// Clone returns a deep copy of the subscription.
func (s Subscription) Clone() Subscription {
	c := s
	c.Balance = new(big.Int)
	if s.Balance != nil {
		c.Balance.Set(s.Balance)
	}
	c.Consumers = make(map[Address]bool, len(s.Consumers))
	for a := range s.Consumers {
		c.Consumers[a] = true
	}
	return c
}

// RandomnessRequest is a request for random words registered by the oracle
type RandomnessRequest struct {
	ID               uint64    `json:"id"`
	SubscriptionID   uint64    `json:"subscription_id"`
	Requester        Address   `json:"requester"`
	NumWords         uint32    `json:"num_words"`
	CallbackGasLimit uint32    `json:"callback_gas_limit"`
	MinConfirmations uint16    `json:"min_confirmations"`
	KeyHash          string    `json:"key_hash"`
	Fulfilled        bool      `json:"fulfilled"`
	Cancelled        bool      `json:"cancelled"`
	CreatedAt        time.Time `json:"created_at"`
}

// EventKind names an observable raffle notification
type EventKind string

const (
	EventEntryRecorded  EventKind = "entry_recorded"
	EventDrawRequested  EventKind = "draw_requested"
	EventWinnerSelected EventKind = "winner_selected"
	EventPayoutFailed   EventKind = "payout_failed"
)

// Event is emitted by the raffle after a successful state change
type Event struct {
	Kind      EventKind `json:"kind"`
	Entrant   Address   `json:"entrant,omitempty"`
	Winner    Address   `json:"winner,omitempty"`
	RequestID uint64    `json:"request_id,omitempty"`
	Amount    *big.Int  `json:"amount,omitempty"`
	At        time.Time `json:"at"`
}
