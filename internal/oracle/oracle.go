// Package oracle holds the randomness-oracle contract used by the raffle and a
// local simulator of it.
//
// The simulator mirrors the billing model of a subscription-based VRF
// coordinator: a subscription is funded, consumers are authorised against it,
// requests are registered and later fulfilled through a callback into the
// consumer. Its words are derived deterministically from the request id and
// must never be used where unpredictability matters.
package oracle

import (
	"context"
	"math/big"

	"raffle-oracle/internal/models"
)

// MaxNumWords bounds the words that can be requested at once.
const MaxNumWords = 500

// RandomWordsRequest is what a consumer sends to request randomness.
type RandomWordsRequest struct {
	KeyHash          string
	SubscriptionID   uint64
	MinConfirmations uint16
	CallbackGasLimit uint32
	NumWords         uint32
	Requester        models.Address
}

// Coordinator is the request side of the oracle, used by the raffle.
// CancelRequest withdraws a request the consumer no longer waits for.
type Coordinator interface {
	RequestRandomness(ctx context.Context, req RandomWordsRequest) (uint64, error)
	CancelRequest(ctx context.Context, requestID uint64) error
}

// RandomnessConsumer receives fulfilled randomness.
type RandomnessConsumer interface {
	OnRandomnessReady(ctx context.Context, requestID uint64, randomWords []*big.Int) error
}

// Store persists the oracle tables.
type Store interface {
	SaveSubscription(ctx context.Context, sub models.Subscription) error
	SaveRequest(ctx context.Context, req models.RandomnessRequest) error
	LoadSubscriptions(ctx context.Context) ([]models.Subscription, error)
	LoadRequests(ctx context.Context) ([]models.RandomnessRequest, error)
}
