package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/logger"
	"raffle-oracle/internal/models"
)

var ErrInvalidWords = errors.New("override words do not match requested count")

// SimulatorConfig holds the billing constants of the simulated coordinator.
type SimulatorConfig struct {
	// BaseFee is charged for every fulfilment, in juels.
	BaseFee *big.Int
	// GasPriceLink is the juels charged per unit of callback gas budget.
	GasPriceLink *big.Int
}

type SimulatorOption func(*Simulator)

// WithStore persists subscriptions and requests.
func WithStore(st Store) SimulatorOption {
	return func(s *Simulator) { s.store = st }
}

// WithSalt mixes a salt into the generated words.
func WithSalt(salt []byte) SimulatorOption {
	return func(s *Simulator) { s.salt = append([]byte(nil), salt...) }
}

func WithClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) { s.now = now }
}

// Simulator is an in-process randomness coordinator with subscription billing.
type Simulator struct {
	mu sync.Mutex

	cfg   SimulatorConfig
	salt  []byte
	store Store
	now   func() time.Time

	subs      map[uint64]*models.Subscription
	requests  map[uint64]*models.RandomnessRequest
	consumers map[models.Address]RandomnessConsumer

	lastSubID     uint64
	lastRequestID uint64
}

// NewSimulator creates a simulator, restoring its tables from the store if one is given.
func NewSimulator(ctx context.Context, cfg SimulatorConfig, opts ...SimulatorOption) (*Simulator, error) {
	if cfg.BaseFee == nil || cfg.BaseFee.Sign() < 0 {
		return nil, fmt.Errorf("simulator base fee: %w", models.ErrInvalidAmount)
	}
	if cfg.GasPriceLink == nil || cfg.GasPriceLink.Sign() < 0 {
		return nil, fmt.Errorf("simulator gas price: %w", models.ErrInvalidAmount)
	}
	s := &Simulator{
		cfg:       cfg,
		now:       time.Now,
		subs:      make(map[uint64]*models.Subscription),
		requests:  make(map[uint64]*models.RandomnessRequest),
		consumers: make(map[models.Address]RandomnessConsumer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		return s, nil
	}

	subs, err := s.store.LoadSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, sub := range subs {
		sub := sub.Clone()
		s.subs[sub.ID] = &sub
		if sub.ID > s.lastSubID {
			s.lastSubID = sub.ID
		}
	}
	reqs, err := s.store.LoadRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	for _, req := range reqs {
		req := req
		s.requests[req.ID] = &req
		if req.ID > s.lastRequestID {
			s.lastRequestID = req.ID
		}
	}
	logger.Infof("oracle simulator restored %d subscriptions, %d requests", len(s.subs), len(s.requests))
	return s, nil
}

// RegisterConsumer binds the callback target reachable at addr.
func (s *Simulator) RegisterConsumer(addr models.Address, c RandomnessConsumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers[addr] = c
}

// CreateSubscription allocates an empty subscription.
func (s *Simulator) CreateSubscription(ctx context.Context, owner models.Address) (models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := models.Subscription{
		ID:        s.lastSubID + 1,
		Owner:     owner,
		Balance:   new(big.Int),
		Consumers: make(map[models.Address]bool),
	}
	if err := s.saveSubscription(ctx, sub); err != nil {
		return models.Subscription{}, err
	}
	s.lastSubID = sub.ID
	s.subs[sub.ID] = &sub
	logger.Infof("subscription %d created by %s", sub.ID, owner)
	return sub.Clone(), nil
}

// GetSubscription returns a copy of a subscription.
func (s *Simulator) GetSubscription(_ context.Context, subID uint64) (models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[subID]
	if !ok {
		return models.Subscription{}, fmt.Errorf("subscription %d: %w", subID, models.ErrUnknownSubscription)
	}
	return sub.Clone(), nil
}

// Subscriptions lists copies of every subscription ordered by id.
func (s *Simulator) Subscriptions() []models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FundSubscription increases the balance of a subscription.
func (s *Simulator) FundSubscription(ctx context.Context, subID uint64, amount *big.Int) error {
	return s.updateSubscription(ctx, subID, func(sub *models.Subscription) error {
		if amount == nil || amount.Sign() <= 0 {
			return models.ErrInvalidAmount
		}
		sub.Balance.Add(sub.Balance, amount)
		logger.Infof("subscription %d funded with %s, balance %s", subID, amount, sub.Balance)
		return nil
	})
}

// AddConsumer authorises addr to request against the subscription.
func (s *Simulator) AddConsumer(ctx context.Context, subID uint64, addr models.Address) error {
	return s.updateSubscription(ctx, subID, func(sub *models.Subscription) error {
		sub.Consumers[addr] = true
		logger.Infof("consumer %s added to subscription %d", addr, subID)
		return nil
	})
}

// RemoveConsumer revokes addr. Removing an absent consumer is not an error.
func (s *Simulator) RemoveConsumer(ctx context.Context, subID uint64, addr models.Address) error {
	return s.updateSubscription(ctx, subID, func(sub *models.Subscription) error {
		delete(sub.Consumers, addr)
		logger.Infof("consumer %s removed from subscription %d", addr, subID)
		return nil
	})
}

func (s *Simulator) updateSubscription(ctx context.Context, subID uint64, fn func(*models.Subscription) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subs[subID]
	if !ok {
		return fmt.Errorf("subscription %d: %w", subID, models.ErrUnknownSubscription)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.saveSubscription(ctx, next); err != nil {
		return err
	}
	s.subs[subID] = &next
	return nil
}

// RequestRandomness registers a request and returns its id without waiting
// for fulfilment.
func (s *Simulator) RequestRandomness(ctx context.Context, req RandomWordsRequest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[req.SubscriptionID]
	if !ok {
		return 0, fmt.Errorf("subscription %d: %w", req.SubscriptionID, models.ErrUnknownSubscription)
	}
	if !sub.Consumers[req.Requester] {
		return 0, fmt.Errorf("%s on subscription %d: %w", req.Requester, req.SubscriptionID, models.ErrInvalidConsumer)
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return 0, fmt.Errorf("num words %d out of range [1, %d]", req.NumWords, MaxNumWords)
	}

	r := models.RandomnessRequest{
		ID:               s.lastRequestID + 1,
		SubscriptionID:   req.SubscriptionID,
		Requester:        req.Requester,
		NumWords:         req.NumWords,
		CallbackGasLimit: req.CallbackGasLimit,
		MinConfirmations: req.MinConfirmations,
		KeyHash:          req.KeyHash,
		CreatedAt:        s.now(),
	}
	if err := s.saveRequest(ctx, r); err != nil {
		return 0, err
	}
	s.lastRequestID = r.ID
	s.requests[r.ID] = &r
	logger.Infof("randomness request %d registered for %s (sub %d, %d words)", r.ID, r.Requester, r.SubscriptionID, r.NumWords)
	return r.ID, nil
}

// CancelRequest retires a request so it is never fulfilled or charged.
// A delivery already in flight is refunded if the consumer rejects it.
func (s *Simulator) CancelRequest(ctx context.Context, requestID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("request %d: %w", requestID, models.ErrUnknownRequest)
	}
	if req.Cancelled {
		return nil
	}
	next := *req
	next.Cancelled = true
	if err := s.saveRequest(ctx, next); err != nil {
		return err
	}
	s.requests[requestID] = &next
	logger.Infof("randomness request %d cancelled", requestID)
	return nil
}

// EstimateCost is the fee charged for fulfilling a request with the given callback budget.
func (s *Simulator) EstimateCost(callbackGasLimit uint32) *big.Int {
	cost := new(big.Int).SetUint64(uint64(callbackGasLimit))
	cost.Mul(cost, s.cfg.GasPriceLink)
	return cost.Add(cost, s.cfg.BaseFee)
}

// PendingRequests lists requests awaiting fulfilment ordered by id.
func (s *Simulator) PendingRequests() []models.RandomnessRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.RandomnessRequest
	for _, r := range s.requests {
		if !r.Fulfilled && !r.Cancelled {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetRequest returns a copy of a registered request.
func (s *Simulator) GetRequest(requestID uint64) (models.RandomnessRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return models.RandomnessRequest{}, false
	}
	return *r, true
}

// FulfillRandomness delivers deterministic words for requestID to the consumer at addr.
func (s *Simulator) FulfillRandomness(ctx context.Context, requestID uint64, addr models.Address) error {
	return s.FulfillRandomnessWithOverride(ctx, requestID, addr, nil)
}

// FulfillRandomnessWithOverride is FulfillRandomness with caller-chosen words.
// An empty words slice falls back to the deterministic words.
func (s *Simulator) FulfillRandomnessWithOverride(ctx context.Context, requestID uint64, addr models.Address, words []*big.Int) error {
	consumer, req, cost, err := s.beginFulfillment(ctx, requestID, addr, words)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		words = deriveWords(s.salt, requestID, req.NumWords)
	}

	// The lock is released here: the consumer may call back into the
	// coordinator while handling the words.
	cbErr := consumer.OnRandomnessReady(ctx, requestID, words)
	if cbErr == nil {
		logger.Infof("randomness request %d fulfilled for %s, charged %s", requestID, addr, cost)
		return nil
	}
	if errors.Is(cbErr, models.ErrPayoutFailed) {
		logger.Warningf("randomness request %d delivered but consumer payout failed: %v", requestID, cbErr)
		return cbErr
	}

	if err := s.rollbackFulfillment(ctx, req, cost); err != nil {
		logger.Errorf("rollback of request %d failed: %v", requestID, err)
	}
	return cbErr
}

func (s *Simulator) beginFulfillment(ctx context.Context, requestID uint64, addr models.Address, words []*big.Int) (RandomnessConsumer, models.RandomnessRequest, *big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok || req.Fulfilled || req.Cancelled {
		return nil, models.RandomnessRequest{}, nil, fmt.Errorf("request %d: %w", requestID, models.ErrUnknownRequest)
	}
	if len(words) != 0 && uint32(len(words)) != req.NumWords {
		return nil, models.RandomnessRequest{}, nil, fmt.Errorf("request %d wants %d words, got %d: %w", requestID, req.NumWords, len(words), ErrInvalidWords)
	}
	consumer, ok := s.consumers[addr]
	if !ok {
		return nil, models.RandomnessRequest{}, nil, fmt.Errorf("no consumer registered at %s: %w", addr, models.ErrInvalidConsumer)
	}
	sub, ok := s.subs[req.SubscriptionID]
	if !ok {
		return nil, models.RandomnessRequest{}, nil, fmt.Errorf("subscription %d: %w", req.SubscriptionID, models.ErrUnknownSubscription)
	}

	cost := s.EstimateCost(req.CallbackGasLimit)
	if sub.Balance.Cmp(cost) < 0 {
		return nil, models.RandomnessRequest{}, nil, fmt.Errorf("subscription %d has %s, needs %s: %w", sub.ID, sub.Balance, cost, models.ErrInsufficientFunds)
	}

	nextSub := sub.Clone()
	nextSub.Balance.Sub(nextSub.Balance, cost)
	nextReq := *req
	nextReq.Fulfilled = true
	if err := s.saveSubscription(ctx, nextSub); err != nil {
		return nil, models.RandomnessRequest{}, nil, err
	}
	if err := s.saveRequest(ctx, nextReq); err != nil {
		if serr := s.saveSubscription(ctx, *sub); serr != nil {
			logger.Errorf("restoring subscription %d after failed save of request %d: %v", sub.ID, requestID, serr)
		}
		return nil, models.RandomnessRequest{}, nil, err
	}
	s.subs[sub.ID] = &nextSub
	s.requests[requestID] = &nextReq
	return consumer, nextReq, cost, nil
}

func (s *Simulator) rollbackFulfillment(ctx context.Context, req models.RandomnessRequest, cost *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read: the request may have been cancelled while in flight.
	if cur, ok := s.requests[req.ID]; ok {
		req = *cur
	}
	req.Fulfilled = false
	s.requests[req.ID] = &req
	if sub, ok := s.subs[req.SubscriptionID]; ok {
		next := sub.Clone()
		next.Balance.Add(next.Balance, cost)
		s.subs[next.ID] = &next
		if err := s.saveSubscription(ctx, next); err != nil {
			return err
		}
	}
	return s.saveRequest(ctx, req)
}

func (s *Simulator) saveSubscription(ctx context.Context, sub models.Subscription) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveSubscription(ctx, sub)
}

func (s *Simulator) saveRequest(ctx context.Context, req models.RandomnessRequest) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveRequest(ctx, req)
}
