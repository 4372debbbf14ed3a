package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/logger"
	"raffle-oracle/internal/models"
	"raffle-oracle/internal/oracle"
)

// RaffleConfig is fixed for the lifetime of a raffle.
type RaffleConfig struct {
	// Address identifies the raffle as an oracle consumer.
	Address              models.Address
	EntranceFee          *big.Int
	Interval             time.Duration
	KeyHash              string
	SubscriptionID       uint64
	CallbackGasLimit     uint32
	RequestConfirmations uint16
}

// Payer moves the pool to the winner.
type Payer interface {
	Transfer(ctx context.Context, to models.Address, amount *big.Int) error
}

// LotteryStore persists the lottery record.
type LotteryStore interface {
	SaveLottery(ctx context.Context, l models.Lottery) error
	LoadLottery(ctx context.Context) (models.Lottery, bool, error)
}

// Eligibility explains the result of CheckEligibility.
type Eligibility struct {
	IsOpen         bool               `json:"is_open"`
	TimePassed     bool               `json:"time_passed"`
	HasPlayers     bool               `json:"has_players"`
	HasBalance     bool               `json:"has_balance"`
	Players        int                `json:"players"`
	Pool           *big.Int           `json:"pool"`
	State          models.RaffleState `json:"state"`
	NextEligibleAt time.Time          `json:"next_eligible_at"`
}

type RaffleOption func(*Raffle)

func WithLotteryStore(st LotteryStore) RaffleOption {
	return func(r *Raffle) { r.store = st }
}

func WithNotifier(n Notifier) RaffleOption {
	return func(r *Raffle) { r.notifier = n }
}

func WithClock(now func() time.Time) RaffleOption {
	return func(r *Raffle) { r.now = now }
}

// WithDrawTimeout enables ForceReset for draws pending longer than d.
func WithDrawTimeout(d time.Duration) RaffleOption {
	return func(r *Raffle) { r.drawTimeout = d }
}

// Raffle is the lottery state machine:
//
//	Open --TriggerDraw--> Calculating --OnRandomnessReady--> Open
//
// Every operation either commits fully or leaves the lottery untouched.
type Raffle struct {
	mu sync.Mutex

	cfg         RaffleConfig
	coordinator oracle.Coordinator
	payer       Payer
	store       LotteryStore
	notifier    Notifier
	now         func() time.Time
	drawTimeout time.Duration

	lottery models.Lottery
}

// NewRaffle creates the raffle, restoring the stored lottery record when present.
func NewRaffle(ctx context.Context, cfg RaffleConfig, coordinator oracle.Coordinator, payer Payer, opts ...RaffleOption) (*Raffle, error) {
	if cfg.EntranceFee == nil || cfg.EntranceFee.Sign() <= 0 {
		return nil, fmt.Errorf("entrance fee: %w", models.ErrInvalidAmount)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("raffle address is required")
	}
	r := &Raffle{
		cfg:         cfg,
		coordinator: coordinator,
		payer:       payer,
		notifier:    NopNotifier{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.lottery = models.Lottery{
		State:             models.RaffleOpen,
		LastDrawTimestamp: r.now(),
		Pool:              new(big.Int),
	}
	if r.store != nil {
		stored, ok, err := r.store.LoadLottery(ctx)
		if err != nil {
			return nil, fmt.Errorf("load lottery: %w", err)
		}
		if ok {
			r.lottery = stored.Clone()
			logger.Infof("raffle restored: state=%s players=%d pool=%s", r.lottery.State, len(r.lottery.Players), r.lottery.Pool)
		} else if err := r.store.SaveLottery(ctx, r.lottery); err != nil {
			return nil, fmt.Errorf("save lottery: %w", err)
		}
	}
	return r, nil
}

// Address is the identity of the raffle with the oracle.
func (r *Raffle) Address() models.Address { return r.cfg.Address }

// Enter records a paid entry for the current round.
func (r *Raffle) Enter(ctx context.Context, deposit *big.Int, entrant models.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if deposit == nil || deposit.Cmp(r.cfg.EntranceFee) < 0 {
		return fmt.Errorf("%w: need %s", models.ErrInsufficientDeposit, r.cfg.EntranceFee)
	}
	if r.lottery.State != models.RaffleOpen {
		return models.ErrNotOpen
	}
	if entrant == "" {
		return fmt.Errorf("entrant is required")
	}

	next := r.lottery.Clone()
	next.Players = append(next.Players, entrant)
	next.Pool.Add(next.Pool, deposit)
	if err := r.commit(ctx, next); err != nil {
		return err
	}

	logger.Infof("raffle entry: %s deposited %s, %d players", entrant, deposit, len(next.Players))
	r.emit(ctx, models.Event{Kind: models.EventEntryRecorded, Entrant: entrant, Amount: new(big.Int).Set(deposit)})
	return nil
}

// CheckEligibility reports whether a draw may be triggered at now. It never mutates state.
func (r *Raffle) CheckEligibility(now time.Time) (bool, Eligibility) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eligibility(now)
}

func (r *Raffle) eligibility(now time.Time) (bool, Eligibility) {
	l := r.lottery
	e := Eligibility{
		IsOpen:         l.State == models.RaffleOpen,
		TimePassed:     now.Sub(l.LastDrawTimestamp) > r.cfg.Interval,
		HasPlayers:     len(l.Players) > 0,
		HasBalance:     l.Pool.Sign() > 0,
		Players:        len(l.Players),
		Pool:           new(big.Int).Set(l.Pool),
		State:          l.State,
		NextEligibleAt: l.LastDrawTimestamp.Add(r.cfg.Interval),
	}
	return e.IsOpen && e.TimePassed && e.HasPlayers && e.HasBalance, e
}

// TriggerDraw requests randomness for the current round. It returns as soon
// as the request is registered; the winner is picked in OnRandomnessReady.
func (r *Raffle) TriggerDraw(ctx context.Context, now time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, e := r.eligibility(now); !ok {
		return 0, &models.DrawNotEligibleError{Pool: e.Pool, Players: e.Players, State: e.State}
	}

	requestID, err := r.coordinator.RequestRandomness(ctx, oracle.RandomWordsRequest{
		KeyHash:          r.cfg.KeyHash,
		SubscriptionID:   r.cfg.SubscriptionID,
		MinConfirmations: r.cfg.RequestConfirmations,
		CallbackGasLimit: r.cfg.CallbackGasLimit,
		NumWords:         1,
		Requester:        r.cfg.Address,
	})
	if err != nil {
		return 0, fmt.Errorf("request randomness: %w", err)
	}

	next := r.lottery.Clone()
	next.State = models.RaffleCalculating
	next.PendingRequestID = requestID
	next.HasPendingRequest = true
	requestedAt := now
	next.DrawRequestedAt = &requestedAt
	if err := r.commit(ctx, next); err != nil {
		if cerr := r.coordinator.CancelRequest(ctx, requestID); cerr != nil {
			logger.Errorf("randomness request %d orphaned: %v", requestID, cerr)
		}
		return 0, err
	}

	logger.Infof("raffle draw requested: request %d, %d players, pool %s", requestID, len(next.Players), next.Pool)
	r.emit(ctx, models.Event{Kind: models.EventDrawRequested, RequestID: requestID})
	return requestID, nil
}

// OnRandomnessReady settles the round. It is called by the oracle only.
func (r *Raffle) OnRandomnessReady(ctx context.Context, requestID uint64, randomWords []*big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.lottery
	if l.State != models.RaffleCalculating || !l.HasPendingRequest || l.PendingRequestID != requestID {
		return fmt.Errorf("request %d: %w", requestID, models.ErrUnknownRequest)
	}
	if len(randomWords) == 0 || randomWords[0] == nil {
		return fmt.Errorf("request %d delivered no words: %w", requestID, models.ErrUnknownRequest)
	}
	if len(l.Players) == 0 {
		return fmt.Errorf("request %d: no players to draw from: %w", requestID, models.ErrUnknownRequest)
	}

	n := big.NewInt(int64(len(l.Players)))
	idx := new(big.Int).Mod(randomWords[0], n).Int64()
	winner := l.Players[idx]
	logger.Infof("raffle request %d: winner index %d of %d is %s", requestID, idx, len(l.Players), winner)

	return r.payout(ctx, winner)
}

// RetryPayout re-attempts a failed payout to the already drawn winner.
func (r *Raffle) RetryPayout(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lottery.AwaitingPayout() {
		return models.ErrNoPendingPayout
	}
	return r.payout(ctx, r.lottery.UnpaidWinner)
}

// payout transfers the pool and resets the round. Must hold r.mu.
func (r *Raffle) payout(ctx context.Context, winner models.Address) error {
	amount := new(big.Int).Set(r.lottery.Pool)

	if err := r.payer.Transfer(ctx, winner, amount); err != nil {
		// The request is consumed; keep pool and players until an operator
		// retries the payout.
		next := r.lottery.Clone()
		next.HasPendingRequest = false
		next.PendingRequestID = 0
		next.UnpaidWinner = winner
		if serr := r.commit(ctx, next); serr != nil {
			logger.Errorf("raffle payout failed and could not be recorded: %v", serr)
			r.lottery = next
		}
		logger.Errorf("raffle payout of %s to %s failed: %v", amount, winner, err)
		r.emit(ctx, models.Event{Kind: models.EventPayoutFailed, Winner: winner, Amount: amount})
		return fmt.Errorf("%w: %v", models.ErrPayoutFailed, err)
	}

	next := models.Lottery{
		Players:           nil,
		State:             models.RaffleOpen,
		LastDrawTimestamp: r.now(),
		RecentWinner:      winner,
		Pool:              new(big.Int),
	}
	if err := r.commit(ctx, next); err != nil {
		// Funds already moved: the in-memory record wins.
		logger.Errorf("raffle settled but not persisted: %v", err)
		r.lottery = next
	}

	logger.Infof("raffle winner %s paid %s", winner, amount)
	r.emit(ctx, models.Event{Kind: models.EventWinnerSelected, Winner: winner, Amount: amount})
	return nil
}

// ForceReset abandons a draw whose randomness never arrived and reopens the
// round with its players and pool intact.
func (r *Raffle) ForceReset(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.lottery
	if r.drawTimeout <= 0 {
		return fmt.Errorf("draw timeout disabled: %w", models.ErrResetNotAllowed)
	}
	if !l.HasPendingRequest || l.DrawRequestedAt == nil {
		return fmt.Errorf("no pending draw: %w", models.ErrResetNotAllowed)
	}
	if now.Sub(*l.DrawRequestedAt) <= r.drawTimeout {
		return fmt.Errorf("draw pending for %s, timeout %s: %w", now.Sub(*l.DrawRequestedAt), r.drawTimeout, models.ErrResetNotAllowed)
	}

	next := l.Clone()
	abandoned := next.PendingRequestID
	next.State = models.RaffleOpen
	next.HasPendingRequest = false
	next.PendingRequestID = 0
	next.DrawRequestedAt = nil
	if err := r.commit(ctx, next); err != nil {
		return err
	}
	if err := r.coordinator.CancelRequest(ctx, abandoned); err != nil {
		logger.Errorf("raffle force reset: cancelling request %d: %v", abandoned, err)
	}
	logger.Warningf("raffle force reset: abandoned request %d", abandoned)
	return nil
}

// commit persists next and then makes it current. Must hold r.mu.
func (r *Raffle) commit(ctx context.Context, next models.Lottery) error {
	if r.store != nil {
		if err := r.store.SaveLottery(ctx, next); err != nil {
			return fmt.Errorf("save lottery: %w", err)
		}
	}
	r.lottery = next
	return nil
}

func (r *Raffle) emit(ctx context.Context, ev models.Event) {
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	r.notifier.Notify(ctx, ev)
}

func (r *Raffle) State() models.RaffleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lottery.State
}

func (r *Raffle) Pool() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.lottery.Pool)
}

func (r *Raffle) Players() []models.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Address(nil), r.lottery.Players...)
}

// Player returns the i-th entrant of the current round.
func (r *Raffle) Player(i int) (models.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.lottery.Players) {
		return "", false
	}
	return r.lottery.Players[i], true
}

func (r *Raffle) NumPlayers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lottery.Players)
}

func (r *Raffle) RecentWinner() models.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lottery.RecentWinner
}

func (r *Raffle) LastDrawTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lottery.LastDrawTimestamp
}

// PendingRequest returns the outstanding randomness request id, if any.
func (r *Raffle) PendingRequest() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lottery.PendingRequestID, r.lottery.HasPendingRequest
}

func (r *Raffle) Interval() time.Duration { return r.cfg.Interval }

func (r *Raffle) EntranceFee() *big.Int { return new(big.Int).Set(r.cfg.EntranceFee) }

// Snapshot returns a copy of the whole lottery record.
func (r *Raffle) Snapshot() models.Lottery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lottery.Clone()
}
