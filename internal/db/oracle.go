package db

import (
	"context"
	"database/sql"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"raffle-oracle/internal/models"
)

// SaveSubscription upserts a subscription and replaces its consumer set.
func (s *Store) SaveSubscription(ctx context.Context, sub models.Subscription) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		balance := "0"
		if sub.Balance != nil {
			balance = sub.Balance.String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (id, owner, balance) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, balance = excluded.balance`,
			int64(sub.ID), string(sub.Owner), balance)
		if err != nil {
			return errors.Wrapf(err, "upsert subscription %d", sub.ID)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM subscription_consumers WHERE subscription_id = ?", int64(sub.ID)); err != nil {
			return errors.Wrap(err, "clear consumers")
		}
		for addr := range sub.Consumers {
			if _, err := tx.ExecContext(ctx, "INSERT INTO subscription_consumers (subscription_id, address) VALUES (?, ?)", int64(sub.ID), string(addr)); err != nil {
				return errors.Wrapf(err, "insert consumer %s", addr)
			}
		}
		return nil
	})
}

// SaveRequest upserts a randomness request.
func (s *Store) SaveRequest(ctx context.Context, req models.RandomnessRequest) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO randomness_requests (id, subscription_id, requester, num_words, callback_gas_limit, min_confirmations, key_hash, fulfilled, cancelled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET fulfilled = excluded.fulfilled, cancelled = excluded.cancelled`,
		int64(req.ID), int64(req.SubscriptionID), string(req.Requester), int64(req.NumWords),
		int64(req.CallbackGasLimit), int64(req.MinConfirmations), req.KeyHash, req.Fulfilled, req.Cancelled, req.CreatedAt.UnixNano())
	return errors.Wrapf(err, "upsert request %d", req.ID)
}

func (s *Store) LoadSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT id, owner, balance FROM subscriptions ORDER BY id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "select subscriptions")
	}
	defer rows.Close()

	var subs []models.Subscription
	index := map[uint64]int{}
	for rows.Next() {
		var (
			id             int64
			owner, balance string
		)
		if err := rows.Scan(&id, &owner, &balance); err != nil {
			return nil, errors.Wrap(err, "scan subscription")
		}
		b, ok := new(big.Int).SetString(balance, 10)
		if !ok {
			return nil, errors.Errorf("corrupt balance %q for subscription %d", balance, id)
		}
		index[uint64(id)] = len(subs)
		subs = append(subs, models.Subscription{
			ID:        uint64(id),
			Owner:     models.Address(owner),
			Balance:   b,
			Consumers: map[models.Address]bool{},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate subscriptions")
	}

	crows, err := s.DB.QueryContext(ctx, "SELECT subscription_id, address FROM subscription_consumers")
	if err != nil {
		return nil, errors.Wrap(err, "select consumers")
	}
	defer crows.Close()
	for crows.Next() {
		var (
			subID int64
			addr  string
		)
		if err := crows.Scan(&subID, &addr); err != nil {
			return nil, errors.Wrap(err, "scan consumer")
		}
		if i, ok := index[uint64(subID)]; ok {
			subs[i].Consumers[models.Address(addr)] = true
		}
	}
	return subs, errors.Wrap(crows.Err(), "iterate consumers")
}

func (s *Store) LoadRequests(ctx context.Context) ([]models.RandomnessRequest, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, subscription_id, requester, num_words, callback_gas_limit, min_confirmations, key_hash, fulfilled, cancelled, created_at
		FROM randomness_requests ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "select requests")
	}
	defer rows.Close()

	var reqs []models.RandomnessRequest
	for rows.Next() {
		var (
			id, subID, numWords, gasLimit, confirmations, createdAt int64
			requester, keyHash                                      string
			fulfilled, cancelled                                    bool
		)
		if err := rows.Scan(&id, &subID, &requester, &numWords, &gasLimit, &confirmations, &keyHash, &fulfilled, &cancelled, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan request")
		}
		reqs = append(reqs, models.RandomnessRequest{
			ID:               uint64(id),
			SubscriptionID:   uint64(subID),
			Requester:        models.Address(requester),
			NumWords:         uint32(numWords),
			CallbackGasLimit: uint32(gasLimit),
			MinConfirmations: uint16(confirmations),
			KeyHash:          keyHash,
			Fulfilled:        fulfilled,
			Cancelled:        cancelled,
			CreatedAt:        time.Unix(0, createdAt).UTC(),
		})
	}
	return reqs, errors.Wrap(rows.Err(), "iterate requests")
}
