package db

import (
	"context"
	"database/sql"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"raffle-oracle/internal/models"
)

// SaveLottery replaces the lottery record and its player list.
func (s *Store) SaveLottery(ctx context.Context, l models.Lottery) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var pending, requestedAt sql.NullInt64
		if l.HasPendingRequest {
			pending = sql.NullInt64{Int64: int64(l.PendingRequestID), Valid: true}
		}
		if l.DrawRequestedAt != nil {
			requestedAt = sql.NullInt64{Int64: l.DrawRequestedAt.UnixNano(), Valid: true}
		}
		pool := "0"
		if l.Pool != nil {
			pool = l.Pool.String()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO lottery (id, state, last_draw_at, recent_winner, pool, pending_request_id, draw_requested_at, unpaid_winner)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				last_draw_at = excluded.last_draw_at,
				recent_winner = excluded.recent_winner,
				pool = excluded.pool,
				pending_request_id = excluded.pending_request_id,
				draw_requested_at = excluded.draw_requested_at,
				unpaid_winner = excluded.unpaid_winner`,
			int64(l.State), l.LastDrawTimestamp.UnixNano(), string(l.RecentWinner), pool, pending, requestedAt, string(l.UnpaidWinner))
		if err != nil {
			return errors.Wrap(err, "upsert lottery")
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM players"); err != nil {
			return errors.Wrap(err, "clear players")
		}
		for i, p := range l.Players {
			if _, err := tx.ExecContext(ctx, "INSERT INTO players (position, address) VALUES (?, ?)", i, string(p)); err != nil {
				return errors.Wrapf(err, "insert player %d", i)
			}
		}
		return nil
	})
}

// LoadLottery returns the stored lottery record; ok is false if none was saved yet.
func (s *Store) LoadLottery(ctx context.Context) (models.Lottery, bool, error) {
	var (
		l                    models.Lottery
		state, lastDraw      int64
		winner, pool, unpaid string
		pending, requestedAt sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT state, last_draw_at, recent_winner, pool, pending_request_id, draw_requested_at, unpaid_winner
		FROM lottery WHERE id = 1`).Scan(&state, &lastDraw, &winner, &pool, &pending, &requestedAt, &unpaid)
	if err == sql.ErrNoRows {
		return models.Lottery{}, false, nil
	}
	if err != nil {
		return models.Lottery{}, false, errors.Wrap(err, "select lottery")
	}

	l.State = models.RaffleState(state)
	l.LastDrawTimestamp = time.Unix(0, lastDraw).UTC()
	l.RecentWinner = models.Address(winner)
	l.UnpaidWinner = models.Address(unpaid)
	var ok bool
	if l.Pool, ok = new(big.Int).SetString(pool, 10); !ok {
		return models.Lottery{}, false, errors.Errorf("corrupt pool %q", pool)
	}
	if pending.Valid {
		l.HasPendingRequest = true
		l.PendingRequestID = uint64(pending.Int64)
	}
	if requestedAt.Valid {
		t := time.Unix(0, requestedAt.Int64).UTC()
		l.DrawRequestedAt = &t
	}

	rows, err := s.DB.QueryContext(ctx, "SELECT address FROM players ORDER BY position ASC")
	if err != nil {
		return models.Lottery{}, false, errors.Wrap(err, "select players")
	}
	defer rows.Close()
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return models.Lottery{}, false, errors.Wrap(err, "scan player")
		}
		l.Players = append(l.Players, models.Address(a))
	}
	if err := rows.Err(); err != nil {
		return models.Lottery{}, false, errors.Wrap(err, "iterate players")
	}
	return l, true, nil
}

// Transfer credits amount to the withdrawable balance of to.
func (s *Store) Transfer(ctx context.Context, to models.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return models.ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := balance(ctx, tx, to)
		if err != nil {
			return err
		}
		cur.Add(cur, amount)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO balances (address, amount) VALUES (?, ?)
			ON CONFLICT(address) DO UPDATE SET amount = excluded.amount`, string(to), cur.String())
		return errors.Wrap(err, "upsert balance")
	})
}

// Balance returns what has been paid out to addr so far.
func (s *Store) Balance(ctx context.Context, addr models.Address) (*big.Int, error) {
	return balance(ctx, s.DB, addr)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balance(ctx context.Context, q queryer, addr models.Address) (*big.Int, error) {
	var amount string
	err := q.QueryRowContext(ctx, "SELECT amount FROM balances WHERE address = ?", string(addr)).Scan(&amount)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select balance")
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, errors.Errorf("corrupt balance %q for %s", amount, addr)
	}
	return v, nil
}
