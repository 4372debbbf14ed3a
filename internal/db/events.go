package db

import (
	"context"
	"math/big"
	"time"

	"github.com/google/logger"
	"github.com/pkg/errors"
	"raffle-oracle/internal/models"
)

// Notify appends ev to the event log. Failures are logged, never returned.
func (s *Store) Notify(ctx context.Context, ev models.Event) {
	amount := ""
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO events (kind, entrant, winner, request_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), string(ev.Entrant), string(ev.Winner), int64(ev.RequestID), amount, ev.At.UnixNano())
	if err != nil {
		logger.Errorf("Error recording %s event: %v", ev.Kind, err)
	}
}

// ListEvents returns up to limit events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT kind, entrant, winner, request_id, amount, created_at
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var (
			kind, entrant, winner, amount string
			requestID, at                 int64
		)
		if err := rows.Scan(&kind, &entrant, &winner, &requestID, &amount, &at); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		ev := models.Event{
			Kind:      models.EventKind(kind),
			Entrant:   models.Address(entrant),
			Winner:    models.Address(winner),
			RequestID: uint64(requestID),
			At:        time.Unix(0, at).UTC(),
		}
		if amount != "" {
			ev.Amount, _ = new(big.Int).SetString(amount, 10)
		}
		events = append(events, ev)
	}
	return events, errors.Wrap(rows.Err(), "iterate events")
}
