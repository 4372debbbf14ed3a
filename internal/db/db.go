package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/logger"
	"github.com/pkg/errors"
	"github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Store is the SQL persistence of the raffle and of the oracle simulator.
type Store struct {
	DB *sql.DB
}

// Open connects to a libsql database. Remote URLs (libsql://, https://, wss://)
// go to Turso with authToken; file: URLs are served by the local SQLite driver.
func Open(ctx context.Context, url, authToken string) (*Store, error) {
	var opts []libsql.Option
	if authToken != "" && !strings.HasPrefix(url, "file:") {
		opts = append(opts, libsql.WithAuthToken(authToken))
	}
	connector, err := libsql.NewConnector(url, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "libsql connector")
	}
	db := sql.OpenDB(connector)
	if strings.HasPrefix(url, "file:") {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s := &Store{DB: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS lottery (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state INTEGER NOT NULL,
		last_draw_at INTEGER NOT NULL,
		recent_winner TEXT NOT NULL DEFAULT '',
		pool TEXT NOT NULL,
		pending_request_id INTEGER,
		draw_requested_at INTEGER,
		unpaid_winner TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		position INTEGER PRIMARY KEY,
		address TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY,
		owner TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscription_consumers (
		subscription_id INTEGER NOT NULL,
		address TEXT NOT NULL,
		PRIMARY KEY (subscription_id, address),
		FOREIGN KEY(subscription_id) REFERENCES subscriptions(id)
	)`,
	`CREATE TABLE IF NOT EXISTS randomness_requests (
		id INTEGER PRIMARY KEY,
		subscription_id INTEGER NOT NULL,
		requester TEXT NOT NULL,
		num_words INTEGER NOT NULL,
		callback_gas_limit INTEGER NOT NULL,
		min_confirmations INTEGER NOT NULL DEFAULT 0,
		key_hash TEXT NOT NULL DEFAULT '',
		fulfilled BOOLEAN NOT NULL DEFAULT 0,
		cancelled BOOLEAN NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY(subscription_id) REFERENCES subscriptions(id)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		entrant TEXT NOT NULL DEFAULT '',
		winner TEXT NOT NULL DEFAULT '',
		request_id INTEGER NOT NULL DEFAULT 0,
		amount TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		address TEXT PRIMARY KEY,
		amount TEXT NOT NULL
	)`,
}

func (s *Store) createTables(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			logger.Errorf("Error creating tables: %v", err)
			return errors.Wrap(err, "create tables")
		}
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}
