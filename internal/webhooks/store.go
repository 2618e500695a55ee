// Package webhooks ingests gateway payment callbacks into the status ledger
// and keeps a raw audit log of every delivery.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"schoolpay/internal/common/database"
)

// Log is the raw audit copy of one inbound callback, kept regardless of
// whether the callback produced a status event. It is never read by the
// query path; it exists for forensic replay, so the request headers are
// retained alongside the body.
type Log struct {
	ID              string          `json:"id"`
	Payload         json.RawMessage `json:"payload"`
	Headers         http.Header     `json:"headers,omitempty"`
	ProcessingError string          `json:"processing_error,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// PostgresLogStore persists webhook logs.
type PostgresLogStore struct {
	db *database.DB
}

// NewPostgresLogStore creates a new webhook log store.
func NewPostgresLogStore(db *database.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

// Insert writes one audit row. Bodies that are not valid JSON are stored as a
// JSON string so the raw bytes survive.
func (s *PostgresLogStore) Insert(ctx context.Context, log *Log) error {
	payload := log.Payload
	if !json.Valid(payload) {
		encoded, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("encoding raw payload: %w", err)
		}
		payload = encoded
	}

	var headers []byte
	if len(log.Headers) > 0 {
		encoded, err := json.Marshal(log.Headers)
		if err != nil {
			return fmt.Errorf("encoding headers: %w", err)
		}
		headers = encoded
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO webhook_logs (id, payload, headers, received_at) VALUES ($1, $2, $3, $4)`,
		log.ID, payload, headers, log.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting webhook log: %w", err)
	}

	return nil
}

// MarkError annotates an audit row with the reason it produced no status
// event. The payload itself is never touched.
func (s *PostgresLogStore) MarkError(ctx context.Context, id, message string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhook_logs SET processing_error = $2 WHERE id = $1`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("marking webhook log: %w", err)
	}

	return nil
}
