package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"schoolpay/internal/common/database"
)

// PostgresStore persists orders and status events.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateOrder inserts a new order record.
func (s *PostgresStore) CreateOrder(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO orders (
			id, school_id, trustee_id, student_name, student_id, student_email,
			amount, gateway_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		order.ID,
		order.SchoolID,
		order.TrusteeID,
		order.StudentInfo.Name,
		order.StudentInfo.ID,
		order.StudentInfo.Email,
		order.Amount,
		order.GatewayName,
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}

	return nil
}

// GetOrder retrieves an order by id.
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `
		SELECT id, school_id, trustee_id, student_name, student_id, student_email,
		       amount, gateway_name, created_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := s.db.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.SchoolID, &o.TrusteeID,
		&o.StudentInfo.Name, &o.StudentInfo.ID, &o.StudentInfo.Email,
		&o.Amount, &o.GatewayName, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("selecting order: %w", err)
	}

	return &o, nil
}

// AppendStatusEvent appends a status observation to an order's ledger. Events
// are never updated or deleted.
func (s *PostgresStore) AppendStatusEvent(ctx context.Context, event *StatusEvent) error {
	query := `
		INSERT INTO status_events (
			id, order_ref, status, order_amount, transaction_amount,
			payment_mode, bank_reference, payment_message, payment_time, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`

	err := s.db.QueryRow(ctx, query,
		event.ID,
		event.OrderRef,
		event.Status,
		event.OrderAmount,
		event.TransactionAmount,
		nullableString(event.PaymentMode),
		nullableString(event.BankReference),
		nullableString(event.PaymentMessage),
		event.PaymentTime,
		event.CreatedAt,
	).Scan(&event.Seq)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("inserting status event: %w", err)
	}

	return nil
}

// LatestStatusEvent returns the newest status event for an order, or nil when
// the order has none.
func (s *PostgresStore) LatestStatusEvent(ctx context.Context, orderID string) (*StatusEvent, error) {
	query := `
		SELECT seq, id, order_ref, status, order_amount, transaction_amount,
		       payment_mode, bank_reference, payment_message, payment_time, created_at
		FROM status_events
		WHERE order_ref = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	var e StatusEvent
	var paymentMode, bankReference, paymentMessage *string
	err := s.db.QueryRow(ctx, query, orderID).Scan(
		&e.Seq, &e.ID, &e.OrderRef, &e.Status,
		&e.OrderAmount, &e.TransactionAmount,
		&paymentMode, &bankReference, &paymentMessage,
		&e.PaymentTime, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting latest status event: %w", err)
	}

	if paymentMode != nil {
		e.PaymentMode = *paymentMode
	}
	if bankReference != nil {
		e.BankReference = *bankReference
	}
	if paymentMessage != nil {
		e.PaymentMessage = *paymentMessage
	}

	return &e, nil
}

// ListTransactions runs the reconciliation view: every matching order joined
// with its current status event, sorted and paginated. schoolID, when set,
// scopes the view to one school.
func (s *PostgresStore) ListTransactions(ctx context.Context, q *TransactionQuery, schoolID string) ([]TransactionRow, error) {
	sql, args := buildTransactionListSQL(q, schoolID)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	result := make([]TransactionRow, 0, q.Limit)
	for rows.Next() {
		var row TransactionRow
		err := rows.Scan(
			&row.CustomOrderID, &row.CollectID, &row.SchoolID, &row.Gateway,
			&row.OrderAmount, &row.TransactionAmount, &row.Status,
			&row.PaymentTime, &row.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading transaction rows: %w", err)
	}

	return result, nil
}

// CountTransactions returns the total number of rows matching the same filter,
// without pagination.
func (s *PostgresStore) CountTransactions(ctx context.Context, q *TransactionQuery, schoolID string) (int64, error) {
	sql, args := buildTransactionCountSQL(q, schoolID)

	var total int64
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}

	return total, nil
}

// ListSchools returns the distinct school ids seen across orders.
func (s *PostgresStore) ListSchools(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT school_id FROM orders ORDER BY school_id`)
	if err != nil {
		return nil, fmt.Errorf("listing schools: %w", err)
	}
	defer rows.Close()

	var schools []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning school id: %w", err)
		}
		schools = append(schools, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading school ids: %w", err)
	}

	return schools, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
