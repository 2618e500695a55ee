// Package payments owns the order record, the append-only status ledger and
// the reconciliation view over both.
package payments

import (
	"errors"
	"time"
)

// StudentInfo identifies the student a fee payment is for.
type StudentInfo struct {
	Name  string `json:"name"`
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Order is the immutable record of a requested payment. Its id, school and
// amount never change after creation; payment progress lives in the status
// ledger, not here.
type Order struct {
	ID          string      `json:"id"`
	SchoolID    string      `json:"school_id"`
	TrusteeID   string      `json:"trustee_id"`
	StudentInfo StudentInfo `json:"student_info"`
	Amount      float64     `json:"amount"`
	GatewayName string      `json:"gateway_name"`
	CreatedAt   time.Time   `json:"created_at"`
}

// StatusEvent is one append-only observation of an order's payment status.
// The event with the greatest CreatedAt (ties broken by Seq, the insertion
// order) is the order's current status.
type StatusEvent struct {
	Seq               int64      `json:"-"`
	ID                string     `json:"id"`
	OrderRef          string     `json:"collect_id"`
	Status            string     `json:"status"`
	OrderAmount       *float64   `json:"order_amount,omitempty"`
	TransactionAmount *float64   `json:"transaction_amount,omitempty"`
	PaymentMode       string     `json:"payment_mode,omitempty"`
	BankReference     string     `json:"bank_reference,omitempty"`
	PaymentMessage    string     `json:"payment_message,omitempty"`
	PaymentTime       *time.Time `json:"payment_time,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// TransactionRow is the projection served by the transaction views: the order
// joined with its current status event. Status-side fields are nil for orders
// that have no status events yet.
type TransactionRow struct {
	CustomOrderID     string     `json:"custom_order_id"`
	CollectID         *string    `json:"collect_id"`
	SchoolID          string     `json:"school_id"`
	Gateway           string     `json:"gateway"`
	OrderAmount       *float64   `json:"order_amount"`
	TransactionAmount *float64   `json:"transaction_amount"`
	Status            *string    `json:"status"`
	PaymentTime       *time.Time `json:"payment_time"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// TransactionPage is a page of transaction rows plus the unpaginated total.
type TransactionPage struct {
	Data  []TransactionRow `json:"data"`
	Total int64            `json:"total"`
}

// Domain errors
var (
	ErrInvalidOrderID   = errors.New("invalid order id format")
	ErrInvalidSortField = errors.New("unsupported sort field")
	ErrOrderNotFound    = errors.New("order not found")
)
