package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"schoolpay/internal/gateway"
)

// Store persists orders and status events and serves the reconciliation view.
type Store interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	AppendStatusEvent(ctx context.Context, event *StatusEvent) error
	LatestStatusEvent(ctx context.Context, orderID string) (*StatusEvent, error)
	ListTransactions(ctx context.Context, q *TransactionQuery, schoolID string) ([]TransactionRow, error)
	CountTransactions(ctx context.Context, q *TransactionQuery, schoolID string) (int64, error)
	ListSchools(ctx context.Context) ([]string, error)
}

// Initiator creates a collection request with the external gateway.
type Initiator interface {
	Initiate(ctx context.Context, schoolID string, amount float64, callbackURL string) (*gateway.CollectRequest, error)
}

// Service provides payment operations.
type Service struct {
	store   Store
	gateway Initiator
	logger  *slog.Logger
}

// NewService creates a new payments service.
func NewService(store Store, gw Initiator, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		gateway: gw,
		logger:  logger,
	}
}

// CreateOrderRequest is the request to create an order.
type CreateOrderRequest struct {
	SchoolID    string
	TrusteeID   string
	StudentInfo StudentInfo
	Amount      float64
	CallbackURL string
}

// CreateOrder persists a new order. The authenticated user is always the
// trustee; the caller-supplied trustee id is used only when no session exists.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest, actingUserID string) (*Order, error) {
	trusteeID := req.TrusteeID
	if actingUserID != "" {
		trusteeID = actingUserID
	}

	order := &Order{
		ID:          ulid.Make().String(),
		SchoolID:    strings.TrimSpace(req.SchoolID),
		TrusteeID:   trusteeID,
		StudentInfo: req.StudentInfo,
		Amount:      req.Amount,
		GatewayName: gateway.Name,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	s.logger.Info("order created",
		"order_id", order.ID,
		"school_id", order.SchoolID,
		"trustee_id", order.TrusteeID,
	)

	return order, nil
}

// CreatePayment creates an order and initiates collection with the gateway.
// The order survives an initiation failure; callers may retry initiation
// out-of-band using the returned error.
func (s *Service) CreatePayment(ctx context.Context, req CreateOrderRequest, actingUserID string) (*Order, *gateway.CollectRequest, error) {
	order, err := s.CreateOrder(ctx, req, actingUserID)
	if err != nil {
		return nil, nil, err
	}

	collect, err := s.gateway.Initiate(ctx, order.SchoolID, order.Amount, req.CallbackURL)
	if err != nil {
		return order, nil, err
	}

	s.logger.Info("payment initiated",
		"order_id", order.ID,
		"collect_request_id", collect.RequestID,
	)

	return order, collect, nil
}

// GetStatus returns the current status event for an order, or nil when the
// order has no status events yet. A malformed order id is rejected before the
// store is consulted.
func (s *Service) GetStatus(ctx context.Context, orderID string) (*StatusEvent, error) {
	if _, err := ulid.Parse(orderID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderID, orderID)
	}

	return s.store.LatestStatusEvent(ctx, orderID)
}

// ListTransactions serves the global reconciliation view.
func (s *Service) ListTransactions(ctx context.Context, q *TransactionQuery) (*TransactionPage, error) {
	return s.listTransactions(ctx, q, "")
}

// ListTransactionsForSchool behaves like ListTransactions with an implicit
// school equality filter applied ahead of the caller's filters.
func (s *Service) ListTransactionsForSchool(ctx context.Context, schoolID string, q *TransactionQuery) (*TransactionPage, error) {
	return s.listTransactions(ctx, q, strings.TrimSpace(schoolID))
}

func (s *Service) listTransactions(ctx context.Context, q *TransactionQuery, schoolID string) (*TransactionPage, error) {
	rows, err := s.store.ListTransactions(ctx, q, schoolID)
	if err != nil {
		return nil, err
	}

	// The total runs as a second query over the same join+filter; a status
	// arriving between the two reads is an accepted consistency window.
	total, err := s.store.CountTransactions(ctx, q, schoolID)
	if err != nil {
		return nil, err
	}

	return &TransactionPage{Data: rows, Total: total}, nil
}

// ListSchools returns the distinct school ids present in the order store.
func (s *Service) ListSchools(ctx context.Context) ([]string, error) {
	return s.store.ListSchools(ctx)
}
