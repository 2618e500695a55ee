package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolpay/internal/common/middleware"
	"schoolpay/internal/gateway"
	"schoolpay/internal/payments"
)

// stubStore is a canned payments.Store for handler tests.
type stubStore struct {
	orders     map[string]*payments.Order
	latest     *payments.StatusEvent
	rows       []payments.TransactionRow
	total      int64
	schools    []string
	lastScope  string
	lastLatest string
}

func newStubStore() *stubStore {
	return &stubStore{orders: make(map[string]*payments.Order)}
}

func (s *stubStore) CreateOrder(ctx context.Context, order *payments.Order) error {
	s.orders[order.ID] = order
	return nil
}

func (s *stubStore) GetOrder(ctx context.Context, id string) (*payments.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, payments.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubStore) AppendStatusEvent(ctx context.Context, event *payments.StatusEvent) error {
	return nil
}

func (s *stubStore) LatestStatusEvent(ctx context.Context, orderID string) (*payments.StatusEvent, error) {
	s.lastLatest = orderID
	return s.latest, nil
}

func (s *stubStore) ListTransactions(ctx context.Context, q *payments.TransactionQuery, schoolID string) ([]payments.TransactionRow, error) {
	s.lastScope = schoolID
	return s.rows, nil
}

func (s *stubStore) CountTransactions(ctx context.Context, q *payments.TransactionQuery, schoolID string) (int64, error) {
	return s.total, nil
}

func (s *stubStore) ListSchools(ctx context.Context) ([]string, error) {
	return s.schools, nil
}

type stubInitiator struct {
	collect *gateway.CollectRequest
	err     error
}

func (s *stubInitiator) Initiate(ctx context.Context, schoolID string, amount float64, callbackURL string) (*gateway.CollectRequest, error) {
	return s.collect, s.err
}

func newTestRouter(store payments.Store, init payments.Initiator) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(payments.NewService(store, init, logger)).Routes()
}

// asUser attaches an authenticated user the way the auth middleware would.
func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID))
}

const validCreateBody = `{
	"school_id": "sch-1",
	"trustee_id": "trustee-1",
	"student_info": {"name": "Ravi", "id": "stu-1", "email": "ravi@example.com"},
	"amount": 2000,
	"callback_url": "https://cb.example/done"
}`

func TestCreatePayment_Created(t *testing.T) {
	store := newStubStore()
	router := newTestRouter(store, &stubInitiator{collect: &gateway.CollectRequest{
		RedirectURL: "https://pay.example/r",
		RequestID:   "req-1",
	}})

	req := httptest.NewRequest(http.MethodPost, "/orders/create-payment", strings.NewReader(validCreateBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		PaymentRedirectURL string `json:"paymentRedirectUrl"`
		CollectRequestID   string `json:"collectRequestId"`
		CustomOrderID      string `json:"custom_order_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example/r", resp.PaymentRedirectURL)
	assert.Equal(t, "req-1", resp.CollectRequestID)
	assert.Contains(t, store.orders, resp.CustomOrderID)

	// Anonymous caller, so the body's trustee id is kept.
	assert.Equal(t, "trustee-1", store.orders[resp.CustomOrderID].TrusteeID)
}

func TestCreatePayment_AuthenticatedUserBecomesTrustee(t *testing.T) {
	store := newStubStore()
	router := newTestRouter(store, &stubInitiator{collect: &gateway.CollectRequest{
		RedirectURL: "https://pay.example/r",
		RequestID:   "req-1",
	}})

	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/create-payment", strings.NewReader(validCreateBody)), "user-7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.orders, 1)
	for _, order := range store.orders {
		assert.Equal(t, "user-7", order.TrusteeID)
	}
}

func TestCreatePayment_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing_school", body: `{"student_info":{"name":"R","id":"s","email":"r@x.com"},"amount":100,"callback_url":"https://cb.example"}`},
		{name: "zero_amount", body: `{"school_id":"sch-1","student_info":{"name":"R","id":"s","email":"r@x.com"},"amount":0,"callback_url":"https://cb.example"}`},
		{name: "bad_email", body: `{"school_id":"sch-1","student_info":{"name":"R","id":"s","email":"nope"},"amount":100,"callback_url":"https://cb.example"}`},
		{name: "bad_callback", body: `{"school_id":"sch-1","student_info":{"name":"R","id":"s","email":"r@x.com"},"amount":100,"callback_url":"not a url"}`},
		{name: "not_json", body: `{{{`},
	}

	store := newStubStore()
	router := newTestRouter(store, &stubInitiator{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders/create-payment", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Empty(t, store.orders)
		})
	}
}

func TestCreatePayment_GatewayFailure(t *testing.T) {
	router := newTestRouter(newStubStore(), &stubInitiator{
		err: &gateway.Error{Reason: "unexpected status", Status: 500},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/create-payment", strings.NewReader(validCreateBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "GATEWAY_ERROR")
}

func TestCreatePayment_SigningKeyMissing(t *testing.T) {
	router := newTestRouter(newStubStore(), &stubInitiator{err: gateway.ErrSigningKeyMissing})

	req := httptest.NewRequest(http.MethodPost, "/orders/create-payment", strings.NewReader(validCreateBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Configuration details never leak to the caller.
	assert.NotContains(t, rec.Body.String(), "signing key")
}

func TestListTransactions_RequiresUser(t *testing.T) {
	router := newTestRouter(newStubStore(), &stubInitiator{})

	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListTransactions_ReturnsPage(t *testing.T) {
	store := newStubStore()
	now := time.Date(2025, 4, 23, 8, 0, 0, 0, time.UTC)
	store.rows = []payments.TransactionRow{{
		CustomOrderID: "ord-1",
		SchoolID:      "sch-1",
		Gateway:       "Edviron",
		CreatedAt:     now,
	}}
	store.total = 1
	router := newTestRouter(store, &stubInitiator{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/transactions?status=success&limit=5", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data  []map[string]any `json:"data"`
		Total int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "ord-1", page.Data[0]["custom_order_id"])
	assert.Equal(t, "Edviron", page.Data[0]["gateway"])
	assert.Nil(t, page.Data[0]["status"], "orders without events serve a null status")
	assert.Equal(t, int64(1), page.Total)
}

func TestListTransactions_BadQuery(t *testing.T) {
	router := newTestRouter(newStubStore(), &stubInitiator{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/transactions?sort=trustee_id", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSchoolTransactions_ScopesToPathSchool(t *testing.T) {
	store := newStubStore()
	router := newTestRouter(store, &stubInitiator{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/transactions/school/sch-9", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sch-9", store.lastScope)
}

func TestGetTransactionStatus_InvalidID(t *testing.T) {
	router := newTestRouter(newStubStore(), &stubInitiator{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/transaction-status/not-a-ulid", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid custom_order_id format")
}

func TestGetTransactionStatus_NoEventsYet(t *testing.T) {
	store := newStubStore()
	router := newTestRouter(store, &stubInitiator{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/transaction-status/01HV3ZJ5XQJ0Q9Z8RW0YV7N2KD", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
	assert.Equal(t, "01HV3ZJ5XQJ0Q9Z8RW0YV7N2KD", store.lastLatest)
}

func TestGetTransactionStatus_ReturnsCurrentEvent(t *testing.T) {
	store := newStubStore()
	store.latest = &payments.StatusEvent{
		ID:       "01HV3ZJ5XQJ0Q9Z8RW0YV7N2KE",
		OrderRef: "01HV3ZJ5XQJ0Q9Z8RW0YV7N2KD",
		Status:   "SUCCESS",
	}
	router := newTestRouter(store, &stubInitiator{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/transaction-status/01HV3ZJ5XQJ0Q9Z8RW0YV7N2KD", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SUCCESS", resp["status"])
	assert.Equal(t, "01HV3ZJ5XQJ0Q9Z8RW0YV7N2KD", resp["collect_id"])
}

func TestListSchools(t *testing.T) {
	store := newStubStore()
	store.schools = []string{"sch-1", "sch-2"}
	router := newTestRouter(store, &stubInitiator{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/schools", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"sch-1"},{"id":"sch-2"}]`, rec.Body.String())
}
