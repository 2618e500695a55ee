// Package api exposes the payments HTTP surface.
package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolpay/internal/common/api"
	"schoolpay/internal/common/middleware"
	"schoolpay/internal/gateway"
	"schoolpay/internal/payments"
)

// Handler handles payments HTTP requests.
type Handler struct {
	service *payments.Service
}

// NewHandler creates a new payments handler.
func NewHandler(service *payments.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the payments routes. Listing and status routes require an
// authenticated user; create-payment accepts anonymous callers and falls back
// to the request's trustee id.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/orders/create-payment", h.CreatePayment)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/school/{schoolID}", h.ListSchoolTransactions)
		r.Get("/transaction-status/{orderID}", h.GetTransactionStatus)
		r.Get("/schools", h.ListSchools)
	})

	return r
}

// CreatePaymentRequest is the API request for creating a payment.
type CreatePaymentRequest struct {
	SchoolID    string           `json:"school_id" validate:"required"`
	TrusteeID   string           `json:"trustee_id"`
	StudentInfo StudentInfoInput `json:"student_info" validate:"required"`
	Amount      float64          `json:"amount" validate:"required,gt=0"`
	CallbackURL string           `json:"callback_url" validate:"required,url"`
}

// StudentInfoInput identifies the paying student.
type StudentInfoInput struct {
	Name  string `json:"name" validate:"required"`
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// CreatePaymentResponse carries the gateway redirect for the payer.
type CreatePaymentResponse struct {
	PaymentRedirectURL string `json:"paymentRedirectUrl"`
	CollectRequestID   string `json:"collectRequestId"`
	CustomOrderID      string `json:"custom_order_id"`
}

// CreatePayment handles POST /orders/create-payment
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	svcReq := payments.CreateOrderRequest{
		SchoolID:  req.SchoolID,
		TrusteeID: req.TrusteeID,
		StudentInfo: payments.StudentInfo{
			Name:  req.StudentInfo.Name,
			ID:    req.StudentInfo.ID,
			Email: req.StudentInfo.Email,
		},
		Amount:      req.Amount,
		CallbackURL: req.CallbackURL,
	}

	order, collect, err := h.service.CreatePayment(r.Context(), svcReq, middleware.GetUserID(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrSigningKeyMissing):
			api.InternalError(w, "payment gateway is not configured")
		case isGatewayError(err):
			api.BadGateway(w, "failed to initiate payment through gateway")
		default:
			api.WriteError(w, http.StatusServiceUnavailable, api.ErrCodeServiceUnavail, "failed to create order")
		}
		return
	}

	api.WriteJSON(w, http.StatusCreated, CreatePaymentResponse{
		PaymentRedirectURL: collect.RedirectURL,
		CollectRequestID:   collect.RequestID,
		CustomOrderID:      order.ID,
	})
}

// ListTransactions handles GET /transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := payments.ParseTransactionQuery(r.URL.Query())
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	page, err := h.service.ListTransactions(r.Context(), q)
	if err != nil {
		api.InternalError(w, "failed to list transactions")
		return
	}

	api.WriteJSON(w, http.StatusOK, page)
}

// ListSchoolTransactions handles GET /transactions/school/{schoolID}
func (h *Handler) ListSchoolTransactions(w http.ResponseWriter, r *http.Request) {
	schoolID := chi.URLParam(r, "schoolID")
	if schoolID == "" {
		api.BadRequest(w, "school ID required")
		return
	}

	q, err := payments.ParseTransactionQuery(r.URL.Query())
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	page, err := h.service.ListTransactionsForSchool(r.Context(), schoolID, q)
	if err != nil {
		api.InternalError(w, "failed to list transactions")
		return
	}

	api.WriteJSON(w, http.StatusOK, page)
}

// GetTransactionStatus handles GET /transaction-status/{orderID}
func (h *Handler) GetTransactionStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	event, err := h.service.GetStatus(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidOrderID) {
			api.BadRequest(w, "invalid custom_order_id format")
			return
		}
		api.InternalError(w, "failed to get transaction status")
		return
	}

	// No status events yet is an empty result, not an error.
	if event == nil {
		api.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}

	api.WriteJSON(w, http.StatusOK, event)
}

// SchoolResponse is one school id entry.
type SchoolResponse struct {
	ID string `json:"id"`
}

// ListSchools handles GET /schools
func (h *Handler) ListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := h.service.ListSchools(r.Context())
	if err != nil {
		api.InternalError(w, "failed to list schools")
		return
	}

	result := make([]SchoolResponse, 0, len(schools))
	for _, id := range schools {
		result = append(result, SchoolResponse{ID: id})
	}

	api.WriteJSON(w, http.StatusOK, result)
}

func isGatewayError(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr)
}
