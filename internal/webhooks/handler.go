package webhooks

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"schoolpay/internal/common/api"
	"schoolpay/internal/payments"
)

// Handler receives gateway webhook callbacks over HTTP.
type Handler struct {
	ingestor *Ingestor
	logger   *slog.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(ingestor *Ingestor, logger *slog.Logger) *Handler {
	return &Handler{ingestor: ingestor, logger: logger}
}

// ServeHTTP handles POST callbacks from the gateway.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		api.BadRequest(w, "failed to read body")
		return
	}
	defer r.Body.Close()

	if len(body) == 0 {
		api.BadRequest(w, "empty body")
		return
	}

	_, err = h.ingestor.Ingest(r.Context(), body, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, ErrMalformedPayload):
			api.BadRequest(w, err.Error())
		case errors.Is(err, payments.ErrOrderNotFound):
			api.UnprocessableEntity(w, "callback references an unknown order")
		default:
			h.logger.Error("webhook processing failed", "error", err)
			api.InternalError(w, "failed to process webhook")
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
