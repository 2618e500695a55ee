package webhooks

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolpay/internal/payments"
)

func newTestHandler(store *fakePaymentStore) (*Handler, *fakeLogStore) {
	logs := newFakeLogStore()
	ing := NewIngestor(logs, store, nil, discardLogger())
	return NewHandler(ing, discardLogger()), logs
}

func postWebhook(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_Success(t *testing.T) {
	store := newFakePaymentStore(&payments.Order{ID: "ord-1"})
	h, logs := newTestHandler(store)

	rec := postWebhook(h, `{"order_info":{"order_id":"ord-1","status":"success"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Len(t, store.appended, 1)
	require.Len(t, logs.inserted, 1)
}

func TestWebhookHandler_AuditsRequestHeaders(t *testing.T) {
	store := newFakePaymentStore(&payments.Order{ID: "ord-1"})
	h, logs := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook",
		strings.NewReader(`{"order_info":{"order_id":"ord-1","status":"success"}}`))
	req.Header.Set("X-Webhook-Signature", "sig-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, logs.inserted, 1)
	assert.Equal(t, "sig-abc", logs.inserted[0].Headers.Get("X-Webhook-Signature"))
}

func TestWebhookHandler_EmptyBody(t *testing.T) {
	h, logs := newTestHandler(newFakePaymentStore())

	rec := postWebhook(h, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, logs.inserted)
}

func TestWebhookHandler_MalformedPayload(t *testing.T) {
	h, logs := newTestHandler(newFakePaymentStore())

	rec := postWebhook(h, `{"order_info":{}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// The delivery is still audited before rejection.
	require.Len(t, logs.inserted, 1)
}

func TestWebhookHandler_UnknownOrder(t *testing.T) {
	h, logs := newTestHandler(newFakePaymentStore())

	rec := postWebhook(h, `{"order_info":{"order_id":"ghost","status":"success"}}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown order")
	require.Len(t, logs.inserted, 1)
}
