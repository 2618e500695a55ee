package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"schoolpay/internal/common/events"
	"schoolpay/internal/payments"
)

// ErrMalformedPayload means the callback body could not be parsed into a
// status event candidate.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// LogStore persists the raw audit trail.
type LogStore interface {
	Insert(ctx context.Context, log *Log) error
	MarkError(ctx context.Context, id, message string) error
}

// PaymentStore is the slice of the payments store the ingestor needs.
type PaymentStore interface {
	GetOrder(ctx context.Context, id string) (*payments.Order, error)
	AppendStatusEvent(ctx context.Context, event *payments.StatusEvent) error
}

// Ingestor turns gateway callbacks into status ledger entries. The audit log
// write always happens first so a processing failure never loses the payload.
type Ingestor struct {
	logs      LogStore
	store     PaymentStore
	publisher events.Publisher
	logger    *slog.Logger
}

// NewIngestor creates a new webhook ingestor. publisher may be nil when event
// publishing is disabled.
func NewIngestor(logs LogStore, store PaymentStore, publisher events.Publisher, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		logs:      logs,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// callbackPayload is the documented callback shape. The gateway nests the
// transaction fields under order_info.
type callbackPayload struct {
	OrderInfo *orderInfo `json:"order_info"`
}

type orderInfo struct {
	OrderID           string   `json:"order_id"`
	CollectID         string   `json:"collect_id"`
	CollectRequestID  string   `json:"collect_request_id"`
	Status            string   `json:"status"`
	OrderAmount       *float64 `json:"order_amount"`
	TransactionAmount *float64 `json:"transaction_amount"`
	PaymentMode       string   `json:"payment_mode"`
	BankReference     string   `json:"bank_reference"`
	PaymentMessage    string   `json:"payment_message"`
	PaymentTime       string   `json:"payment_time"`
}

// orderRef resolves the order reference across the field names the gateway
// has used, in priority order.
func (o *orderInfo) orderRef() string {
	for _, ref := range []string{o.OrderID, o.CollectID, o.CollectRequestID} {
		if ref != "" {
			return ref
		}
	}
	return ""
}

// Ingest records the raw callback, validates it against the order store and
// appends a status event. The audit row is kept even when validation fails.
// headers may be nil for deliveries that did not arrive over HTTP.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, headers http.Header) (*payments.StatusEvent, error) {
	log := &Log{
		ID:         ulid.Make().String(),
		Payload:    raw,
		Headers:    headers,
		ReceivedAt: time.Now().UTC(),
	}
	if err := i.logs.Insert(ctx, log); err != nil {
		// Audit durability is best-effort; processing continues.
		i.logger.Error("failed to persist webhook log", "error", err)
	}

	info, err := parseCallback(raw)
	if err != nil {
		i.markError(ctx, log.ID, err.Error())
		return nil, err
	}

	orderRef := info.orderRef()
	order, err := i.store.GetOrder(ctx, orderRef)
	if err != nil {
		if errors.Is(err, payments.ErrOrderNotFound) {
			i.logger.Warn("webhook references unknown order", "order_ref", orderRef, "webhook_log_id", log.ID)
			i.markError(ctx, log.ID, "unknown order reference: "+orderRef)
			i.publishRejected(ctx, log.ID, orderRef)
			return nil, fmt.Errorf("order %q: %w", orderRef, payments.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("resolving order %q: %w", orderRef, err)
	}

	event := &payments.StatusEvent{
		ID:                ulid.Make().String(),
		OrderRef:          order.ID,
		Status:            strings.ToUpper(strings.TrimSpace(info.Status)),
		OrderAmount:       info.OrderAmount,
		TransactionAmount: info.TransactionAmount,
		PaymentMode:       info.PaymentMode,
		BankReference:     info.BankReference,
		PaymentMessage:    info.PaymentMessage,
		PaymentTime:       parsePaymentTime(info.PaymentTime),
		CreatedAt:         time.Now().UTC(),
	}

	if err := i.store.AppendStatusEvent(ctx, event); err != nil {
		i.markError(ctx, log.ID, err.Error())
		return nil, fmt.Errorf("appending status event: %w", err)
	}

	i.logger.Info("status event recorded",
		"order_id", order.ID,
		"status", event.Status,
		"webhook_log_id", log.ID,
	)

	i.publishRecorded(ctx, order, event)

	return event, nil
}

func parseCallback(raw []byte) (*orderInfo, error) {
	var payload callbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.OrderInfo == nil {
		return nil, fmt.Errorf("%w: missing order_info", ErrMalformedPayload)
	}
	if payload.OrderInfo.orderRef() == "" {
		return nil, fmt.Errorf("%w: missing order reference", ErrMalformedPayload)
	}
	if strings.TrimSpace(payload.OrderInfo.Status) == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedPayload)
	}
	return payload.OrderInfo, nil
}

func parsePaymentTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func (i *Ingestor) markError(ctx context.Context, logID, message string) {
	if err := i.logs.MarkError(ctx, logID, message); err != nil {
		i.logger.Error("failed to mark webhook log", "error", err, "webhook_log_id", logID)
	}
}

func (i *Ingestor) publishRecorded(ctx context.Context, order *payments.Order, event *payments.StatusEvent) {
	if i.publisher == nil {
		return
	}

	env, err := events.NewEnvelope(events.SubjectStatusRecorded, order.ID, &events.StatusRecorded{
		OrderID:       order.ID,
		StatusEventID: event.ID,
		Status:        event.Status,
		SchoolID:      order.SchoolID,
		PaymentTime:   event.PaymentTime,
	})
	if err != nil {
		i.logger.Error("failed to create status event envelope", "error", err)
		return
	}

	if err := i.publisher.Publish(ctx, events.SubjectStatusRecorded, env); err != nil {
		i.logger.Error("failed to publish status event", "error", err)
	}
}

func (i *Ingestor) publishRejected(ctx context.Context, logID, orderRef string) {
	if i.publisher == nil {
		return
	}

	env, err := events.NewEnvelope(events.SubjectWebhookRejected, logID, &events.WebhookRejected{
		WebhookLogID: logID,
		Reason:       "unknown order reference: " + orderRef,
	})
	if err != nil {
		i.logger.Error("failed to create rejection envelope", "error", err)
		return
	}

	if err := i.publisher.Publish(ctx, events.SubjectWebhookRejected, env); err != nil {
		i.logger.Error("failed to publish rejection event", "error", err)
	}
}
