package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type eventApplier interface {
	Apply(ctx context.Context, evt Event) error
}

// WebhookHandler receives signed processor events and feeds them to the
// reconciler. Signature or payload problems never mutate local state;
// duplicate deliveries are acked without reprocessing.
type WebhookHandler struct {
	webhookSecret string
	reconciler    eventApplier
	processed     processedTracker
	logger        *logging.Logger
	now           func() time.Time
}

func NewWebhookHandler(webhookSecret string, reconciler eventApplier, processed processedTracker, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		reconciler:    reconciler,
		processed:     processed,
		logger:        logger,
		now:           time.Now,
	}
}

// Handle processes POST /webhooks/stripe.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifyStripeSignature(h.webhookSecret, payload, sigHeader, h.now()) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var envelope stripeWebhookEvent
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if envelope.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	evt, ok := envelope.toEvent()
	if !ok {
		// Unknown event types are acked so the processor stops retrying.
		w.WriteHeader(http.StatusOK)
		return
	}

	if processed, err := h.processed.AlreadyProcessed(r.Context(), "stripe", envelope.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if processed {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reconciler.Apply(r.Context(), evt); err != nil {
		h.logger.Error("failed to apply processor event",
			"error", err, "event_id", envelope.ID, "kind", evt.Kind)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.processed.MarkProcessed(r.Context(), "stripe", envelope.ID); err != nil {
		// The transitions themselves are idempotent, so a failed mark
		// only costs a redundant replay.
		h.logger.Error("failed to mark event processed", "error", err, "event_id", envelope.ID)
	}

	w.WriteHeader(http.StatusOK)
}

// stripeWebhookEvent is the subset of Stripe's event envelope we need.
type stripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeEventObject `json:"object"`
	} `json:"data"`
}

// stripeEventObject covers payment intents, charges, and refunds; which
// fields are set depends on the event type.
type stripeEventObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	PaymentMethod string `json:"payment_method"`
	Status        string `json:"status"`
	Refunds       struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	} `json:"refunds"`
}

func (e stripeWebhookEvent) toEvent() (Event, bool) {
	obj := e.Data.Object
	switch EventKind(e.Type) {
	case EventIntentRequiresAction, EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		return Event{
			ID:            e.ID,
			Kind:          EventKind(e.Type),
			IntentID:      obj.ID,
			PaymentMethod: obj.PaymentMethod,
		}, true
	case EventChargeRefunded:
		evt := Event{
			ID:           e.ID,
			Kind:         EventChargeRefunded,
			IntentID:     obj.PaymentIntent,
			RefundStatus: "succeeded",
		}
		if len(obj.Refunds.Data) > 0 {
			last := obj.Refunds.Data[len(obj.Refunds.Data)-1]
			evt.RefundID = last.ID
			evt.RefundStatus = last.Status
		}
		return evt, true
	case EventRefundCreated, EventRefundUpdated, EventRefundFailed:
		return Event{
			ID:           e.ID,
			Kind:         EventKind(e.Type),
			IntentID:     obj.PaymentIntent,
			RefundID:     obj.ID,
			RefundStatus: obj.Status,
		}, true
	}
	return Event{}, false
}

func verifyStripeSignature(secret string, payload []byte, header string, now time.Time) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	// Check timestamp tolerance (5 minutes)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(now.Unix()-ts) > 300 {
		return false
	}

	// Expected signature: HMAC-SHA256(secret, "timestamp.payload")
	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
