package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingApplier struct {
	events []Event
	err    error
}

func (c *countingApplier) Apply(_ context.Context, evt Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, evt)
	return nil
}

const testWebhookSecret = "whsec_test"

func signPayload(secret string, payload []byte, ts time.Time) string {
	signed := fmt.Sprintf("%d.%s", ts.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(h *WebhookHandler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestWebhookDispatchesIntentEvent(t *testing.T) {
	applier := &countingApplier{}
	h := NewWebhookHandler(testWebhookSecret, applier, newFakeTracker(), nil)
	now := time.Now()
	h.now = func() time.Time { return now }

	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_test", "payment_method": "pm_card", "status": "succeeded"}}
	}`)

	rec := postWebhook(h, payload, signPayload(testWebhookSecret, payload, now))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applier.events, 1)
	evt := applier.events[0]
	assert.Equal(t, EventIntentSucceeded, evt.Kind)
	assert.Equal(t, "pi_test", evt.IntentID)
	assert.Equal(t, "pm_card", evt.PaymentMethod)
}

func TestWebhookExtractsRefundFromCharge(t *testing.T) {
	applier := &countingApplier{}
	h := NewWebhookHandler("", applier, newFakeTracker(), nil)

	payload := []byte(`{
		"id": "evt_1",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_1",
			"payment_intent": "pi_test",
			"refunds": {"data": [{"id": "re_test", "status": "succeeded"}]}
		}}
	}`)

	rec := postWebhook(h, payload, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applier.events, 1)
	evt := applier.events[0]
	assert.Equal(t, EventChargeRefunded, evt.Kind)
	assert.Equal(t, "pi_test", evt.IntentID)
	assert.Equal(t, "re_test", evt.RefundID)
	assert.Equal(t, "succeeded", evt.RefundStatus)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	applier := &countingApplier{}
	h := NewWebhookHandler(testWebhookSecret, applier, newFakeTracker(), nil)

	payload := []byte(`{"id": "evt_1", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi"}}}`)

	rec := postWebhook(h, payload, "t=123,v1=deadbeef")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, applier.events)

	rec = postWebhook(h, payload, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	applier := &countingApplier{}
	h := NewWebhookHandler(testWebhookSecret, applier, newFakeTracker(), nil)
	now := time.Now()
	h.now = func() time.Time { return now }

	payload := []byte(`{"id": "evt_1", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi"}}}`)
	stale := signPayload(testWebhookSecret, payload, now.Add(-10*time.Minute))

	rec := postWebhook(h, payload, stale)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookDeduplicatesEvents(t *testing.T) {
	applier := &countingApplier{}
	h := NewWebhookHandler("", applier, newFakeTracker(), nil)

	payload := []byte(`{"id": "evt_1", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_test"}}}`)

	rec := postWebhook(h, payload, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postWebhook(h, payload, "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, applier.events, 1, "duplicate delivery must be acked without reprocessing")
}

func TestWebhookAcksUnknownEventType(t *testing.T) {
	applier := &countingApplier{}
	h := NewWebhookHandler("", applier, newFakeTracker(), nil)

	payload := []byte(`{"id": "evt_1", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	rec := postWebhook(h, payload, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, applier.events)
}

func TestWebhookBadPayload(t *testing.T) {
	h := NewWebhookHandler("", &countingApplier{}, newFakeTracker(), nil)

	rec := postWebhook(h, []byte("{not json"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postWebhook(h, []byte(`{"type": "payment_intent.succeeded"}`), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing event id is rejected")
}

func TestWebhookApplierErrorIsServerError(t *testing.T) {
	tracker := newFakeTracker()
	h := NewWebhookHandler("", &countingApplier{err: errBoom}, tracker, nil)

	payload := []byte(`{"id": "evt_1", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_test"}}}`)

	rec := postWebhook(h, payload, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	processed, err := tracker.AlreadyProcessed(context.Background(), "stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, processed, "failed application must stay replayable")
}
