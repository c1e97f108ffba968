package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

var stripeTracer = otel.Tracer("telehealth.internal.payments.stripe")

// ProcessorClient is the payment processor surface the coordinator and
// refund service depend on.
type ProcessorClient interface {
	CreateIntent(ctx context.Context, params IntentParams) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	CreateRefund(ctx context.Context, params RefundParams) (*ProviderRefund, error)
}

// IntentParams describes a payment intent to create.
type IntentParams struct {
	AmountCents   int64
	Currency      string
	AppointmentID string
	PaymentID     string
}

// Intent is the subset of the processor's payment intent we keep.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// RefundParams describes a refund to create against a charged intent.
type RefundParams struct {
	IntentID    string
	AmountCents int64
	RefundID    string
	Reason      string
}

// ProviderRefund is the subset of the processor's refund object we keep.
type ProviderRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewStripeClient creates a Stripe-backed processor client.
func NewStripeClient(secretKey string, logger *logging.Logger) *StripeClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeClient) WithBaseURL(baseURL string) *StripeClient {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// CreateIntent creates a payment intent for a reserved slot.
func (s *StripeClient) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_payment_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("telehealth.appointment_id", params.AppointmentID),
		attribute.Int64("telehealth.amount_cents", params.AmountCents),
	)

	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", params.AmountCents))
	form.Set("currency", params.Currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[appointment_id]", params.AppointmentID)
	form.Set("metadata[payment_id]", params.PaymentID)

	var intent Intent
	if err := s.post(ctx, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("payments: stripe response missing intent id")
	}
	return &intent, nil
}

// CancelIntent cancels an intent whose local reservation failed to commit.
func (s *StripeClient) CancelIntent(ctx context.Context, intentID string) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.cancel_payment_intent")
	defer span.End()
	span.SetAttributes(attribute.String("telehealth.intent_id", intentID))

	var intent Intent
	return s.post(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/cancel", url.Values{}, &intent)
}

// CreateRefund asks the processor to return funds on a charged intent.
func (s *StripeClient) CreateRefund(ctx context.Context, params RefundParams) (*ProviderRefund, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("telehealth.intent_id", params.IntentID),
		attribute.Int64("telehealth.amount_cents", params.AmountCents),
	)

	form := url.Values{}
	form.Set("payment_intent", params.IntentID)
	form.Set("amount", fmt.Sprintf("%d", params.AmountCents))
	form.Set("metadata[refund_id]", params.RefundID)
	if params.Reason != "" {
		form.Set("metadata[reason]", params.Reason)
	}

	var refund ProviderRefund
	if err := s.post(ctx, "/v1/refunds", form, &refund); err != nil {
		return nil, err
	}
	if refund.ID == "" {
		return nil, fmt.Errorf("payments: stripe response missing refund id")
	}
	return &refund, nil
}

func (s *StripeClient) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", s.apiVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payments: stripe decode: %w", err)
	}
	return nil
}
