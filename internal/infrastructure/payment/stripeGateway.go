package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeGateway creates and inspects Stripe PaymentIntents. The client is
// constructed per gateway, never through the package-level stripe.Key.
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		client:        stripe.NewClient(secretKey),
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String(req.Receipt),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("receipt", req.Receipt)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &Intent{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func (g *StripeGateway) CheckStatus(ctx context.Context, reference string) (IntentStatus, error) {
	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, reference, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return "", ErrIntentNotFound
		}
		return "", fmt.Errorf("stripe retrieve payment intent: %w", err)
	}
	return mapStripeStatus(pi.Status, pi.LastPaymentError != nil), nil
}

func (g *StripeGateway) CancelPaymentIntent(ctx context.Context, reference string) error {
	_, err := g.client.V1PaymentIntents.Cancel(ctx, reference, &stripe.PaymentIntentCancelParams{})
	if err != nil {
		return fmt.Errorf("stripe cancel payment intent: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and returns the event.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, g.webhookSecret)
}

func mapStripeStatus(status stripe.PaymentIntentStatus, lastErr bool) IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A fresh intent also waits for a payment method; only a recorded
		// payment error means the attempt failed.
		if lastErr {
			return IntentFailed
		}
		return IntentPending
	default:
		return IntentPending
	}
}
