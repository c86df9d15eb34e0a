package payment

import (
	"context"
	"errors"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

// ErrIntentNotFound is returned for references the gateway does not know.
var ErrIntentNotFound = errors.New("payment intent not found")

type IntentRequest struct {
	// Amount is in minor currency units.
	Amount   int64
	Currency string
	Receipt  string
	Metadata map[string]string
	// IdempotencyKey identifies one payment attempt. Replaying a key must
	// not create a second intent.
	IdempotencyKey string
}

type Intent struct {
	Reference    string `json:"reference"`
	ClientSecret string `json:"client_secret,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CheckStatus(ctx context.Context, reference string) (IntentStatus, error)
	CancelPaymentIntent(ctx context.Context, reference string) error
}
