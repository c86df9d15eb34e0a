package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is an in-memory gateway used when no Stripe key is configured
// and in tests. Intents stay pending until Settle or Decline is called.
type MockGateway struct {
	mu      sync.RWMutex
	intents map[string]*mockIntent
	byKey   map[string]string
	latency time.Duration
	failErr error
}

type mockIntent struct {
	intent  Intent
	receipt string
	status  IntentStatus
}

func NewMockGateway(latency time.Duration) *MockGateway {
	return &MockGateway{
		intents: make(map[string]*mockIntent),
		byKey:   make(map[string]string),
		latency: latency,
	}
}

// FailWith makes subsequent CreatePaymentIntent calls return err. Pass nil
// to recover.
func (g *MockGateway) FailWith(err error) {
	g.mu.Lock()
	g.failErr = err
	g.mu.Unlock()
}

func (g *MockGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	if ref, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		out := g.intents[ref].intent
		return &out, nil
	}

	ref := "pi_mock_" + uuid.NewString()
	in := &mockIntent{
		intent: Intent{
			Reference:    ref,
			ClientSecret: ref + "_secret",
			Amount:       req.Amount,
			Currency:     req.Currency,
		},
		receipt: req.Receipt,
		status:  IntentPending,
	}
	g.intents[ref] = in
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = ref
	}
	out := in.intent
	return &out, nil
}

func (g *MockGateway) CheckStatus(ctx context.Context, reference string) (IntentStatus, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	in, ok := g.intents[reference]
	if !ok {
		return "", ErrIntentNotFound
	}
	return in.status, nil
}

func (g *MockGateway) CancelPaymentIntent(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[reference]
	if !ok {
		return ErrIntentNotFound
	}
	if in.status == IntentSucceeded {
		return errors.New("cannot cancel a succeeded intent")
	}
	in.status = IntentCanceled
	return nil
}

// Settle simulates the customer completing payment.
func (g *MockGateway) Settle(reference string) bool {
	return g.setStatus(reference, IntentSucceeded)
}

// Decline simulates a failed card payment.
func (g *MockGateway) Decline(reference string) bool {
	return g.setStatus(reference, IntentFailed)
}

func (g *MockGateway) Status(reference string) IntentStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if in, ok := g.intents[reference]; ok {
		return in.status
	}
	return ""
}

func (g *MockGateway) setStatus(reference string, status IntentStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[reference]
	if !ok || in.status == IntentCanceled {
		return false
	}
	in.status = status
	return true
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
