package worker

import (
	"context"
	"time"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/repo"
	"storefront-orders/internal/service"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Reconciler applies the gateway's verdict to an order.
type Reconciler interface {
	Confirm(ctx context.Context, orderID uuid.UUID, actor service.Actor, gatewayRef string) (*domain.Order, error)
	MarkFailed(ctx context.Context, orderID uuid.UUID, gatewayRef string) (*domain.Order, error)
}

type ReconciliationWorker struct {
	payments   repo.PaymentRepo
	gateway    payment.PaymentGateway
	reconciler Reconciler
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewReconciliationWorker(
	payments repo.PaymentRepo,
	gateway payment.PaymentGateway,
	reconciler Reconciler,
	logger *zap.Logger,
	interval time.Duration,
	staleAfter time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		payments:   payments,
		gateway:    gateway,
		reconciler: reconciler,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  100,
		now:        time.Now,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started",
		zap.Duration("interval", rw.interval),
		zap.Duration("stale_after", rw.staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.Sweep(ctx); err != nil {
				rw.logger.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep resolves gateway attempts that have been pending longer than the
// stale threshold and returns how many it settled either way. Attempts the
// gateway still reports as pending are left for the next sweep.
func (rw *ReconciliationWorker) Sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("storefront-orders/worker").Start(ctx, "reconciliation.Sweep")
	defer span.End()

	stuck, err := rw.payments.FindPendingBefore(ctx, rw.now().Add(-rw.staleAfter), rw.batchSize)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	rw.logger.Info("found stale payment attempts", zap.Int("count", len(stuck)))

	resolved := 0
	for _, attempt := range stuck {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		ok, err := rw.resolve(ctx, attempt)
		if err != nil {
			rw.logger.Warn("could not reconcile payment attempt",
				zap.String("order_id", attempt.OrderID.String()),
				zap.String("gateway_ref", attempt.GatewayRef),
				zap.Error(err),
			)
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

func (rw *ReconciliationWorker) resolve(ctx context.Context, attempt domain.PaymentAttempt) (bool, error) {
	status, err := rw.gateway.CheckStatus(ctx, attempt.GatewayRef)
	if err != nil {
		return false, err
	}

	log := rw.logger.With(
		zap.String("order_id", attempt.OrderID.String()),
		zap.String("gateway_ref", attempt.GatewayRef),
		zap.String("intent_status", string(status)),
	)
	switch status {
	case payment.IntentSucceeded:
		if _, err := rw.reconciler.Confirm(ctx, attempt.OrderID, service.SystemActor(), attempt.GatewayRef); err != nil {
			// A retry already replaced this reference; the order moved on.
			if apperr.CodeOf(err) == apperr.CodeReferenceMismatch {
				log.Warn("paid intent no longer referenced by its order")
				return false, nil
			}
			return false, err
		}
		log.Info("stale payment confirmed")
		return true, nil
	case payment.IntentFailed, payment.IntentCanceled:
		if _, err := rw.reconciler.MarkFailed(ctx, attempt.OrderID, attempt.GatewayRef); err != nil {
			return false, err
		}
		log.Info("stale payment marked failed")
		return true, nil
	default:
		return false, nil
	}
}
