package saga

import (
	"context"

	"go.uber.org/zap"
)

// Step is a single unit of work. Compensate undoes the effect of a
// successful Execute.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator runs steps in order and, when one fails, compensates the
// steps that already succeeded in reverse order.
type Orchestrator struct {
	steps  []Step
	logger *zap.Logger
}

func NewOrchestrator(logger *zap.Logger, steps ...Step) *Orchestrator {
	return &Orchestrator{steps: steps, logger: logger}
}

// Start returns the error of the failing step. Compensation failures are
// logged and do not replace it.
func (o *Orchestrator) Start(ctx context.Context) error {
	var done []Step

	for _, step := range o.steps {
		o.logger.Debug("executing saga step", zap.String("step", step.Name()))
		if err := step.Execute(ctx); err != nil {
			o.logger.Warn("saga step failed, rolling back",
				zap.String("step", step.Name()),
				zap.Error(err),
			)
			o.rollback(context.WithoutCancel(ctx), done)
			return err
		}
		done = append(done, step)
	}
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, steps []Step) {
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.Compensate(ctx); err != nil {
			o.logger.Error("saga compensation failed",
				zap.String("step", step.Name()),
				zap.Error(err),
			)
		}
	}
}

// Func adapts plain functions to Step. A nil compensate is a no-op.
type Func struct {
	StepName     string
	ExecuteFn    func(ctx context.Context) error
	CompensateFn func(ctx context.Context) error
}

func (f Func) Name() string { return f.StepName }

func (f Func) Execute(ctx context.Context) error { return f.ExecuteFn(ctx) }

func (f Func) Compensate(ctx context.Context) error {
	if f.CompensateFn == nil {
		return nil
	}
	return f.CompensateFn(ctx)
}
