package application

import (
	"context"
	"fmt"

	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
)

// sagaStep is one forward action with the action that undoes it
type sagaStep struct {
	name       string
	compensate func(ctx context.Context) error
}

// saga runs forward steps in order and, when one fails, undoes the
// completed ones in reverse
type saga struct {
	name      string
	completed []sagaStep
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

func newSaga(name string, logger *logging.Logger, m *metrics.Metrics) *saga {
	return &saga{name: name, logger: logger, metrics: m}
}

// run executes action and records compensate for rollback on success.
// compensate may be nil for steps with nothing to undo.
func (s *saga) run(ctx context.Context, name string, action func(ctx context.Context) error, compensate func(ctx context.Context) error) error {
	if err := action(ctx); err != nil {
		return err
	}
	if compensate != nil {
		s.completed = append(s.completed, sagaStep{name: name, compensate: compensate})
	}
	return nil
}

// rollback undoes every completed step, newest first. Compensations keep
// running after a failure so as much as possible is undone; the first
// failure is returned.
func (s *saga) rollback(ctx context.Context) error {
	// rollback must finish even when the request was cancelled
	ctx = context.WithoutCancel(ctx)

	var first error
	for i := len(s.completed) - 1; i >= 0; i-- {
		step := s.completed[i]
		err := step.compensate(ctx)
		s.metrics.RecordCompensation(s.name, err == nil)
		if err != nil {
			s.logger.Error("Compensation failed", "saga", s.name, "step", step.name, "error", err)
			if first == nil {
				first = fmt.Errorf("compensate %s: %w", step.name, err)
			}
			continue
		}
		s.logger.Warn("Compensated step", "saga", s.name, "step", step.name)
	}
	s.completed = nil
	return first
}
