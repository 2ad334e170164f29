package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deal_intake/pkg/core/store"
	"deal_intake/pkg/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const timedOutMessage = "extraction timed out"

// Reaper fails items that have sat in processing longer than StuckAfter, so a
// crashed or abandoned extraction becomes reprocessable.
type Reaper struct {
	store      store.Store
	stuckAfter time.Duration
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
	cron       *cron.Cron
}

func NewReaper(s store.Store, stuckAfter time.Duration, metrics *Metrics, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Reaper{store: s, stuckAfter: stuckAfter, metrics: metrics, logger: logger, now: time.Now}
}

// Start runs Sweep on schedule, e.g. "@every 5m".
func (r *Reaper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reaper sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("reaper started", zap.String("schedule", schedule), zap.Duration("stuck_after", r.stuckAfter))
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep fails every stuck item and returns how many it moved.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	ids, err := r.store.ListStuckIntakeItems(ctx, models.StatusProcessing, r.now().Add(-r.stuckAfter))
	if err != nil {
		return 0, err
	}
	msg := timedOutMessage
	reaped := 0
	for _, id := range ids {
		_, err := r.store.TransitionIntakeItem(ctx, id, store.Transition{
			From:         []models.IntakeStatus{models.StatusProcessing},
			To:           models.StatusFailed,
			ErrorMessage: &msg,
		})
		if errors.Is(err, store.ErrStaleState) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("reap %s: %w", id, err)
		}
		reaped++
		r.metrics.ItemsReaped.Inc()
		r.logger.Warn("stuck item failed", zap.String("item_id", id.String()))
	}
	return reaped, nil
}
