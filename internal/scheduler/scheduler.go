// Package scheduler runs the background sweeps: gateway reconciliation of
// stale pending orders and expiry of lapsed tenants.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/clock"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	"github.com/smallbiznis/schoolhub/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReconcileOrders = "reconcile_orders"
	JobExpireTenants   = "expire_tenants"

	lockPrefix = "schoolhub:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Ledger  subscriptiondomain.Service
	Tenants tenantdomain.Service
	Locker  *ratelimit.Locker `optional:"true"`
	Config  Config            `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	ledger  subscriptiondomain.Service
	tenants tenantdomain.Service
	locker  *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Ledger == nil || p.Tenants == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		ledger:  p.Ledger,
		tenants: p.Tenants,
		locker:  p.Locker,
	}, nil
}

// runJob executes fn under a timeout and, when a locker is configured, under a
// cluster-wide lock so only one instance runs each job per tick.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := s.locker.WithLock(ctx, lockPrefix+name, timeout+5*time.Second, fn)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if errors.Is(err, ratelimit.ErrLockHeld) {
		schedMetrics.IncBatchDeferred(name, "lock_held")
		log.Debug("job skipped, another instance holds the lock")
		return nil
	}
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReconcileOrders, s.ReconcileOrdersJob},
		{JobExpireTenants, s.ExpireTenantsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileOrdersJob polls the gateway for pending orders older than
// ReconcileAfter. A failing order is logged and the batch continues.
func (s *Scheduler) ReconcileOrdersJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcileOrders, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	orders, err := s.ledger.ListPendingForReconcile(ctx, s.cfg.ReconcileAfter, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	applied := 0
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.ledger.SyncOrder(ctx, order, "", subscriptiondomain.SourceScheduler)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.order.reconcile_failed", JobReconcileOrders, order.TenantID, err,
				zap.String("order_id", order.OrderID),
				zap.String("tracking_id", order.Tracking()),
			)
			continue
		}
		if result.Applied {
			applied++
			s.logOrderSettled(ctx, result.Order)
		}
	}

	run.AddProcessed(len(orders))
	obsmetrics.Scheduler().AddBatchProcessed(JobReconcileOrders, "payment_orders", len(orders))
	if applied > 0 {
		s.logger(ctx).Info("scheduler.orders.reconciled",
			zap.Int("checked", len(orders)),
			zap.Int("settled", applied),
		)
	}
	return nil
}

// ExpireTenantsJob moves tenants whose trial or paid period has lapsed to
// expired, so the stored state matches what the guard would decide.
func (s *Scheduler) ExpireTenantsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireTenants, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	moved, err := s.tenants.ExpireLapsed(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	run.AddProcessed(moved)
	obsmetrics.Scheduler().AddBatchProcessed(JobExpireTenants, "tenants", moved)
	return nil
}
