// Package runner drives scan cycles: scan, persist, export, alert and record history.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keenturbo/dropradar/internal/export"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/reconcile"
	"github.com/keenturbo/dropradar/internal/scan"
)

// Scanner produces one ranked scan result.
type Scanner interface {
	Run(ctx context.Context) (*scan.Result, error)
}

// Persister writes a scan batch to storage.
type Persister interface {
	Reconcile(ctx context.Context, scanID string, cs []models.Candidate) (reconcile.Stats, error)
}

// Dispatcher sends alerts for qualifying candidates.
type Dispatcher interface {
	Dispatch(ctx context.Context, ranked []models.Candidate) (int, error)
}

// History records finished scans.
type History interface {
	SaveScanRun(ctx context.Context, run *models.ScanRun) error
}

// OpsNotifier tells the operator about failure streaks.
type OpsNotifier interface {
	SendError(ctx context.Context, err error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

// Options selects optional collaborators. Nil fields are skipped.
type Options struct {
	Dispatcher Dispatcher
	History    History
	Ops        OpsNotifier
	// PersistAll stores every ranked candidate instead of only the top N.
	PersistAll bool
	CSVPath    string
}

// Report summarises one cycle.
type Report struct {
	Result   *scan.Result
	Outcome  models.ScanOutcome
	Stats    reconcile.Stats
	Notified int
}

type Runner struct {
	scanner   Scanner
	persister Persister
	opts      Options

	consecutiveFailures int
}

func New(scanner Scanner, persister Persister, opts Options) *Runner {
	return &Runner{scanner: scanner, persister: persister, opts: opts}
}

// RunCycle performs one scan cycle. The returned error is non-nil for
// cancellation, rejected listing credentials and persistence failure; the
// report is still populated in the last two cases.
func (r *Runner) RunCycle(ctx context.Context) (*Report, error) {
	startTime := time.Now()
	logger.Info("Starting scan cycle")

	res, err := r.scanner.Run(ctx)
	if err != nil {
		if res != nil {
			r.saveRun(ctx, res, models.OutcomeCancelled, res.Reason, 0)
		}
		return nil, err
	}

	report := &Report{Result: res, Outcome: res.Outcome()}

	batch := res.Top
	if r.opts.PersistAll {
		batch = res.Ranked
	}

	reason := res.Reason
	stats, persistErr := r.persister.Reconcile(ctx, res.ScanID, batch)
	if persistErr != nil {
		report.Outcome = models.OutcomeDegraded
		reason = persistErr.Error()
		logger.Error("Failed to persist scan %s, results are still reported: %v", res.ScanID, persistErr)
	}
	report.Stats = stats

	if r.opts.CSVPath != "" && len(res.Top) > 0 {
		if err := export.WriteFile(r.opts.CSVPath, res.Top); err != nil {
			logger.Warn("Failed to export shortlist: %v", err)
		} else {
			logger.Info("Exported %d domains to %s", len(res.Top), r.opts.CSVPath)
		}
	}

	if r.opts.Dispatcher != nil && persistErr == nil {
		n, err := r.opts.Dispatcher.Dispatch(ctx, res.Top)
		if err != nil {
			logger.Warn("Some alerts failed: %v", err)
		}
		report.Notified = n
	}

	r.saveRun(ctx, res, report.Outcome, reason, stats.Total())
	logger.Info("Scan cycle completed in %v (outcome: %s, persisted: %d, notified: %d)",
		time.Since(startTime), report.Outcome, stats.Total(), report.Notified)

	switch {
	case persistErr != nil:
		return report, persistErr
	case res.CredentialErr != nil:
		return report, fmt.Errorf("listing credentials rejected: %w", res.CredentialErr)
	}
	return report, nil
}

func (r *Runner) saveRun(ctx context.Context, res *scan.Result, outcome models.ScanOutcome, reason string, persisted int) {
	if r.opts.History == nil {
		return
	}
	// a cancelled scan is still recorded
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	finished := res.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	run := &models.ScanRun{
		ID:         res.ScanID,
		StartedAt:  res.StartedAt,
		FinishedAt: finished,
		Outcome:    outcome,
		Reason:     reason,
		Candidates: len(res.Ranked),
		Persisted:  persisted,
	}
	if err := r.opts.History.SaveScanRun(saveCtx, run); err != nil {
		logger.Warn("Failed to record scan run %s: %v", res.ScanID, err)
	}
}

// HandleCycleResult tracks consecutive failures and notifies the operator
// on the first failure of a streak and on the first success after it.
// Cancellation through ctx is not a failure; a cycle timeout is.
func (r *Runner) HandleCycleResult(ctx context.Context, err error) {
	if errors.Is(err, scan.ErrCancelled) && ctx.Err() != nil {
		return
	}
	if err != nil {
		r.consecutiveFailures++
		logger.Error("Scan cycle failed: %v", err)
		if r.consecutiveFailures == 1 && r.opts.Ops != nil {
			if sendErr := r.opts.Ops.SendError(ctx, err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if r.consecutiveFailures > 0 && r.opts.Ops != nil {
		if sendErr := r.opts.Ops.SendRecovery(ctx, r.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	r.consecutiveFailures = 0
}

// ConsecutiveFailures returns the length of the current failure streak.
func (r *Runner) ConsecutiveFailures() int {
	return r.consecutiveFailures
}

// Loop runs a cycle immediately, then every interval until ctx ends.
// A zero interval runs exactly once. timeout bounds each cycle when positive.
func (r *Runner) Loop(ctx context.Context, interval, timeout time.Duration) {
	runOnce := func() {
		cycleCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			cycleCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		_, err := r.RunCycle(cycleCtx)
		r.HandleCycleResult(ctx, err)
	}

	logger.Debug("Running initial scan cycle")
	runOnce()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scanner stopped")
			return
		case <-ticker.C:
			logger.Debug("Starting scheduled scan cycle")
			runOnce()
		}
	}
}
