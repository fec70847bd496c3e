// Package scan runs the tiered discovery chain and ranks what it finds.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keenturbo/dropradar/internal/listing"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/scoring"
)

// ErrCancelled is returned when the scan context ends before ranking starts.
// No partial result is scored or persisted.
var ErrCancelled = errors.New("scan cancelled")

// State is a step of the scan state machine.
type State string

const (
	StatePrimary               State = "TIER_PRIMARY"
	StateFallbackCombinatorial State = "TIER_FALLBACK_COMBINATORIAL"
	StateFallbackGenerative    State = "TIER_FALLBACK_GENERATIVE"
	StateScoreAndRank          State = "SCORE_AND_RANK"
	StateDone                  State = "DONE"
)

func stateFor(tier models.SourceTier) State {
	switch tier {
	case models.TierFallback:
		return StateFallbackCombinatorial
	case models.TierAI:
		return StateFallbackGenerative
	default:
		return StatePrimary
	}
}

// Config holds orchestrator thresholds.
type Config struct {
	MinCandidates int
	TopN          int
}

// Result is the output of one scan. An empty Ranked slice is a valid result;
// Reason then explains why nothing was found.
type Result struct {
	ScanID        string
	Ranked        []models.Candidate
	Top           []models.Candidate
	Tiers         []models.TierReport
	Trace         []State
	CredentialErr error
	Reason        string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Outcome classifies a completed (non-cancelled) scan.
func (r *Result) Outcome() models.ScanOutcome {
	if len(r.Ranked) == 0 {
		return models.OutcomeEmpty
	}
	return models.OutcomeSuccess
}

// Orchestrator walks the tiers in order until enough candidates accumulate.
type Orchestrator struct {
	cfg     Config
	tiers   []Tier
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

func New(cfg Config, tiers []Tier, opts ...Option) *Orchestrator {
	if cfg.MinCandidates < 1 {
		cfg.MinCandidates = 1
	}
	if cfg.TopN < 1 {
		cfg.TopN = 5
	}
	o := &Orchestrator{
		cfg:   cfg,
		tiers: tiers,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one scan. It returns ErrCancelled if ctx ends before
// SCORE_AND_RANK; every other failure is folded into the Result.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	res := &Result{ScanID: o.newID(), StartedAt: o.now()}
	logger.Info("Scan %s started", res.ScanID)

	var acc []models.Candidate
	seen := make(map[string]bool)

	for _, tier := range o.tiers {
		if len(acc) >= o.cfg.MinCandidates {
			break
		}
		if err := ctx.Err(); err != nil {
			return o.cancelled(res, err)
		}
		res.Trace = append(res.Trace, stateFor(tier.Name()))

		start := o.now()
		out, err := tier.Run(ctx, o.cfg.MinCandidates-len(acc))
		if err != nil {
			return o.cancelled(res, err)
		}

		added := 0
		for _, c := range out.Candidates {
			if c.Name == "" || seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			acc = append(acc, c)
			added++
		}
		res.Tiers = append(res.Tiers, models.TierReport{
			Tier:     tier.Name(),
			Produced: added,
			Err:      out.Err,
			Duration: o.now().Sub(start),
		})
		o.metrics.TierProduced(string(tier.Name()), added)

		switch {
		case errors.Is(out.Err, listing.ErrCredentialInvalid):
			res.CredentialErr = out.Err
			logger.Error("Listing credentials rejected, rotate the session cookie: %v", out.Err)
		case out.Err != nil:
			logger.Warn("Tier %s degraded: %v", tier.Name(), out.Err)
		}
		logger.Info("Tier %s produced %d candidates (%d accumulated)", tier.Name(), added, len(acc))
	}

	if err := ctx.Err(); err != nil {
		return o.cancelled(res, err)
	}

	res.Trace = append(res.Trace, StateScoreAndRank)
	res.Ranked = scoring.Rank(acc)
	res.Top = scoring.Top(res.Ranked, o.cfg.TopN)

	res.Trace = append(res.Trace, StateDone)
	res.FinishedAt = o.now()
	if len(res.Ranked) == 0 {
		res.Reason = o.emptyReason(res.Tiers)
		logger.Warn("Scan %s found no candidates: %s", res.ScanID, res.Reason)
	} else {
		logger.Info("Scan %s ranked %d candidates, top score %.2f", res.ScanID, len(res.Ranked), res.Ranked[0].QualityScore)
	}
	o.metrics.ScanFinished(string(res.Outcome()), res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

func (o *Orchestrator) cancelled(res *Result, cause error) (*Result, error) {
	res.FinishedAt = o.now()
	res.Reason = cause.Error()
	o.metrics.ScanFinished(string(models.OutcomeCancelled), res.FinishedAt.Sub(res.StartedAt))
	logger.Warn("Scan %s cancelled: %v", res.ScanID, cause)
	return res, fmt.Errorf("%w: %v", ErrCancelled, cause)
}

func (o *Orchestrator) emptyReason(reports []models.TierReport) string {
	if len(reports) == 0 {
		return "no tiers configured"
	}
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		if r.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", r.Tier, r.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: no candidates", r.Tier))
		}
	}
	return strings.Join(parts, "; ")
}
