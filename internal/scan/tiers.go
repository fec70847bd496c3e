package scan

import (
	"context"
	"sort"

	"github.com/keenturbo/dropradar/internal/authority"
	"github.com/keenturbo/dropradar/internal/expiry"
	"github.com/keenturbo/dropradar/internal/fallback"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/models"
)

// Outcome is what one tier produced. Err describes a degraded but non-fatal
// run (source down, bad credentials, backend failure).
type Outcome struct {
	Candidates []models.Candidate
	Err        error
}

// Tier is one strategy in the fallback chain. Run returns a non-nil error
// only when ctx is done; everything else is reported through Outcome.Err.
type Tier interface {
	Name() models.SourceTier
	Run(ctx context.Context, need int) (Outcome, error)
}

// Lister yields scraped candidates from n listing pages.
type Lister interface {
	Candidates(ctx context.Context, n int) ([]models.Candidate, error)
}

// Verifier confirms registry expiry for one name.
type Verifier interface {
	Verify(ctx context.Context, name string) expiry.Result
}

// PrimaryTier scrapes the listing, enriches authority, and keeps the names
// whose expiry and grace period are confirmed.
type PrimaryTier struct {
	Lister    Lister
	Pages     int
	Authority authority.Estimator
	// Verifier may be nil, in which case every scraped candidate is kept
	// unverified.
	Verifier Verifier
	// VerifyLimit caps registry lookups to the highest-DA names; 0 checks all.
	VerifyLimit int
}

func (p *PrimaryTier) Name() models.SourceTier { return models.TierScraped }

func (p *PrimaryTier) Run(ctx context.Context, _ int) (Outcome, error) {
	cs, err := p.Lister.Candidates(ctx, p.Pages)
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	if err != nil {
		return Outcome{Err: err}, nil
	}

	if p.Authority != nil {
		names := make([]string, len(cs))
		for i, c := range cs {
			names[i] = c.Name
		}
		res := p.Authority.BatchEstimate(ctx, names)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		res.Apply(cs)
		if len(res.Failed) > 0 {
			logger.Warn("Authority unknown for %d of %d scraped names", len(res.Failed), len(names))
		}
	}

	if p.Verifier == nil {
		return Outcome{Candidates: cs}, nil
	}
	return p.verify(ctx, cs)
}

// verify checks the strongest candidates first and returns the confirmed ones
// in their original discovery order.
func (p *PrimaryTier) verify(ctx context.Context, cs []models.Candidate) (Outcome, error) {
	order := make([]int, len(cs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cs[order[a]].DAScore > cs[order[b]].DAScore
	})
	if p.VerifyLimit > 0 && len(order) > p.VerifyLimit {
		order = order[:p.VerifyLimit]
	}

	confirmed := make(map[int]expiry.Result, len(order))
	unverified := 0
	for _, i := range order {
		r := p.Verifier.Verify(ctx, cs[i].Name)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		switch {
		case r.Error != "":
			unverified++
		case r.IsAvailable:
			confirmed[i] = r
		}
	}
	if unverified > 0 {
		logger.Warn("Could not verify expiry for %d of %d names", unverified, len(order))
	}

	out := make([]models.Candidate, 0, len(confirmed))
	for i, c := range cs {
		r, ok := confirmed[i]
		if !ok {
			continue
		}
		c.RealExpiry = r.RealExpiry
		c.Status = models.StatusExpiredConfirmed
		out = append(out, c)
	}
	return Outcome{Candidates: out}, nil
}

// CombinatorialTier produces max(Count, need) synthetic candidates.
type CombinatorialTier struct {
	Generator *fallback.Combinatorial
	Count     int
}

func (t *CombinatorialTier) Name() models.SourceTier { return models.TierFallback }

func (t *CombinatorialTier) Run(ctx context.Context, need int) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return Outcome{Candidates: t.Generator.Generate(max(t.Count, need))}, nil
}

// GenerativeTier asks a text backend for Count names.
type GenerativeTier struct {
	Generator *fallback.Generative
	Count     int
}

func (t *GenerativeTier) Name() models.SourceTier { return models.TierAI }

func (t *GenerativeTier) Run(ctx context.Context, _ int) (Outcome, error) {
	cs, err := t.Generator.Generate(ctx, t.Count)
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	return Outcome{Candidates: cs, Err: err}, nil
}
