// Package authority estimates domain authority (DA, 0-100) for batches of names.
package authority

import (
	"context"
	"hash/fnv"
	"math/rand/v2"

	"github.com/keenturbo/dropradar/internal/models"
)

// Estimator maps every requested name to a DA value.
type Estimator interface {
	BatchEstimate(ctx context.Context, names []string) Result
}

// Result holds one score per requested name. Names listed in Failed were
// defaulted to 0 because their lookup failed; a 0 for those names means
// "unknown", not "no authority".
type Result struct {
	Scores   map[string]int
	Failed   map[string]bool
	Measured bool // false when scores are heuristic rather than observed
}

func newResult(measured bool, size int) Result {
	return Result{
		Scores:   make(map[string]int, size),
		Failed:   make(map[string]bool),
		Measured: measured,
	}
}

// Known reports whether the score for name came from a successful measurement.
func (r Result) Known(name string) bool {
	_, ok := r.Scores[name]
	return ok && r.Measured && !r.Failed[name]
}

// Apply copies scores onto the candidates in place.
func (r Result) Apply(cs []models.Candidate) {
	for i := range cs {
		cs[i].DAScore = r.Scores[cs[i].Name]
		cs[i].AuthorityKnown = r.Known(cs[i].Name)
	}
}

// Heuristic produces deterministic pseudo-random scores when no authority API
// is configured. Its results are never marked as measured.
type Heuristic struct{}

func (Heuristic) BatchEstimate(_ context.Context, names []string) Result {
	res := newResult(false, len(names))
	for _, name := range names {
		res.Scores[name] = StableEstimate(name)
	}
	return res
}

// StableEstimate returns a DA derived only from name: about 80% of names land
// in 0-15 and the rest in 20-50.
func StableEstimate(name string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	seed := h.Sum64()

	r := rand.New(rand.NewPCG(seed, seed>>32))
	if r.Float64() < 0.8 {
		return r.IntN(16)
	}
	return 20 + r.IntN(31)
}
