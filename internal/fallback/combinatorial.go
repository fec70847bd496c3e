// Package fallback generates candidates when the scraped listing under-delivers.
package fallback

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/models"
)

// Combinatorial joins 2-3 distinct keywords with a TLD and assigns synthetic
// metrics drawn from configured ranges.
type Combinatorial struct {
	keywords []string
	tlds     []string
	ranges   config.RangeConfig
	rng      *rand.Rand
}

// NewCombinatorial creates a generator. A nil rng is seeded from the clock.
func NewCombinatorial(cfg config.FallbackConfig, rng *rand.Rand) *Combinatorial {
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>17))
	}
	return &Combinatorial{
		keywords: cfg.Keywords,
		tlds:     cfg.TLDs,
		ranges:   cfg.Ranges,
		rng:      rng,
	}
}

// Generate returns up to n candidates with distinct names. It returns fewer
// only if the keyword pool cannot produce n distinct combinations.
func (g *Combinatorial) Generate(n int) []models.Candidate {
	if n <= 0 || len(g.keywords) < 2 || len(g.tlds) == 0 {
		return nil
	}

	seen := make(map[string]bool, n)
	out := make([]models.Candidate, 0, n)
	for attempts := 0; len(out) < n && attempts < n*50; attempts++ {
		name := g.name()
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, g.candidate(name))
	}
	return out
}

func (g *Combinatorial) name() string {
	k := 2
	if len(g.keywords) >= 3 && g.rng.IntN(2) == 1 {
		k = 3
	}
	var b strings.Builder
	for _, i := range g.rng.Perm(len(g.keywords))[:k] {
		b.WriteString(strings.ToLower(g.keywords[i]))
	}
	b.WriteByte('.')
	b.WriteString(strings.TrimPrefix(strings.ToLower(g.tlds[g.rng.IntN(len(g.tlds))]), "."))
	return b.String()
}

func (g *Combinatorial) candidate(name string) models.Candidate {
	c := models.NewCandidate(name, models.TierFallback)
	c.Status = models.StatusAvailable
	c.DAScore = g.between(g.ranges.DAMin, g.ranges.DAMax)
	c.Backlinks = g.between(g.ranges.BacklinksMin, g.ranges.BacklinksMax)
	c.ReferringDomains = g.between(g.ranges.ReferringDomainsMin, g.ranges.ReferringDomainsMax)
	c.SpamScore = g.between(g.ranges.SpamMin, g.ranges.SpamMax)
	c.DomainAgeYears = g.between(g.ranges.AgeMin, g.ranges.AgeMax)
	return c
}

// between draws uniformly from [lo, hi].
func (g *Combinatorial) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.IntN(hi-lo+1)
}
