// Package scoring computes the composite quality score used to rank candidates.
package scoring

import (
	"math"
	"sort"

	"github.com/keenturbo/dropradar/internal/models"
)

// Per-term caps. Each term is clamped independently so overflow in one signal
// never compensates for another.
const (
	MaxDA           = 30.0
	MaxBacklinks    = 20.0
	MaxReferring    = 20.0
	MaxAge          = 10.0
	MaxAuction      = 10.0
	MaxBids         = 5.0
	MaxEncyclopedia = 5.0
)

// Terms holds the individual contributions of a score.
type Terms struct {
	DA           float64 `json:"da"`
	Backlinks    float64 `json:"backlinks"`
	Referring    float64 `json:"referring_domains"`
	Age          float64 `json:"age"`
	Auction      float64 `json:"auction"`
	Bids         float64 `json:"bids"`
	Encyclopedia float64 `json:"encyclopedia"`
}

// Total sums the terms and rounds to two decimals.
func (t Terms) Total() float64 {
	sum := t.DA + t.Backlinks + t.Referring + t.Age + t.Auction + t.Bids + t.Encyclopedia
	return math.Round(sum*100) / 100
}

// Breakdown returns each clamped contribution for c.
func Breakdown(c models.Candidate) Terms {
	return Terms{
		DA:           clamp(float64(c.DAScore)*0.3, MaxDA),
		Backlinks:    clamp(float64(c.Backlinks)/50, MaxBacklinks),
		Referring:    clamp(float64(c.ReferringDomains)/5, MaxReferring),
		Age:          clamp(float64(c.DomainAgeYears)/2, MaxAge),
		Auction:      clamp(float64(c.AuctionPrice)/200, MaxAuction),
		Bids:         clamp(float64(c.BidCount)/10, MaxBids),
		Encyclopedia: clamp(float64(c.EncyclopediaLinks)*0.5, MaxEncyclopedia),
	}
}

// Score is a pure function of the candidate's metric fields.
func Score(c models.Candidate) float64 {
	return Breakdown(c).Total()
}

// Rank scores every candidate and returns a new slice ordered by score
// descending. Equal scores keep their input order.
func Rank(cs []models.Candidate) []models.Candidate {
	ranked := make([]models.Candidate, len(cs))
	copy(ranked, cs)
	for i := range ranked {
		ranked[i].QualityScore = Score(ranked[i])
		ranked[i].Scored = true
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QualityScore > ranked[j].QualityScore
	})
	return ranked
}

// Top returns at most n leading candidates of a ranked slice.
func Top(ranked []models.Candidate, n int) []models.Candidate {
	if n < 0 || len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Min(v, max)
}
