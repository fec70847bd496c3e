package listing

import (
	"strings"
	"time"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/numparse"
)

// earliestBirthYear rejects birth-year cells that are clearly not years.
const earliestBirthYear = 1985

// ColumnLayout maps table cell positions to candidate fields. It is the only
// place that knows the upstream column order; an index of -1 disables a field.
type ColumnLayout struct {
	MinColumns        int
	Domain            int
	Backlinks         int
	ReferringDomains  int
	BirthYear         int
	EncyclopediaLinks int
	AuctionPrice      int
	BidCount          int
	SpamScore         int
	DropDate          int
	DropDateLayout    string
}

// LayoutFromConfig builds a layout from the columns section of the config.
func LayoutFromConfig(c config.ColumnsConfig) ColumnLayout {
	return ColumnLayout{
		MinColumns:        c.MinColumns,
		Domain:            c.Domain,
		Backlinks:         c.Backlinks,
		ReferringDomains:  c.ReferringDomains,
		BirthYear:         c.BirthYear,
		EncyclopediaLinks: c.EncyclopediaLinks,
		AuctionPrice:      c.AuctionPrice,
		BidCount:          c.BidCount,
		SpamScore:         c.SpamScore,
		DropDate:          c.DropDate,
		DropDateLayout:    c.DropDateLayout,
	}
}

// Map converts a raw row into a scraped candidate. It returns false for rows
// that are too short or whose domain cell does not look like a domain.
func (l ColumnLayout) Map(row RawRow, now time.Time) (models.Candidate, bool) {
	if len(row.Cells) < l.MinColumns {
		return models.Candidate{}, false
	}
	name := models.NormalizeName(row.cell(l.Domain))
	if name == "" || !strings.Contains(name, ".") {
		return models.Candidate{}, false
	}

	c := models.NewCandidate(name, models.TierScraped)
	c.Backlinks = numparse.Parse(row.cell(l.Backlinks))
	c.ReferringDomains = numparse.Parse(row.cell(l.ReferringDomains))
	c.EncyclopediaLinks = numparse.Parse(row.cell(l.EncyclopediaLinks))
	c.AuctionPrice = numparse.Parse(row.cell(l.AuctionPrice))
	c.BidCount = numparse.Parse(row.cell(l.BidCount))

	if spam := numparse.Parse(row.cell(l.SpamScore)); spam <= 100 {
		c.SpamScore = spam
	} else {
		c.SpamScore = 100
	}

	if year := numparse.Parse(row.cell(l.BirthYear)); year >= earliestBirthYear && year <= now.Year() {
		c.DomainAgeYears = now.Year() - year
	}

	if raw := row.cell(l.DropDate); raw != "" && l.DropDateLayout != "" {
		if d, err := time.Parse(l.DropDateLayout, raw); err == nil {
			c.DropDate = d
		}
	}

	return c, true
}

// cell returns the trimmed text at index i, or "" when the index is disabled
// or out of range.
func (r RawRow) cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[i])
}
