// Package export writes ranked shortlists as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"

	"github.com/keenturbo/dropradar/internal/models"
)

// Row is one CSV record. Header names follow the csv tags.
type Row struct {
	Rank              int     `csv:"rank"`
	Name              string  `csv:"name"`
	TLD               string  `csv:"tld"`
	QualityScore      float64 `csv:"quality_score"`
	DAScore           int     `csv:"da_score"`
	AuthorityKnown    bool    `csv:"authority_known"`
	Backlinks         int     `csv:"backlinks"`
	ReferringDomains  int     `csv:"referring_domains"`
	SpamScore         int     `csv:"spam_score"`
	DomainAgeYears    int     `csv:"domain_age_years"`
	AuctionPrice      int     `csv:"auction_price"`
	BidCount          int     `csv:"bid_count"`
	EncyclopediaLinks int     `csv:"encyclopedia_links"`
	DropDate          string  `csv:"drop_date,omitempty"`
	RealExpiry        string  `csv:"real_expiry,omitempty"`
	SourceTier        string  `csv:"source_tier"`
	Status            string  `csv:"status"`
}

// Rows converts ranked candidates, numbering them from 1.
func Rows(ranked []models.Candidate) []Row {
	rows := make([]Row, 0, len(ranked))
	for i, c := range ranked {
		r := Row{
			Rank:              i + 1,
			Name:              c.Name,
			TLD:               c.TLD,
			QualityScore:      c.QualityScore,
			DAScore:           c.DAScore,
			AuthorityKnown:    c.AuthorityKnown,
			Backlinks:         c.Backlinks,
			ReferringDomains:  c.ReferringDomains,
			SpamScore:         c.SpamScore,
			DomainAgeYears:    c.DomainAgeYears,
			AuctionPrice:      c.AuctionPrice,
			BidCount:          c.BidCount,
			EncyclopediaLinks: c.EncyclopediaLinks,
			SourceTier:        string(c.SourceTier),
			Status:            string(c.Status),
		}
		if !c.DropDate.IsZero() {
			r.DropDate = c.DropDate.Format("2006-01-02")
		}
		if c.RealExpiry != nil {
			r.RealExpiry = c.RealExpiry.Format("2006-01-02")
		}
		rows = append(rows, r)
	}
	return rows
}

// WriteCSV writes a header line and one record per candidate.
func WriteCSV(w io.Writer, ranked []models.Candidate) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(Row{}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range Rows(ranked) {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode %s: %w", r.Name, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFile writes the shortlist to path, creating parent directories.
func WriteFile(path string, ranked []models.Candidate) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := WriteCSV(f, ranked); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
