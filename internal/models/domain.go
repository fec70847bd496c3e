// Package models defines the core domain entities: scan candidates, persisted domains, and scan runs.
package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"
)

// SourceTier identifies the pipeline tier that produced a candidate.
type SourceTier string

const (
	TierScraped  SourceTier = "scraped"
	TierFallback SourceTier = "fallback_generated"
	TierAI       SourceTier = "ai_generated"
)

// Synthetic reports whether the tier invents metrics rather than observing them.
func (t SourceTier) Synthetic() bool {
	return t == TierFallback || t == TierAI
}

// Status is the availability state of a domain.
type Status string

const (
	StatusAvailable        Status = "available"
	StatusAuction          Status = "auction"
	StatusRegistered       Status = "registered"
	StatusPending          Status = "pending"
	StatusExpiredConfirmed Status = "expired_confirmed"
)

// Candidate is a domain produced by one scan step. Name is the natural key.
//
// DAScore 0 means "unknown", not "no authority"; AuthorityKnown tells the two apart.
// QualityScore is only meaningful once Scored is set and only relative to the
// other candidates of the same scan.
type Candidate struct {
	Name              string     `json:"name"`
	TLD               string     `json:"tld"`
	NameLength        int        `json:"name_length"`
	DAScore           int        `json:"da_score"`
	AuthorityKnown    bool       `json:"authority_known"`
	Backlinks         int        `json:"backlinks"`
	ReferringDomains  int        `json:"referring_domains"`
	SpamScore         int        `json:"spam_score"`
	DomainAgeYears    int        `json:"domain_age_years"`
	AuctionPrice      int        `json:"auction_price"`
	BidCount          int        `json:"bid_count"`
	EncyclopediaLinks int        `json:"encyclopedia_link_count"`
	DropDate          time.Time  `json:"drop_date,omitempty"`
	RealExpiry        *time.Time `json:"real_expiry,omitempty"`
	QualityScore      float64    `json:"quality_score"`
	Scored            bool       `json:"-"`
	SourceTier        SourceTier `json:"source_tier"`
	Status            Status     `json:"status"`
}

// NormalizeName lowercases a domain and strips surrounding whitespace, a scheme,
// a leading "www." and any trailing dot.
func NormalizeName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "https://")
	if i := strings.IndexAny(name, "/?# "); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "www.")
	return strings.TrimSuffix(name, ".")
}

// NewCandidate builds a candidate for name with TLD and label length derived
// from the public suffix list.
func NewCandidate(name string, tier SourceTier) Candidate {
	name = NormalizeName(name)
	tld, _ := publicsuffix.PublicSuffix(name)
	label := strings.TrimSuffix(name, "."+tld)
	return Candidate{
		Name:       name,
		TLD:        tld,
		NameLength: utf8.RuneCountInString(label),
		SourceTier: tier,
		Status:     StatusPending,
	}
}

// Validate checks candidate field constraints.
func (c *Candidate) Validate() error {
	if c.Name == "" {
		return errors.New("domain name must not be empty")
	}
	if !strings.Contains(c.Name, ".") {
		return errors.New("domain name must contain a dot")
	}
	if c.DAScore < 0 || c.DAScore > 100 {
		return errors.New("da score must be between 0 and 100")
	}
	if c.SpamScore < 0 || c.SpamScore > 100 {
		return errors.New("spam score must be between 0 and 100")
	}
	if c.Backlinks < 0 || c.ReferringDomains < 0 {
		return errors.New("link counts must not be negative")
	}
	if c.DomainAgeYears < 0 {
		return errors.New("domain age must not be negative")
	}
	if c.AuctionPrice < 0 || c.BidCount < 0 || c.EncyclopediaLinks < 0 {
		return errors.New("auction and encyclopedia counts must not be negative")
	}
	if c.SourceTier == "" {
		return errors.New("source tier must not be empty")
	}
	return nil
}

// Domain is the durable record of a candidate.
//
// IsNew is true only for records touched by the most recent completed scan.
// QualityScore holds the score from the scan identified by ScanID and is not
// comparable across scans.
type Domain struct {
	Candidate
	ID        int64     `json:"id"`
	ScanID    string    `json:"scan_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsNew     bool      `json:"is_new"`
	Notified  bool      `json:"notified"`
}

// Validate checks persisted record constraints.
func (d *Domain) Validate() error {
	if err := d.Candidate.Validate(); err != nil {
		return err
	}
	if d.FirstSeen.IsZero() || d.CreatedAt.IsZero() {
		return errors.New("first seen and created at must be set")
	}
	if d.LastSeen.Before(d.FirstSeen) {
		return errors.New("last seen must be >= first seen")
	}
	if d.UpdatedAt.Before(d.CreatedAt) {
		return errors.New("updated at must be >= created at")
	}
	return nil
}

// Refresh overwrites the mutable metric fields from c, leaving identity and
// first-seen timestamps untouched.
func (d *Domain) Refresh(c Candidate, scanID string, now time.Time) {
	d.Candidate = c
	d.ScanID = scanID
	d.LastSeen = now
	d.UpdatedAt = now
	d.IsNew = true
}
