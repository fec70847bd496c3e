package expiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
)

// expiryLayouts is tried only when the parser could not convert the date itself.
var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.0Z",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"2006/01/02",
	"January 2 2006",
}

// WhoisLookup queries WHOIS servers and parses the expiration date.
type WhoisLookup struct {
	client *whois.Client
}

func NewWhoisLookup(timeout time.Duration) *WhoisLookup {
	c := whois.NewClient()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &WhoisLookup{client: c}
}

// Expiry runs the blocking WHOIS query in a goroutine so cancellation of ctx
// returns immediately; the query itself is bounded by the client timeout.
func (w *WhoisLookup) Expiry(ctx context.Context, name string) (time.Time, error) {
	type answer struct {
		raw string
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		raw, err := w.client.Whois(name)
		ch <- answer{raw, err}
	}()

	var a answer
	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case a = <-ch:
	}
	if a.err != nil {
		return time.Time{}, fmt.Errorf("whois query failed: %w", a.err)
	}
	return parseExpiry(a.raw)
}

func parseExpiry(raw string) (time.Time, error) {
	info, err := whoisparser.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("whois parse failed: %w", err)
	}
	if info.Domain == nil {
		return time.Time{}, ErrNoExpiry
	}
	if t := info.Domain.ExpirationDateInTime; t != nil && !t.IsZero() {
		return t.UTC(), nil
	}
	if info.Domain.ExpirationDate == "" {
		return time.Time{}, ErrNoExpiry
	}
	return parseDate(info.Domain.ExpirationDate)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrNoExpiry, s)
}
