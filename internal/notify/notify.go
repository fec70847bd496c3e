// Package notify alerts operators about high-value domains through push sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
)

// Sink delivers one alert. Implementations return nil only on confirmed delivery.
type Sink interface {
	Name() string
	Send(ctx context.Context, title, body, link string) error
}

// Alerter picks qualifying candidates from a ranked shortlist and pushes them to every sink.
type Alerter struct {
	cfg     config.NotifyConfig
	repo    storage.Repository
	sinks   []Sink
	metrics *metrics.Metrics
}

func NewAlerter(cfg config.NotifyConfig, repo storage.Repository, sinks ...Sink) *Alerter {
	return &Alerter{cfg: cfg, repo: repo, sinks: sinks}
}

// SetMetrics attaches notification counters.
func (a *Alerter) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Qualifies reports whether c passes the configured alert threshold. A zero
// DA that did not come from a real authority lookup never qualifies.
func (a *Alerter) Qualifies(c models.Candidate) bool {
	if c.SourceTier.Synthetic() && !a.cfg.IncludeSynthetic {
		return false
	}
	if !c.AuthorityKnown && !a.cfg.IncludeSynthetic {
		return false
	}
	return c.DAScore >= a.cfg.MinDA && c.SpamScore < a.cfg.MaxSpam
}

// Dispatch sends at most MaxPerScan alerts in ranked order and marks the
// delivered names as notified. A name counts as delivered when any sink
// accepted it. Records already notified in storage are skipped.
func (a *Alerter) Dispatch(ctx context.Context, ranked []models.Candidate) (int, error) {
	if len(a.sinks) == 0 || a.cfg.MaxPerScan == 0 {
		return 0, nil
	}

	var delivered []string
	var errs []error
	for _, c := range ranked {
		if len(delivered) >= a.cfg.MaxPerScan {
			break
		}
		if !a.Qualifies(c) {
			continue
		}
		if a.alreadyNotified(ctx, c.Name) {
			continue
		}

		title, body, link := a.Format(c)
		ok := false
		for _, s := range a.sinks {
			err := s.Send(ctx, title, body, link)
			a.metrics.NotificationSent(s.Name(), err == nil)
			if err != nil {
				logger.Warn("Failed to send %s alert for %s: %v", s.Name(), c.Name, err)
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				continue
			}
			ok = true
		}
		if ok {
			delivered = append(delivered, c.Name)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if len(delivered) > 0 && a.repo != nil {
		if err := a.repo.MarkNotified(ctx, delivered); err != nil {
			errs = append(errs, fmt.Errorf("mark notified: %w", err))
		}
	}
	if len(delivered) > 0 {
		logger.Info("Sent alerts for %d domains: %s", len(delivered), strings.Join(delivered, ", "))
	}
	return len(delivered), errors.Join(errs...)
}

func (a *Alerter) alreadyNotified(ctx context.Context, name string) bool {
	if a.repo == nil {
		return false
	}
	d, err := a.repo.GetDomain(ctx, name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Failed to check notification state for %s: %v", name, err)
		}
		return false
	}
	return d.Notified
}

// Format renders the alert title, body and registrar link for c.
func (a *Alerter) Format(c models.Candidate) (title, body, link string) {
	title = "High-value domain: " + c.Name
	body = fmt.Sprintf("DA %d, spam %d, backlinks %d, referring domains %d, score %.2f",
		c.DAScore, c.SpamScore, c.Backlinks, c.ReferringDomains, c.QualityScore)
	if c.DomainAgeYears > 0 {
		body += fmt.Sprintf(", age %dy", c.DomainAgeYears)
	}
	if strings.Contains(a.cfg.LinkTemplate, "%s") {
		link = fmt.Sprintf(a.cfg.LinkTemplate, c.Name)
	}
	return title, body, link
}
