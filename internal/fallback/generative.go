package fallback

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/keenturbo/dropradar/internal/ai"
	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/models"
)

var (
	listMarker  = regexp.MustCompile(`^(?:[-*•+>#]+\s*|\(?\d+[.):\]]\s+|[a-zA-Z][.)]\s+)`)
	domainShape = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9-]+)+$`)
)

// Generative asks a text backend for brandable names.
type Generative struct {
	backend   ai.Backend
	topic     string
	maxLength int
	tlds      []string
}

func NewGenerative(backend ai.Backend, cfg config.AIConfig) *Generative {
	return &Generative{
		backend:   backend,
		topic:     cfg.Topic,
		maxLength: cfg.MaxLength,
		tlds:      cfg.TLDs,
	}
}

// Prompt renders the request sent to the backend.
func (g *Generative) Prompt(count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d short, memorable, brandable domain names for a %s business.\n", count, g.topic)
	if g.maxLength > 0 {
		fmt.Fprintf(&b, "Each name before the TLD must be at most %d characters.\n", g.maxLength)
	}
	if len(g.tlds) > 0 {
		fmt.Fprintf(&b, "Use only these TLDs: %s.\n", "."+strings.Join(g.tlds, ", ."))
	}
	b.WriteString("Reply with one domain per line and nothing else.")
	return b.String()
}

// Generate returns at most count candidates tagged with the AI tier. Any
// backend failure is returned; callers treat it as zero candidates.
func (g *Generative) Generate(ctx context.Context, count int) ([]models.Candidate, error) {
	if count <= 0 {
		return nil, nil
	}
	text, err := g.backend.Complete(ctx, g.Prompt(count))
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", g.backend.Name(), err)
	}

	names := ParseSuggestions(text)
	if len(names) > count {
		names = names[:count]
	}
	out := make([]models.Candidate, 0, len(names))
	for _, name := range names {
		out = append(out, models.NewCandidate(name, models.TierAI))
	}
	return out, nil
}

// ParseSuggestions extracts one domain per line, stripping list markers,
// numbering and markdown emphasis. Lines without a "." are dropped, as are
// duplicates.
func ParseSuggestions(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		line = listMarker.ReplaceAllString(strings.TrimSpace(line), "")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		token := strings.Trim(fields[0], "*`_\"'()[],;:!")
		token = strings.TrimRight(token, ".")

		name := models.NormalizeName(token)
		if !strings.Contains(name, ".") || !domainShape.MatchString(name) || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
