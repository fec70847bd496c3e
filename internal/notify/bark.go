package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keenturbo/dropradar/internal/config"
)

// Bark pushes alerts to an iOS device through a Bark server.
type Bark struct {
	baseURL string
	key     string
	sound   string
	client  *http.Client
}

func NewBark(cfg config.BarkConfig) *Bark {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.day.app"
	}
	return &Bark{
		baseURL: strings.TrimRight(base, "/"),
		key:     cfg.Key,
		sound:   cfg.Sound,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *Bark) Name() string { return "bark" }

// Send issues GET {base}/{key}/{title}/{body}?url=link&sound=...
func (b *Bark) Send(ctx context.Context, title, body, link string) error {
	endpoint := fmt.Sprintf("%s/%s/%s/%s", b.baseURL,
		url.PathEscape(b.key), url.PathEscape(title), url.PathEscape(body))

	q := url.Values{}
	if link != "" {
		q.Set("url", link)
	}
	if b.sound != "" {
		q.Set("sound", b.sound)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		// the device key is part of the path
		if uerr, ok := err.(*url.Error); ok {
			return fmt.Errorf("bark request failed: %w", uerr.Err)
		}
		return fmt.Errorf("bark request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bark returned status %d", resp.StatusCode)
	}
	return nil
}
