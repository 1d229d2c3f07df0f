// Package image picks the one image shown with every variant of a request.
package image

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/ubuygold/gosparklio/internal/metrics"
	"github.com/ubuygold/gosparklio/internal/model"
)

const (
	DefaultProbeTimeout = 8 * time.Second
	maxPromptRunes      = 200
	placeholderName     = "placeholder"
	maxPlaceholderRunes = 30
)

var promptTerms = []string{"high quality", "professional", "social media optimized"}

type swatch struct {
	bg, fg string
}

var palette = []swatch{
	{"FF6B35", "FFFFFF"},
	{"FF006E", "FFFFFF"},
	{"8338EC", "FFFFFF"},
	{"FFB6C1", "333333"},
	{"B19CD9", "FFFFFF"},
	{"77DD77", "333333"},
	{"AEC6CF", "333333"},
	{"FFD700", "333333"},
}

// HTTPClient defines the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewSafeClient returns an HTTP client that refuses private, loopback and metadata addresses.
func NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

// Acquirer tries providers in order and falls back to a placeholder.
type Acquirer struct {
	providers []Provider
	client    HTTPClient
	timeout   time.Duration
	metrics   metrics.Recorder
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAcquirer creates an Acquirer. A zero seed seeds from the clock; a zero timeout uses DefaultProbeTimeout.
func NewAcquirer(providers []Provider, client HTTPClient, timeout time.Duration, seed int64, rec metrics.Recorder, log *slog.Logger) *Acquirer {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if client == nil {
		client = NewSafeClient(timeout)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Acquirer{
		providers: providers,
		client:    client,
		timeout:   timeout,
		metrics:   metrics.OrNop(rec),
		logger:    log.With("component", "image"),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Acquire always returns an asset sized for channel. Providers are probed one
// at a time; the first that serves an image wins, otherwise a placeholder is
// built from topic.
func (a *Acquirer) Acquire(ctx context.Context, stylePrompt, topic string, channel model.Channel) model.ImageAsset {
	prompt := EnhancePrompt(stylePrompt, topic)
	size := DimensionsFor(channel)
	for _, p := range a.providers {
		if ctx.Err() != nil {
			break
		}
		u := p.URL(prompt, size, a.nextSeed())
		if err := a.probe(ctx, u); err != nil {
			a.logger.Warn("Image provider failed", "provider", p.Name(), "error", err)
			continue
		}
		a.logger.Debug("Image provider succeeded", "provider", p.Name())
		a.metrics.RecordImage(p.Name(), true)
		return model.ImageAsset{URL: u, Provider: p.Name(), Verified: true, Prompt: prompt}
	}

	a.logger.Info("All image providers failed, using placeholder")
	a.metrics.RecordImage(placeholderName, false)
	return model.ImageAsset{URL: a.placeholder(topic), Provider: placeholderName, Verified: false, Prompt: prompt}
}

// probe succeeds when u answers 2xx with an image content type within the timeout.
func (a *Acquirer) probe(ctx context.Context, u string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 512)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return fmt.Errorf("probe returned content type %q", ct)
	}
	return nil
}

func (a *Acquirer) nextSeed() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Int63n(1_000_000_000)
}

func (a *Acquirer) placeholder(topic string) string {
	a.mu.Lock()
	s := palette[a.rng.Intn(len(palette))]
	a.mu.Unlock()
	return PlaceholderURL(topic, s.bg, s.fg)
}

// PlaceholderURL renders topic as text on a solid background.
func PlaceholderURL(topic, bg, fg string) string {
	text := strings.TrimSpace(topic)
	if r := []rune(text); len(r) > maxPlaceholderRunes {
		text = string(r[:maxPlaceholderRunes-3]) + "..."
	}
	return fmt.Sprintf("%s/%dx%d/%s/%s?text=%s&font=montserrat", placeholderBase, DefaultSize, DefaultSize, bg, fg, strings.ReplaceAll(url.QueryEscape(text), "+", "%20"))
}

// EnhancePrompt combines the style prompt and topic with quality terms, capped at 200 runes.
func EnhancePrompt(stylePrompt, topic string) string {
	parts := make([]string, 0, 2+len(promptTerms))
	for _, s := range []string{stylePrompt, topic} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, promptTerms...)
	combined := []rune(strings.Join(parts, ", "))
	if len(combined) > maxPromptRunes {
		combined = combined[:maxPromptRunes]
	}
	return string(combined)
}
