package image

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultSize = 1080

	pollinationsBase = "https://image.pollinations.ai"
	picsumBase       = "https://picsum.photos"
	placeholderBase  = "https://placehold.co"
)

// Provider builds the URL of a candidate image. Providers never fetch anything themselves.
type Provider interface {
	Name() string
	URL(prompt string, size Dimensions, seed int64) string
}

// Pollinations renders the prompt with the Pollinations text-to-image endpoint.
type Pollinations struct {
	BaseURL string
}

func (Pollinations) Name() string { return "pollinations" }

func (p Pollinations) URL(prompt string, size Dimensions, seed int64) string {
	base := p.BaseURL
	if base == "" {
		base = pollinationsBase
	}
	return fmt.Sprintf("%s/prompt/%s?width=%d&height=%d&nologo=true&enhance=true&model=turbo&seed=%d",
		strings.TrimRight(base, "/"), url.PathEscape(prompt), size.Width, size.Height, seed)
}

// Picsum returns a random stock photo. It ignores the prompt.
type Picsum struct {
	BaseURL string
}

func (Picsum) Name() string { return "picsum" }

func (p Picsum) URL(_ string, size Dimensions, seed int64) string {
	base := p.BaseURL
	if base == "" {
		base = picsumBase
	}
	return fmt.Sprintf("%s/%d/%d?random=%d", strings.TrimRight(base, "/"), size.Width, size.Height, seed)
}

// ProvidersByName maps configured provider names to providers, keeping their order.
func ProvidersByName(names []string) ([]Provider, error) {
	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "pollinations":
			providers = append(providers, Pollinations{})
		case "picsum":
			providers = append(providers, Picsum{})
		default:
			return nil, fmt.Errorf("unknown image provider: %s", name)
		}
	}
	return providers, nil
}
