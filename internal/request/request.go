// Package request normalises and validates generation requests before any provider work.
package request

import (
	"html"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/model"
)

const (
	MinTopicLength      = 5
	MaxTopicLength      = 100
	DefaultVariantCount = 3
	MaxVariantCount     = 10
)

// DefaultBlockedTerms are rejected wherever they appear as a whole word in a topic.
var DefaultBlockedTerms = []string{"porn", "nsfw", "xxx", "nude", "nudes", "gore"}

// Validator turns raw user input into an immutable, validated GenerationRequest.
type Validator struct {
	policy  *bluemonday.Policy
	blocked map[string]struct{}
}

// NewValidator creates a Validator rejecting DefaultBlockedTerms plus extra.
func NewValidator(extra ...string) *Validator {
	blocked := make(map[string]struct{}, len(DefaultBlockedTerms)+len(extra))
	for _, term := range append(append([]string{}, DefaultBlockedTerms...), extra...) {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			blocked[term] = struct{}{}
		}
	}
	return &Validator{policy: bluemonday.StrictPolicy(), blocked: blocked}
}

// Normalize validates req and fills in defaults. The returned request carries an ID.
func (v *Validator) Normalize(req model.GenerationRequest) (model.GenerationRequest, error) {
	topic := v.CleanText(req.Topic)
	if topic == "" {
		return req, failure.Validationf("please enter a topic")
	}
	if n := utf8.RuneCountInString(topic); n < MinTopicLength {
		return req, failure.Validationf("topic too short: please add more details (at least %d characters)", MinTopicLength)
	} else if n > MaxTopicLength {
		return req, failure.Validationf("topic too long: please keep it under %d characters", MaxTopicLength)
	}
	if term, ok := v.blockedTerm(topic); ok {
		return req, failure.Validationf("topic contains a blocked term: %q", term)
	}
	req.Topic = topic

	req.Channel = model.Channel(strings.ToLower(strings.TrimSpace(string(req.Channel))))
	if req.Channel == "" {
		req.Channel = model.ChannelInstagram
	}
	if !slices.Contains(model.Channels, req.Channel) {
		return req, failure.Validationf("unsupported channel %q", req.Channel)
	}

	req.Style = model.Style(strings.ToLower(strings.TrimSpace(string(req.Style))))
	if req.Style == "" {
		req.Style = model.StyleMinimal
	}
	if !slices.Contains(model.Styles, req.Style) {
		return req, failure.Validationf("unsupported style %q", req.Style)
	}

	if req.Channel == model.ChannelYouTube {
		req.VideoType = model.VideoType(strings.ToLower(strings.TrimSpace(string(req.VideoType))))
		if req.VideoType == "" {
			req.VideoType = model.VideoShort
		}
		if !slices.Contains(model.VideoTypes, req.VideoType) {
			return req, failure.Validationf("unsupported video type %q", req.VideoType)
		}
	} else {
		req.VideoType = ""
	}

	if req.VariantCount == 0 {
		req.VariantCount = DefaultVariantCount
	}
	if req.VariantCount < 1 || req.VariantCount > MaxVariantCount {
		return req, failure.Validationf("variant count must be between 1 and %d", MaxVariantCount)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}

// CleanText strips markup and collapses whitespace.
func (v *Validator) CleanText(s string) string {
	s = html.UnescapeString(v.policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func (v *Validator) blockedTerm(topic string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, ok := v.blocked[w]; ok {
			return w, true
		}
	}
	return "", false
}
