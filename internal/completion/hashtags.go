package completion

import (
	"strings"
	"unicode"

	"github.com/ubuygold/gosparklio/internal/model"
)

const (
	MinHashtags = 3
	MaxHashtags = 10
)

// genericTags top up the list when every topic-derived default collides with an existing tag.
var genericTags = []string{"trending", "content", "socialmedia", "inspiration"}

// NormalizeHashtags cleans raw tags, removes case-insensitive duplicates, caps the
// list at MaxHashtags and backfills deterministic defaults up to MinHashtags.
func NormalizeHashtags(raw []string, req model.GenerationRequest) []string {
	out := make([]string, 0, MaxHashtags)
	seen := make(map[string]struct{}, len(raw))
	add := func(tag string) {
		tag = cleanTag(tag)
		if tag == "" || len(out) >= MaxHashtags {
			return
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}

	for _, tag := range raw {
		add(tag)
	}

	defaults := []string{firstWord(req.Topic), string(req.Channel), string(req.Style)}
	defaults = append(defaults, genericTags...)
	for _, tag := range defaults {
		if len(out) >= MinHashtags {
			break
		}
		add(tag)
	}
	return out
}

// cleanTag strips leading marker characters and anything that cannot appear in a hashtag.
func cleanTag(tag string) string {
	tag = strings.TrimLeft(strings.TrimSpace(tag), "#＃-*•. \t\"'")
	var b strings.Builder
	for _, r := range tag {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstWord(topic string) string {
	for _, w := range strings.Fields(topic) {
		if c := cleanTag(w); c != "" {
			return strings.ToLower(c)
		}
	}
	return ""
}
