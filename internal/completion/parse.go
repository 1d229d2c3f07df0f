package completion

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ubuygold/gosparklio/internal/failure"
)

// Parsed is the structured content extracted from a provider response.
type Parsed struct {
	Hook        string
	Caption     string
	Hashtags    []string
	StylePrompt string
}

type payload struct {
	Hook           string          `json:"hook"`
	Caption        string          `json:"caption"`
	Hashtags       json.RawMessage `json:"hashtags"`
	StylePrompt    string          `json:"stylePrompt"`
	StylePromptAlt string          `json:"style_prompt"`
}

var (
	fencePattern    = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	sectionsPattern = regexp.MustCompile(`(?is)HOOK:\s*(.*?)\s*CAPTION:\s*(.*?)\s*HASHTAGS:\s*(.*?)\s*STYLE_PROMPT:\s*(.*)$`)
)

// ParseResponse extracts the four content fields from raw provider text.
// It accepts the first balanced JSON object that decodes with all fields present,
// then falls back to HOOK:/CAPTION:/HASHTAGS:/STYLE_PROMPT: sections.
func ParseResponse(text string) (Parsed, error) {
	text = fencePattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")

	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchingBrace(text, start); end > start {
			if p, ok := decodeObject(text[start : end+1]); ok {
				return p, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	if p, ok := parseSections(text); ok {
		return p, nil
	}
	return Parsed{}, failure.New(failure.KindParse, "no structured content in provider response")
}

// matchingBrace returns the index of the brace closing the object opened at start, or -1.
func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func decodeObject(raw string) (Parsed, bool) {
	var pl payload
	if err := json.Unmarshal([]byte(raw), &pl); err != nil {
		return Parsed{}, false
	}
	var tags []string
	if len(pl.Hashtags) == 0 || json.Unmarshal(pl.Hashtags, &tags) != nil {
		return Parsed{}, false
	}
	p := Parsed{
		Hook:        strings.TrimSpace(pl.Hook),
		Caption:     strings.TrimSpace(pl.Caption),
		Hashtags:    tags,
		StylePrompt: strings.TrimSpace(pl.StylePrompt),
	}
	if p.StylePrompt == "" {
		p.StylePrompt = strings.TrimSpace(pl.StylePromptAlt)
	}
	if p.Hook == "" || p.Caption == "" || p.StylePrompt == "" {
		return Parsed{}, false
	}
	return p, true
}

func parseSections(text string) (Parsed, bool) {
	m := sectionsPattern.FindStringSubmatch(strings.ReplaceAll(text, "**", ""))
	if m == nil {
		return Parsed{}, false
	}
	p := Parsed{
		Hook:        strings.TrimSpace(m[1]),
		Caption:     strings.TrimSpace(m[2]),
		Hashtags:    splitTags(m[3]),
		StylePrompt: strings.TrimSpace(m[4]),
	}
	if p.Hook == "" || p.Caption == "" || p.StylePrompt == "" {
		return Parsed{}, false
	}
	return p, true
}

// splitTags splits a free-form hashtag line on commas and newlines, and on
// spaces when several #-prefixed tags share one line.
func splitTags(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	var out []string
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if strings.Count(field, "#") > 1 {
			out = append(out, strings.Fields(field)...)
			continue
		}
		out = append(out, strings.TrimSpace(field))
	}
	return out
}
