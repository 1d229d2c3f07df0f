package completion

import (
	"strings"

	"github.com/ubuygold/gosparklio/internal/model"
)

type template struct {
	hook        string
	caption     string
	stylePrompt string
	hashtags    []string
}

// fallbackTemplates are used when the provider answered but nothing usable could be parsed.
// {topic} and {style} are replaced before use.
var fallbackTemplates = map[model.Channel]template{
	model.ChannelInstagram: {
		hook:        "✨ Let's talk about {topic}",
		caption:     "Here's your sign to dive into {topic}. Small steps add up, and today is a great day to start.\n\nWhat's your favourite thing about {topic}? Tell us in the comments 👇",
		stylePrompt: "{style} square photo about {topic}, natural light, clean composition",
		hashtags:    []string{"instagood", "inspiration", "dailypost"},
	},
	model.ChannelLinkedIn: {
		hook:        "What I've learned about {topic}",
		caption:     "{topic} keeps coming up in conversations with peers, and for good reason.\n\nThe teams that do it well start small, measure what matters and share what they learn.\n\nHow is your team approaching {topic}?",
		stylePrompt: "{style} professional banner about {topic}, modern office tones",
		hashtags:    []string{"leadership", "growth", "careers"},
	},
	model.ChannelTwitter: {
		hook:        "Hot take on {topic} 🧵",
		caption:     "{topic} is simpler than it looks. Start today, iterate tomorrow.",
		stylePrompt: "{style} bold graphic about {topic}, high contrast",
		hashtags:    []string{"thread", "tips"},
	},
	model.ChannelYouTube: {
		hook:        "{topic} explained in 60 seconds",
		caption:     "Everything you need to know about {topic}, fast. Watch to the end for the one tip most people miss, and subscribe for more.",
		stylePrompt: "{style} youtube thumbnail about {topic}, expressive face, bright background",
		hashtags:    []string{"youtube", "shorts", "howto"},
	},
}

// Fallback builds deterministic content for req from the channel template.
func Fallback(req model.GenerationRequest) Parsed {
	tpl, ok := fallbackTemplates[req.Channel]
	if !ok {
		tpl = fallbackTemplates[model.ChannelInstagram]
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = "this"
	}
	style := string(req.Style)
	if style == "" {
		style = string(model.StyleMinimal)
	}
	r := strings.NewReplacer("{topic}", topic, "{style}", style)
	return Parsed{
		Hook:        r.Replace(tpl.hook),
		Caption:     r.Replace(tpl.caption),
		StylePrompt: r.Replace(tpl.stylePrompt),
		Hashtags:    append([]string(nil), tpl.hashtags...),
	}
}
