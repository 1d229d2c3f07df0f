package completion

import (
	"fmt"
	"strings"

	"github.com/ubuygold/gosparklio/internal/model"
)

type channelGuide struct {
	tone     string
	length   string
	hashtags string
}

var channelGuides = map[model.Channel]channelGuide{
	model.ChannelInstagram: {
		tone:     "warm, visual and scroll-stopping, with line breaks and a few emojis",
		length:   "caption of 80 to 150 words ending with a question or call to action",
		hashtags: "8 to 10 hashtags mixing broad and niche tags",
	},
	model.ChannelLinkedIn: {
		tone:     "professional and insightful, first person, no slang",
		length:   "caption of 120 to 200 words in short paragraphs with one clear takeaway",
		hashtags: "3 to 5 professional hashtags",
	},
	model.ChannelTwitter: {
		tone:     "punchy, witty and conversational",
		length:   "caption under 280 characters including the hook",
		hashtags: "2 to 3 hashtags",
	},
	model.ChannelYouTube: {
		tone:     "energetic and curiosity-driven",
		length:   "caption written for the video format below",
		hashtags: "5 to 8 searchable hashtags",
	},
}

var styleGuides = map[model.Style]string{
	model.StyleMinimal:      "clean and understated voice; visuals with negative space, soft neutral colours and simple shapes",
	model.StyleBold:         "confident, high-energy voice; visuals with strong contrast, saturated colours and big typography",
	model.StyleProfessional: "polished, credible voice; visuals with corporate palettes, sharp lighting and tidy composition",
	model.StyleAesthetic:    "dreamy, curated voice; visuals with pastel tones, film grain and soft natural light",
	model.StyleVibrant:      "playful, upbeat voice; visuals with bright gradients, bold colour pops and dynamic energy",
}

var videoGuides = map[model.VideoType]string{
	model.VideoShort:       "a YouTube Short: hook in the first 2 seconds, caption is a 30 to 60 second script",
	model.VideoTitle:       "a YouTube video title: hook is the title under 70 characters, caption lists 3 alternative titles",
	model.VideoDescription: "a YouTube description: caption is 150 to 250 words with timestamps and a subscribe call to action",
	model.VideoThumbnail:   "YouTube thumbnail text: hook is at most 5 words, caption explains the thumbnail concept",
}

const responseContract = `Respond with ONLY a JSON object, no markdown, in exactly this shape:
{
  "hook": "attention-grabbing opening line",
  "caption": "engaging content body",
  "hashtags": ["tag1", "tag2", "tag3"],
  "stylePrompt": "visual description for image generation"
}`

// BuildPrompt renders the single prompt sent to the provider for req.
func BuildPrompt(req model.GenerationRequest) string {
	guide, ok := channelGuides[req.Channel]
	if !ok {
		guide = channelGuides[model.ChannelInstagram]
	}
	style, ok := styleGuides[req.Style]
	if !ok {
		style = styleGuides[model.StyleMinimal]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create engaging %s content about: %s\n\n", req.Channel, req.Topic)
	fmt.Fprintf(&b, "Tone: %s\n", guide.tone)
	fmt.Fprintf(&b, "Length: %s\n", guide.length)
	fmt.Fprintf(&b, "Hashtags: %s\n", guide.hashtags)
	fmt.Fprintf(&b, "Style (%s): %s\n", req.Style, style)
	if req.Channel == model.ChannelYouTube {
		vt := req.VideoType
		if vt == "" {
			vt = model.VideoShort
		}
		fmt.Fprintf(&b, "Format: %s\n", videoGuides[vt])
	}
	b.WriteString("\nGenerate a hook, a caption, hashtags without the # sign, and a style prompt describing an image that matches the post.\n\n")
	b.WriteString(responseContract)
	return b.String()
}
