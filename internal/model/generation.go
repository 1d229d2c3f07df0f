package model

import "time"

// Channel is the social network a post is written for.
type Channel string

const (
	ChannelInstagram Channel = "instagram"
	ChannelLinkedIn  Channel = "linkedin"
	ChannelTwitter   Channel = "twitter"
	ChannelYouTube   Channel = "youtube"
)

// Channels lists every supported channel in display order.
var Channels = []Channel{ChannelInstagram, ChannelLinkedIn, ChannelTwitter, ChannelYouTube}

// Style is the visual and verbal tone of a post.
type Style string

const (
	StyleMinimal      Style = "minimal"
	StyleBold         Style = "bold"
	StyleProfessional Style = "professional"
	StyleAesthetic    Style = "aesthetic"
	StyleVibrant      Style = "vibrant"
)

// Styles lists every supported style in display order.
var Styles = []Style{StyleMinimal, StyleBold, StyleProfessional, StyleAesthetic, StyleVibrant}

// VideoType narrows the format of YouTube content. It is ignored for other channels.
type VideoType string

const (
	VideoShort       VideoType = "short"
	VideoTitle       VideoType = "title"
	VideoDescription VideoType = "description"
	VideoThumbnail   VideoType = "thumbnail"
)

// VideoTypes lists every supported video type.
var VideoTypes = []VideoType{VideoShort, VideoTitle, VideoDescription, VideoThumbnail}

// GenerationRequest is one user submission. It is not modified after validation.
type GenerationRequest struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Channel      Channel   `json:"channel"`
	Style        Style     `json:"style"`
	VideoType    VideoType `json:"video_type,omitempty"`
	VariantCount int       `json:"variant_count"`
}

// GenerationResult is one generated variant of a post.
type GenerationResult struct {
	RequestID   string    `json:"request_id"`
	Variant     int       `json:"variant"`
	Hook        string    `json:"hook"`
	Caption     string    `json:"caption"`
	Hashtags    []string  `json:"hashtags"`
	StylePrompt string    `json:"style_prompt"`
	Channel     Channel   `json:"channel"`
	Style       Style     `json:"style"`
	Topic       string    `json:"topic"`
	Fallback    bool      `json:"fallback"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImageAsset is the single image shared by all variants of a request.
type ImageAsset struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
	Verified bool   `json:"verified"`
	Prompt   string `json:"prompt"`
}
