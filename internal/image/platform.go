package image

import (
	"net/url"

	"github.com/ubuygold/gosparklio/internal/model"
)

// Dimensions is an image size in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var channelDimensions = map[model.Channel]Dimensions{
	model.ChannelInstagram: {1080, 1080},
	model.ChannelLinkedIn:  {1200, 627},
	model.ChannelTwitter:   {1200, 675},
	model.ChannelYouTube:   {1280, 720},
}

// DimensionsFor returns the preferred image size for channel. Unknown channels get the square size.
func DimensionsFor(channel model.Channel) Dimensions {
	if d, ok := channelDimensions[channel]; ok {
		return d
	}
	return channelDimensions[model.ChannelInstagram]
}

// IsValidURL reports whether s is an absolute http or https URL.
func IsValidURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
