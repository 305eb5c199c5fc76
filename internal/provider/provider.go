package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider is the video-info-extraction capability the player is built on.
type Provider interface {
	ID() string
	Name() string

	Search(ctx context.Context, q string) ([]TrackRef, error)
	ResolveStream(ctx context.Context, url string) (StreamMetadata, error)
	RelatedTracks(ctx context.Context, url string) ([]TrackRef, error)
}

// TrackRef identifies a piece of content before it is resolved. URL is the
// identity key.
type TrackRef struct {
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
	Uploader     string        `json:"uploader,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// AudioRendition is one playable audio encoding of a track. AverageBitrate is
// in bits per second.
type AudioRendition struct {
	URL            string `json:"url"`
	AverageBitrate int    `json:"averageBitrate"`
	Format         string `json:"format"`
	Codec          string `json:"codec,omitempty"`
}

func (r AudioRendition) String() string {
	codec := r.Codec
	if codec == "" {
		codec = "?"
	}
	return fmt.Sprintf("%s/%s %dkbps", r.Format, codec, r.AverageBitrate/1000)
}

type VideoRendition struct {
	URL        string `json:"url"`
	Resolution string `json:"resolution"`
	Format     string `json:"format"`
}

// StreamMetadata is the fully resolved descriptor of a track.
type StreamMetadata struct {
	SourceURL       string           `json:"sourceUrl"`
	Title           string           `json:"title"`
	UploaderName    string           `json:"uploaderName"`
	Description     string           `json:"description"`
	ViewCount       int64            `json:"viewCount"`
	VideoRenditions []VideoRendition `json:"videoStreams"`
	AudioRenditions []AudioRendition `json:"audioStreams"`
}

// HasAudio reports whether r is one of the metadata's audio renditions.
func (m StreamMetadata) HasAudio(r AudioRendition) bool {
	for _, a := range m.AudioRenditions {
		if a.URL == r.URL {
			return true
		}
	}
	return false
}

// ValidateURL rejects empty or whitespace-only track references.
func ValidateURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("empty track url: %w", ErrInvalidInput)
	}
	return nil
}
