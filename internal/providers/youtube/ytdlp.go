package youtube

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/discombobulate/discombobulate/internal/provider"
)

// flatFormat is the --print template for flat playlist entries.
const flatFormat = "%(id)s\t%(title)s\t%(uploader)s\t%(duration)s"

type ytdlpFormat struct {
	FormatID   string  `json:"format_id"`
	URL        string  `json:"url"`
	Ext        string  `json:"ext"`
	ACodec     string  `json:"acodec"`
	VCodec     string  `json:"vcodec"`
	ABR        float64 `json:"abr"`
	TBR        float64 `json:"tbr"`
	Height     int     `json:"height"`
	Resolution string  `json:"resolution"`
	Protocol   string  `json:"protocol"`
}

type ytdlpInfo struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Uploader    string        `json:"uploader"`
	Channel     string        `json:"channel"`
	Description string        `json:"description"`
	ViewCount   int64         `json:"view_count"`
	Duration    float64       `json:"duration"`
	WebpageURL  string        `json:"webpage_url"`
	Formats     []ytdlpFormat `json:"formats"`
}

// parseStream reads the first JSON document printed by yt-dlp --dump-json.
func parseStream(stdout string) (provider.StreamMetadata, error) {
	var info ytdlpInfo
	if err := json.NewDecoder(strings.NewReader(stdout)).Decode(&info); err != nil {
		if errors.Is(err, io.EOF) {
			return provider.StreamMetadata{}, fmt.Errorf("yt-dlp printed no metadata: %w", provider.ErrNotFound)
		}
		return provider.StreamMetadata{}, fmt.Errorf("parse yt-dlp json: %w", err)
	}

	meta := provider.StreamMetadata{
		SourceURL:    info.WebpageURL,
		Title:        info.Title,
		UploaderName: info.Uploader,
		Description:  info.Description,
		ViewCount:    info.ViewCount,
	}
	if meta.UploaderName == "" {
		meta.UploaderName = info.Channel
	}
	for _, f := range info.Formats {
		if f.URL == "" || f.Protocol == "mhtml" {
			continue
		}
		hasAudio := f.ACodec != "" && f.ACodec != "none"
		hasVideo := f.VCodec != "" && f.VCodec != "none"
		switch {
		case hasAudio && !hasVideo:
			meta.AudioRenditions = append(meta.AudioRenditions, provider.AudioRendition{
				URL:            f.URL,
				AverageBitrate: bitrate(f),
				Format:         f.Ext,
				Codec:          f.ACodec,
			})
		case hasVideo:
			meta.VideoRenditions = append(meta.VideoRenditions, provider.VideoRendition{
				URL:        f.URL,
				Resolution: resolution(f),
				Format:     f.Ext,
			})
		}
	}
	return meta, nil
}

// bitrate converts yt-dlp's kbit/s figures to bits per second.
func bitrate(f ytdlpFormat) int {
	kbps := f.ABR
	if kbps <= 0 {
		kbps = f.TBR
	}
	return int(math.Round(kbps * 1000))
}

func resolution(f ytdlpFormat) string {
	if f.Resolution != "" && f.Resolution != "audio only" {
		return f.Resolution
	}
	if f.Height > 0 {
		return strconv.Itoa(f.Height) + "p"
	}
	return ""
}

// parseFlat reads flatFormat lines. Entries without a video id are skipped.
func parseFlat(stdout string) []provider.TrackRef {
	var out []provider.TrackRef
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), "\t")
		if len(parts) < 4 {
			continue
		}
		id := na(parts[0])
		if id == "" {
			continue
		}
		ref := provider.TrackRef{
			URL:          WatchURL(id),
			Title:        na(parts[1]),
			Uploader:     na(parts[2]),
			ThumbnailURL: thumbnailURL(id),
		}
		if secs, err := strconv.ParseFloat(na(parts[3]), 64); err == nil {
			ref.Duration = time.Duration(secs * float64(time.Second))
		}
		out = append(out, ref)
	}
	return out
}

// na maps yt-dlp's placeholder for missing fields to "".
func na(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

func WatchURL(id string) string { return "https://www.youtube.com/watch?v=" + id }

func mixURL(id string) string { return WatchURL(id) + "&list=RD" + id }

func thumbnailURL(id string) string { return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg" }

// canonicalURL rewrites YouTube Music links to the regular watch page.
func canonicalURL(u string) string {
	if id := VideoID(u); id != "" && strings.Contains(u, "music.youtube.com") {
		return WatchURL(id)
	}
	return u
}

// VideoID extracts the video id from watch, short, embed and youtu.be URLs.
// It returns "" when u is not a YouTube video URL.
func VideoID(u string) string {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtu.be":
		return strings.Trim(parsed.Path, "/")
	case "youtube.com", "music.youtube.com":
		if v := parsed.Query().Get("v"); v != "" {
			return v
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(parsed.Path, prefix); ok {
				return strings.Trim(rest, "/")
			}
		}
	}
	return ""
}
