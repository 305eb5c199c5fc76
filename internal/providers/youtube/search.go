package youtube

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/discombobulate/discombobulate/internal/provider"
)

func searchYouTube(ctx context.Context, query string) ([]provider.TrackRef, error) {
	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]provider.TrackRef, 0, len(res.Results))
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		out = append(out, provider.TrackRef{
			URL:          WatchURL(v.VideoID),
			Title:        v.Title,
			Uploader:     v.Channel,
			ThumbnailURL: thumbnailURL(v.VideoID),
			Duration:     parseClock(v.Duration),
		})
	}
	return out, nil
}

// searchMusic queries YouTube Music. The client has no context support, so
// the call is abandoned, not interrupted, when ctx ends.
func searchMusic(ctx context.Context, query string) ([]provider.TrackRef, error) {
	type result struct {
		refs []provider.TrackRef
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			ch <- result{err: err}
			return
		}
		refs := make([]provider.TrackRef, 0, len(r.Tracks))
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			ref := provider.TrackRef{
				URL:          WatchURL(v.VideoID),
				Title:        v.Title,
				ThumbnailURL: thumbnailURL(v.VideoID),
			}
			if len(v.Artists) > 0 {
				ref.Uploader = v.Artists[0].Name
			}
			refs = append(refs, ref)
		}
		ch <- result{refs: refs}
	}()
	select {
	case r := <-ch:
		return r.refs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseClock parses "3:20" or "1:05:20" style durations.
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
