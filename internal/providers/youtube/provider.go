// Package youtube implements provider.Provider on top of yt-dlp, YouTube
// search and YouTube Music search.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	ytdlp "github.com/lrstanley/go-ytdlp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/discombobulate/discombobulate/internal/provider"
)

const (
	SourceYouTube = "youtube"
	SourceMusic   = "ytmusic"

	DefaultSearchLimit  = 20
	DefaultRelatedLimit = 25
	DefaultCacheTTL     = 30 * time.Minute
	cacheSize           = 128
)

type Config struct {
	Proxy string
	// AutoInstall downloads yt-dlp on first use when it is not on PATH.
	AutoInstall       bool
	RequestsPerSecond float64
	Sources           []string
	SearchLimit       int
	RelatedLimit      int
	CacheTTL          time.Duration
	Logger            *slog.Logger
}

// searchFunc is one search backend.
type searchFunc func(ctx context.Context, query string) ([]provider.TrackRef, error)

type Provider struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	cache   *expirable.LRU[string, []provider.TrackRef]
	sources []searchFunc

	installOnce sync.Once
	installErr  error
}

var _ provider.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.RelatedLimit <= 0 {
		cfg.RelatedLimit = DefaultRelatedLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = []string{SourceMusic, SourceYouTube}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	p := &Provider{
		cfg:     cfg,
		logger:  cfg.Logger,
		limiter: rate.NewLimiter(limit, 2),
		cache:   expirable.NewLRU[string, []provider.TrackRef](cacheSize, nil, cfg.CacheTTL),
	}
	for _, src := range cfg.Sources {
		switch strings.ToLower(strings.TrimSpace(src)) {
		case SourceYouTube:
			p.sources = append(p.sources, searchYouTube)
		case SourceMusic:
			p.sources = append(p.sources, searchMusic)
		default:
			return nil, fmt.Errorf("unknown search source %q: %w", src, provider.ErrInvalidInput)
		}
	}
	return p, nil
}

func (p *Provider) ID() string   { return "youtube" }
func (p *Provider) Name() string { return "YouTube" }

// Health reports whether yt-dlp can be run.
func (p *Provider) Health(ctx context.Context) (bool, string) {
	if err := p.ensureInstalled(ctx); err != nil {
		return false, err.Error()
	}
	res, err := p.command().Version(ctx)
	if err != nil {
		return false, err.Error()
	}
	return true, "yt-dlp " + strings.TrimSpace(res.Stdout)
}

// Search queries every configured source in parallel and merges the results
// in source order, dropping duplicate videos. Results are cached per query.
func (p *Provider) Search(ctx context.Context, query string) ([]provider.TrackRef, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("empty query: %w", provider.ErrInvalidInput)
	}
	key := strings.ToLower(q)
	if cached, ok := p.cache.Get(key); ok {
		p.logger.Debug("search cache hit", slog.String("query", q))
		return append([]provider.TrackRef(nil), cached...), nil
	}

	results := make([][]provider.TrackRef, len(p.sources))
	errs := make([]error, len(p.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, search := range p.sources {
		g.Go(func() error {
			// A failing source must not cancel the others.
			results[i], errs[i] = search(gctx, q)
			return nil
		})
	}
	_ = g.Wait()

	merged := mergeResults(results, p.cfg.SearchLimit)
	if len(merged) == 0 {
		if err := errors.Join(errs...); err != nil {
			p.logger.Warn("search failed", slog.String("query", q), slog.Any("err", err))
			return nil, mapError(ctx, err)
		}
		return nil, nil
	}
	for _, err := range errs {
		if err != nil {
			p.logger.Debug("search source failed", slog.String("query", q), slog.Any("err", err))
		}
	}
	p.cache.Add(key, merged)
	return append([]provider.TrackRef(nil), merged...), nil
}

// mergeResults concatenates per-source results, keeping the first occurrence
// of each video, up to limit entries.
func mergeResults(sets [][]provider.TrackRef, limit int) []provider.TrackRef {
	seen := make(map[string]bool)
	var out []provider.TrackRef
	for _, set := range sets {
		for _, ref := range set {
			id := VideoID(ref.URL)
			if id == "" {
				id = ref.URL
			}
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, ref)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

func (p *Provider) ResolveStream(ctx context.Context, url string) (provider.StreamMetadata, error) {
	if err := provider.ValidateURL(url); err != nil {
		return provider.StreamMetadata{}, err
	}
	if err := p.prepare(ctx); err != nil {
		return provider.StreamMetadata{}, err
	}
	res, err := p.command().
		NoPlaylist().
		DumpJSON().
		Run(ctx, canonicalURL(url))
	if err != nil {
		return provider.StreamMetadata{}, mapError(ctx, withStderr(err, res))
	}
	meta, err := parseStream(res.Stdout)
	if err != nil {
		return provider.StreamMetadata{}, err
	}
	if meta.SourceURL == "" {
		meta.SourceURL = url
	}
	p.logger.Debug("stream metadata",
		slog.String("url", url),
		slog.Int("audio", len(meta.AudioRenditions)),
		slog.Int("video", len(meta.VideoRenditions)))
	return meta, nil
}

// RelatedTracks lists the YouTube mix seeded by url.
func (p *Provider) RelatedTracks(ctx context.Context, url string) ([]provider.TrackRef, error) {
	id := VideoID(url)
	if id == "" {
		return nil, fmt.Errorf("no video id in %q: %w", url, provider.ErrInvalidInput)
	}
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	res, err := p.command().
		FlatPlaylist().
		Print(flatFormat).
		PlaylistItems(fmt.Sprintf("1-%d", p.cfg.RelatedLimit)).
		Run(ctx, mixURL(id))
	if err != nil {
		return nil, mapError(ctx, withStderr(err, res))
	}
	return parseFlat(res.Stdout), nil
}

func (p *Provider) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if p.cfg.Proxy != "" {
		cmd.Proxy(p.cfg.Proxy)
	}
	return cmd
}

// prepare installs yt-dlp if needed and waits for the rate limiter.
func (p *Provider) prepare(ctx context.Context) error {
	if err := p.ensureInstalled(ctx); err != nil {
		return err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return mapError(ctx, err)
	}
	return nil
}

func (p *Provider) ensureInstalled(ctx context.Context) error {
	if !p.cfg.AutoInstall {
		return nil
	}
	p.installOnce.Do(func() {
		p.logger.Info("ensuring yt-dlp is installed")
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			p.installErr = fmt.Errorf("install yt-dlp: %w", err)
		}
	})
	return p.installErr
}

func withStderr(err error, res *ytdlp.Result) error {
	if res == nil || strings.TrimSpace(res.Stderr) == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, lastLine(res.Stderr))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// mapError translates yt-dlp and context failures into provider errors.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, provider.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "private video"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "http error 404"):
		return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
	case strings.Contains(msg, "http error 429"),
		strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%v: %w", err, provider.ErrRateLimited)
	case strings.Contains(msg, "unable to download webpage"),
		strings.Contains(msg, "name or service not known"),
		strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("%v: %w", err, provider.ErrOffline)
	}
	return fmt.Errorf("%v: %w", err, provider.ErrTemporary)
}
