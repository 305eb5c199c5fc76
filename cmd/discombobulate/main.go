package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/discombobulate/discombobulate/internal/app"
	"github.com/discombobulate/discombobulate/internal/autoplay"
	"github.com/discombobulate/discombobulate/internal/bus"
	"github.com/discombobulate/discombobulate/internal/config"
	"github.com/discombobulate/discombobulate/internal/history"
	"github.com/discombobulate/discombobulate/internal/kv"
	"github.com/discombobulate/discombobulate/internal/logging"
	"github.com/discombobulate/discombobulate/internal/playback"
	"github.com/discombobulate/discombobulate/internal/player"
	"github.com/discombobulate/discombobulate/internal/providers/youtube"
	"github.com/discombobulate/discombobulate/internal/resolver"
	"github.com/discombobulate/discombobulate/internal/session"
	"github.com/discombobulate/discombobulate/internal/transport"
	"github.com/discombobulate/discombobulate/internal/ui"
)

var version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `discombobulate - search YouTube and listen from the terminal

Usage: discombobulate [options]

Options:
  -config string
        Path to config file (default: ~/.config/discombobulate/config.toml)
  -version
        Print version and exit
  -debug
        Write debug-level logs

Diagnostics:
  -doctor
        Check configuration, mpv and yt-dlp

Playback:
  -query string
        Search for this on start
  -play
        Play the first result of -query without the TUI, following related
        tracks until interrupted

History:
  -history
        Print recently played tracks and exit
  -clear-history
        Forget recently played tracks and exit

Environment:
  DISCOMBOBULATE_PROXY overrides youtube.proxy. A .env file in the working
  directory is loaded first.

Examples:
  discombobulate                               # Start interactive TUI
  discombobulate --doctor                      # Check setup
  discombobulate --query "lofi hip hop"        # Start TUI with results
  discombobulate --query "nils frahm" --play   # Headless playback

`)
	}

	cfgPath := flag.String("config", "", "")
	showVersion := flag.Bool("version", false, "")
	debug := flag.Bool("debug", false, "")
	doctor := flag.Bool("doctor", false, "")
	query := flag.String("query", "", "")
	headless := flag.Bool("play", false, "")
	showHistory := flag.Bool("history", false, "")
	clearHistory := flag.Bool("clear-history", false, "")
	flag.Parse()

	if *showVersion {
		fmt.Println("discombobulate", version)
		return
	}
	if *headless && *query == "" {
		fmt.Fprintln(os.Stderr, "-play needs -query")
		os.Exit(2)
	}

	_ = godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger, logFile, err := logging.Setup(level)
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if *doctor {
		runDoctor(cfg, resolvedPath, err, logger)
		return
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Info("starting discombobulate", slog.String("config", resolvedPath), slog.String("version", version))

	db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()
	hist := history.New(db, history.Options{MaxEntries: cfg.History.MaxEntries, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *clearHistory {
		hist.Clear(ctx)
		fmt.Println("History cleared")
		return
	}
	if *showHistory {
		printHistory(ctx, hist)
		return
	}

	prov, err := buildProvider(cfg, logger)
	if err != nil {
		log.Fatalf("init provider: %v", err)
	}

	ctrl := player.New(player.Options{
		MPVPath:   cfg.Player.MPVPath,
		IPCPath:   cfg.Player.IPC,
		ExtraArgs: cfg.Player.ExtraArgs,
		Logger:    logger,
	})
	if err := ctrl.Start(ctx); err != nil {
		logger.Error("start player", slog.Any("err", err))
		log.Fatalf("start player: %v", err)
	}
	defer ctrl.Stop()

	b := bus.New(logger)
	defer b.Close()
	svc := buildService(cfg, prov, ctrl, b, hist, logger)

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	if *headless {
		err = runHeadless(ctx, svc, b, *query)
	} else {
		err = runTUI(ctx, cfg, svc, b, *query)
	}
	stop()
	if rerr := <-runErr; rerr != nil && !errors.Is(rerr, context.Canceled) {
		logger.Warn("session loop", slog.Any("err", rerr))
	}
	if err != nil {
		logger.Error("exit", slog.Any("err", err))
		log.Fatal(err)
	}
}

func openStore(cfg *config.Config) (*kv.SQLiteStore, error) {
	path := cfg.History.DBPath
	if path == "" {
		var err error
		if path, err = kv.DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return kv.Open(path)
}

func buildProvider(cfg *config.Config, logger *slog.Logger) (*youtube.Provider, error) {
	return youtube.New(youtube.Config{
		Proxy:             cfg.YouTube.Proxy,
		AutoInstall:       cfg.AutoInstall(),
		RequestsPerSecond: cfg.YouTube.RequestsPerSecond,
		Sources:           cfg.Search.Sources,
		SearchLimit:       cfg.Search.Limit,
		CacheTTL:          cfg.SearchCacheTTL(),
		Logger:            logger,
	})
}

// buildService wires the session components around one engine and bus.
func buildService(cfg *config.Config, prov *youtube.Provider, engine player.Engine, b *bus.Bus, hist *history.Cache, logger *slog.Logger) *playback.Service {
	store := session.New(b)

	policy := resolver.BestBitrate
	if cfg.Resolver.MaxBitrate > 0 {
		policy = resolver.MaxBitrate(cfg.Resolver.MaxBitrate)
	}
	next := autoplay.FirstUnplayed
	if !cfg.ExcludePlayed() {
		next = autoplay.FirstRelated
	}

	res := resolver.New(prov, store, resolver.Options{
		Timeout: cfg.ResolverTimeout(),
		Policy:  policy,
		Logger:  logger,
		Bus:     b,
	})
	bridge := transport.New(engine, store, b, transport.Options{
		Logger:           logger,
		ProgressInterval: cfg.ProgressInterval(),
	})
	related := autoplay.NewRelated(prov, b, autoplay.RelatedOptions{Logger: logger})

	return playback.New(playback.Deps{
		Provider: prov,
		Store:    store,
		Bus:      b,
		History:  hist,
		Resolver: res,
		Bridge:   bridge,
		Related:  related,
		Autoplay: autoplay.New(related, store, bridge, autoplay.Options{Policy: next, Logger: logger}),
	}, playback.Options{
		Logger:       logger,
		SearchSuffix: cfg.SearchSuffix(),
		SearchLimit:  cfg.Search.Limit,
		Autoplay:     cfg.AutoplayEnabled(),
	})
}

func runTUI(ctx context.Context, cfg *config.Config, svc *playback.Service, b *bus.Bus, query string) error {
	events, unsubscribe := b.Subscribe(bus.StateChanged, bus.TrackChanged, bus.Progress, bus.Error)
	defer unsubscribe()

	noColor := os.Getenv("NO_COLOR") != ""
	model := app.New(ctx, svc, app.Options{
		Theme:    ui.GetTheme(cfg.UI.Theme, noColor),
		NoEmoji:  cfg.UI.NoEmoji,
		SeekStep: time.Duration(cfg.Player.SeekSmall) * time.Second,
		Events:   events,
		Query:    query,
	})
	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// runHeadless plays the first search result and follows the session on
// stdout until ctx is done.
func runHeadless(ctx context.Context, svc *playback.Service, b *bus.Bus, query string) error {
	events, unsubscribe := b.Subscribe(bus.TrackChanged, bus.Error)
	defer unsubscribe()

	results, err := svc.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search %q: %w", query, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("no results for %q", query)
	}
	go func() {
		if err := svc.SelectTrack(ctx, results[0]); err != nil && !errors.Is(err, resolver.ErrSuperseded) {
			fmt.Fprintln(os.Stderr, "select:", err)
		}
	}()

	accent := color.New(color.FgHiMagenta, color.Bold)
	warn := color.New(color.FgHiYellow)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			switch evt.Kind {
			case bus.TrackChanged:
				snap := svc.Session()
				accent.Print("♪ ")
				fmt.Printf("%s", snap.CurrentTrack.Title)
				if snap.CurrentTrack.Uploader != "" {
					fmt.Printf(" · %s", snap.CurrentTrack.Uploader)
				}
				fmt.Println()
			case bus.Error:
				warn.Printf("%s: %v\n", evt.Source, evt.Err)
			}
		}
	}
}

func printHistory(ctx context.Context, hist *history.Cache) {
	items := hist.List(ctx)
	if len(items) == 0 {
		fmt.Println("Nothing played yet")
		return
	}
	dim := color.New(color.FgHiBlack)
	for i, ref := range items {
		fmt.Printf("%2d. %s", i+1, ref.Title)
		if ref.Uploader != "" {
			dim.Printf(" · %s", ref.Uploader)
		}
		fmt.Println()
		dim.Printf("    %s\n", ref.URL)
	}
}

func runDoctor(cfg *config.Config, path string, loadErr error, logger *slog.Logger) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()
	note := color.New(color.FgHiBlack).SprintFunc()

	fmt.Println("discombobulate doctor")
	if loadErr != nil {
		fmt.Printf("Config (%s): %s %v\n", path, bad("ERROR"), loadErr)
		return
	}
	fmt.Printf("Config (%s): %s\n", path, ok("OK"))

	if mpvPath, err := config.LookPath(cfg.Player.MPVPath); err != nil {
		fmt.Printf("mpv (%s): %s\n", cfg.Player.MPVPath, bad("NOT FOUND"))
	} else {
		fmt.Printf("mpv: %s %s\n", ok("OK"), note(mpvPath))
	}

	prov, err := buildProvider(cfg, logger)
	if err != nil {
		fmt.Printf("Provider: %s %v\n", bad("ERROR"), err)
		return
	}
	ctx, cancel := cfg.DeadlineContext()
	defer cancel()
	if healthy, details := prov.Health(ctx); healthy {
		fmt.Printf("yt-dlp: %s %s\n", ok("OK"), note(details))
	} else {
		fmt.Printf("yt-dlp: %s %s\n", bad("UNAVAILABLE"), details)
		if !cfg.AutoInstall() {
			fmt.Println(note("  set youtube.auto_install = true to download it automatically"))
		}
	}

	if cfg.YouTube.Proxy != "" {
		fmt.Printf("Proxy: %s\n", cfg.YouTube.Proxy)
	}
	db, err := openStore(cfg)
	if err != nil {
		fmt.Printf("History store: %s %v\n", bad("ERROR"), err)
	} else {
		n := len(history.New(db, history.Options{MaxEntries: cfg.History.MaxEntries, Logger: logger}).List(ctx))
		fmt.Printf("History store: %s %s\n", ok("OK"), note(fmt.Sprintf("%d entries", n)))
		db.Close()
	}
	fmt.Printf("Theme: %s %s\n", cfg.UI.Theme, note("(available: "+fmt.Sprint(ui.ThemeNames())+")"))
	logger.Info("doctor complete")
}
