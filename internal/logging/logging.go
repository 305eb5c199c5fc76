package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "discombobulate-"
	// KeepFiles is how many dated log files Setup leaves in the state dir.
	KeepFiles = 7
)

// Setup creates a slog.Logger that writes to today's log file in the user
// state directory and prunes older files. The caller closes the file.
func Setup(level slog.Level) (*slog.Logger, *os.File, error) {
	stateDir, err := StateDir()
	if err != nil {
		return nil, nil, fmt.Errorf("state dir: %w", err)
	}
	return SetupIn(stateDir, level, time.Now())
}

// SetupIn is Setup with an explicit directory and clock.
func SetupIn(dir string, level slog.Level, now time.Time) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(dir, filePrefix+now.Format("20060102")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	if removed, err := Prune(dir, KeepFiles); err != nil {
		logger.Warn("prune old logs", slog.Any("err", err))
	} else if removed > 0 {
		logger.Debug("pruned old logs", slog.Int("removed", removed))
	}
	return logger, f, nil
}

// Prune deletes all but the newest keep log files in dir. File names sort
// by date, so the newest are last.
func Prune(dir string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var logs []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, ".log") {
			logs = append(logs, name)
		}
	}
	if len(logs) <= keep {
		return 0, nil
	}
	sort.Strings(logs)
	removed := 0
	for _, name := range logs[:len(logs)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// StateDir returns the path to the state directory (~/.config/discombobulate/state).
func StateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "discombobulate"
	if runtime.GOOS == "windows" {
		name = "Discombobulate"
	}
	return filepath.Join(dir, name, "state"), nil
}
