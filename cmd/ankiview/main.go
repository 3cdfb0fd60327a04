package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"

	"ankiview/internal/config"
	"ankiview/internal/gitsource"
	"ankiview/internal/ratings"
	"ankiview/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.Flags()
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	mediaDir, err := resolveMediaDir(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("prepare media directory: %w", err)
	}

	packages := discoverPackages(cfg, logger)
	startPackage := pickStartPackage(cfg.Package, packages)

	ratingsStore, err := ratings.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("prepare ratings storage: %w", err)
	}

	state := web.NewState(mediaDir, cfg.MediaURLPath)
	if startPackage == "" {
		logger.Warn("no .apkg package found, starting without a deck")
	} else if _, _, err := state.Load(startPackage, true); err != nil {
		// Start anyway; the UI explains what went wrong and switching to
		// another package remains possible.
		logger.Warn("initial deck load failed", "package", startPackage, "error", err)
	} else {
		logger.Info("deck loaded", "package", startPackage)
	}

	server, err := web.NewServer(cfg, state, ratingsStore, packages, logger)
	if err != nil {
		return err
	}

	logger.Info("listening", "addr", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, server)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// resolveMediaDir places extracted media under the data directory, or in a
// throwaway temp directory when no data directory is configured.
func resolveMediaDir(dataDir string) (string, error) {
	if dataDir == "" {
		return os.MkdirTemp("", "ankiview_media_")
	}
	mediaDir := filepath.Join(dataDir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return "", err
	}
	return mediaDir, nil
}

// discoverPackages gathers .apkg files from the data directory and from the
// configured git sources.
func discoverPackages(cfg *config.Config, logger *slog.Logger) []string {
	var packages []string
	if cfg.DataDir != "" {
		found, err := filepath.Glob(filepath.Join(cfg.DataDir, "*.apkg"))
		if err == nil {
			packages = append(packages, found...)
		}
		if len(cfg.Sources) > 0 {
			reposDir := filepath.Join(cfg.DataDir, "repos")
			packages = append(packages, gitsource.SyncAll(cfg.Sources, reposDir)...)
		}
	} else if len(cfg.Sources) > 0 {
		logger.Warn("ignoring sources: syncing them requires a data directory")
	}
	sort.Strings(packages)
	return packages
}

// pickStartPackage prefers the explicitly configured package, then the first
// discovered one.
func pickStartPackage(configured string, packages []string) string {
	if configured != "" {
		return configured
	}
	if len(packages) > 0 {
		return packages[0]
	}
	return ""
}
