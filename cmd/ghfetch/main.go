// Command ghfetch downloads GitHub release assets for a set of tags,
// verifies their digests, and records them in release_manifest.json.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hoard/internal/config"
	"hoard/internal/fetch"
	"hoard/internal/github"
	"hoard/internal/manifest"
)

var flags config.FetchFlags

var rootCmd = &cobra.Command{
	Use:   "ghfetch",
	Short: "Download and verify GitHub release assets",
	Long: `ghfetch downloads the assets of one or more GitHub releases, verifies
each download with a double SHA-256 pass, and appends the results to an
append-only manifest. Already-downloaded assets are skipped.

The tag "latest" always resolves to the newest release; its assets are
re-downloaded whenever the latest release changes, or when --force-latest
is set.`,
	Example: `  ghfetch --repo pypa/pip --tags 24.0,23.3 --download-dir downloads
  ghfetch --repo https://github.com/psf/requests --tags latest
  ghfetch --repo pypa/pip --tags latest,24.0 --force-latest`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

var tagsCmd = &cobra.Command{
	Use:           "tags",
	Short:         "List recent release tags from the repository's Atom feed",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTags(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.Repo, "repo", "", "GitHub repository (owner/name or full URL)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	f := rootCmd.Flags()
	f.StringSliceVar(&flags.Tags, "tags", nil, "release tags to download; use 'latest' for the newest release")
	f.BoolVar(&flags.ForceLatest, "force-latest", false, "re-download assets of the latest release even when unchanged")
	f.StringVar(&flags.DownloadDir, "download-dir", "", "directory to store downloaded assets (default: current directory)")

	rootCmd.AddCommand(tagsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if _, ok := err.(*usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks configuration problems so main can exit with status 2.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func run(cmd *cobra.Command) error {
	cfg, err := config.LoadFetch(flags)
	if err != nil {
		return &usageError{err}
	}
	log := newLogger(cfg.LogLevel)

	repo, err := github.ParseRepo(cfg.Repo)
	if err != nil {
		return &usageError{err}
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting fetch",
		"repo", repo, "tags", cfg.Tags, "force_latest", cfg.ForceLatest, "dest", cfg.DownloadDir)

	gh := github.New(http.DefaultClient, cfg.GitHubToken)
	fetcher := fetch.New(gh, http.DefaultClient, cfg.DownloadDir, log)

	records, err := fetcher.FetchTags(ctx, repo, cfg.Tags, cfg.ForceLatest)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}
	if len(records) == 0 {
		log.Info("no assets processed")
		return nil
	}

	manifestPath := filepath.Join(cfg.DownloadDir, manifest.Filename)
	added, err := manifest.Append(manifestPath, records)
	if err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}
	if added == 0 {
		log.Info("manifest unchanged", "path", manifestPath)
	} else {
		log.Info("manifest updated", "path", manifestPath, "new_assets", added)
	}

	log.Info("done", "assets", len(records))
	return nil
}

func runTags(cmd *cobra.Command) error {
	repoSpec := flags.Repo
	if repoSpec == "" {
		repoSpec = os.Getenv("GHFETCH_REPO")
	}
	if repoSpec == "" {
		return &usageError{fmt.Errorf("repository is required: use --repo or set GHFETCH_REPO")}
	}
	repo, err := github.ParseRepo(repoSpec)
	if err != nil {
		return &usageError{err}
	}

	gh := github.New(http.DefaultClient, os.Getenv("GITHUB_TOKEN"))
	tags, err := gh.ListReleaseTags(cmd.Context(), repo)
	if err != nil {
		return fmt.Errorf("list release tags: %w", err)
	}
	for _, tag := range tags {
		fmt.Println(tag)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
