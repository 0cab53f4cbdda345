// Command tgarchive archives incoming Telegram messages: media files go to
// a per-chat directory, message metadata to daily JSON journals.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hoard/internal/archive"
	"hoard/internal/config"
	"hoard/internal/storage"
)

var flags config.ArchiveFlags

var rootCmd = &cobra.Command{
	Use:   "tgarchive",
	Short: "Archive Telegram messages and media to local storage",
	Long: `tgarchive authenticates as a Telegram bot, follows incoming messages on
the configured chats, downloads attached media into a per-chat directory,
and appends message metadata to a daily JSON journal.`,
	Example: `  tgarchive --bot-token 123:abc --chat-id -1001234567890
  TELEGRAM_BOT_TOKEN=123:abc tgarchive --save-dir /srv/archive`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.BotToken, "bot-token", "", "Telegram bot token")
	f.StringArrayVar(&flags.ChatIDs, "chat-id", nil, "chat ID to monitor (repeatable; default: all chats)")
	f.StringVar(&flags.SaveDir, "save-dir", "", "storage directory (default: telegram_messages)")
	f.IntVar(&flags.MaxFileSizeMB, "max-file-size-mb", 0, "max media file size in MB (default: 2000)")
	f.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&flags.Greeting, "greeting", "", "startup greeting message")
	f.StringVar(&flags.DatabasePath, "database", "", "path to the message index database (default: <save-dir>/.cache/archive.db)")
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
	cfg, err := config.LoadArchive(flags)
	if err != nil {
		return &usageError{err}
	}
	log := newLogger(cfg.LogLevel)

	for _, dir := range []string{cfg.SaveDir, filepath.Dir(cfg.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open index database %s: %w", cfg.DatabasePath, err)
	}
	defer func() { _ = store.Close() }()

	archiver, err := archive.New(cfg, store, log)
	if err != nil {
		return fmt.Errorf("authenticate bot: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting archiver", "save_dir", cfg.SaveDir, "chats", len(cfg.ChatIDs))

	archiver.Run(ctx)

	log.Info("archiver stopped")
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
