// Package config resolves tool configuration from command-line flags with
// environment-variable fallbacks. Flags win over environment values, which
// win over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults shared by the tools.
const (
	DefaultSaveDir       = "telegram_messages"
	DefaultMaxFileSizeMB = 2000
	DefaultGreeting      = "Archiver online, recording messages."
	DefaultLogLevel      = "info"
)

// Fetch holds the resolved configuration for the release fetcher.
type Fetch struct {
	Repo        string
	Tags        []string
	ForceLatest bool
	DownloadDir string
	LogLevel    string
	GitHubToken string
}

// FetchFlags carries raw flag values from the CLI. Zero values fall back to
// the corresponding environment variable.
type FetchFlags struct {
	Repo        string
	Tags        []string
	ForceLatest bool
	DownloadDir string
	LogLevel    string
}

// LoadFetch resolves the fetcher configuration.
func LoadFetch(flags FetchFlags) (*Fetch, error) {
	repo := fallback(flags.Repo, "GHFETCH_REPO", "")
	if repo == "" {
		return nil, fmt.Errorf("repository is required: use --repo or set GHFETCH_REPO")
	}

	tags := flags.Tags
	if len(tags) == 0 {
		tags = splitList(os.Getenv("GHFETCH_TAGS"))
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("at least one tag is required: use --tags or set GHFETCH_TAGS")
	}

	force := flags.ForceLatest
	if !force {
		force = envBool("GHFETCH_FORCE_LATEST")
	}

	dir := fallback(flags.DownloadDir, "GHFETCH_DOWNLOAD_DIR", ".")
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir %q: %w", dir, err)
	}

	return &Fetch{
		Repo:        repo,
		Tags:        tags,
		ForceLatest: force,
		DownloadDir: abs,
		LogLevel:    fallback(flags.LogLevel, "GHFETCH_LOG_LEVEL", DefaultLogLevel),
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
	}, nil
}

// Archive holds the resolved configuration for the Telegram archiver.
type Archive struct {
	BotToken     string
	ChatIDs      []int64
	SaveDir      string
	MaxFileSize  int64 // bytes
	LogLevel     string
	Greeting     string
	DatabasePath string
}

// ArchiveFlags carries raw flag values from the CLI. Zero values fall back
// to the corresponding environment variable.
type ArchiveFlags struct {
	BotToken      string
	ChatIDs       []string
	SaveDir       string
	MaxFileSizeMB int
	LogLevel      string
	Greeting      string
	DatabasePath  string
}

// LoadArchive resolves the archiver configuration.
func LoadArchive(flags ArchiveFlags) (*Archive, error) {
	token := fallback(flags.BotToken, "TELEGRAM_BOT_TOKEN", "")
	if token == "" {
		return nil, fmt.Errorf("bot token is required: use --bot-token or set TELEGRAM_BOT_TOKEN")
	}

	rawIDs := flags.ChatIDs
	if len(rawIDs) == 0 {
		rawIDs = splitList(os.Getenv("TELEGRAM_CHAT_ID"))
	}
	var chatIDs []int64
	for _, s := range rawIDs {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID %q: %w", s, err)
		}
		chatIDs = append(chatIDs, id)
	}

	maxMB := flags.MaxFileSizeMB
	if maxMB == 0 {
		if raw := os.Getenv("TELEGRAM_MAX_FILE_SIZE_MB"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_MAX_FILE_SIZE_MB %q: %w", raw, err)
			}
			maxMB = v
		} else {
			maxMB = DefaultMaxFileSizeMB
		}
	}
	if maxMB <= 0 {
		return nil, fmt.Errorf("max file size must be positive, got %d MB", maxMB)
	}

	saveDir := fallback(flags.SaveDir, "TELEGRAM_SAVE_DIR", DefaultSaveDir)
	abs, err := filepath.Abs(saveDir)
	if err != nil {
		return nil, fmt.Errorf("resolve save dir %q: %w", saveDir, err)
	}

	dbPath := fallback(flags.DatabasePath, "TELEGRAM_DATABASE_PATH",
		filepath.Join(abs, ".cache", "archive.db"))

	return &Archive{
		BotToken:     token,
		ChatIDs:      chatIDs,
		SaveDir:      abs,
		MaxFileSize:  int64(maxMB) * 1024 * 1024,
		LogLevel:     fallback(flags.LogLevel, "TELEGRAM_LOG_LEVEL", DefaultLogLevel),
		Greeting:     fallback(flags.Greeting, "TELEGRAM_GREETING", DefaultGreeting),
		DatabasePath: dbPath,
	}, nil
}

// MonitorsChat reports whether the archiver should handle messages from the
// given chat. An empty chat list means all chats are monitored.
func (a *Archive) MonitorsChat(chatID int64) bool {
	if len(a.ChatIDs) == 0 {
		return true
	}
	for _, id := range a.ChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func fallback(flagValue, envKey, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
