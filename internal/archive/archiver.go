// Package archive implements the Telegram message archiver: it follows
// incoming updates, downloads attached media, and journals message metadata
// to daily JSON files.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"hoard/internal/config"
	"hoard/internal/model"
	"hoard/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Archiver receives Telegram messages and archives their media and metadata.
type Archiver struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Archive
	client  HTTPClient
	journal *Journal
	log     *slog.Logger
}

// New authenticates against the Bot API and creates an Archiver.
func New(cfg *config.Archive, store storage.Storage, log *slog.Logger) (*Archiver, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newWithAPI(api, cfg, store, http.DefaultClient, log), nil
}

func newWithAPI(api telegramAPI, cfg *config.Archive, store storage.Storage, client HTTPClient, log *slog.Logger) *Archiver {
	return &Archiver{
		api:     api,
		store:   store,
		cfg:     cfg,
		client:  client,
		journal: NewJournal(filepath.Join(cfg.SaveDir, ".cache"), log),
		log:     log,
	}
}

// Run sends the startup greetings and follows incoming updates, blocking
// until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.sendGreetings()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.api.GetUpdatesChan(u)

	a.log.Info("archiver ready",
		"save_dir", a.cfg.SaveDir, "max_file_size", formatSize(a.cfg.MaxFileSize))

	for {
		select {
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		}
	}
}

// sendGreetings posts the configured greeting to every monitored chat. With
// no chat list the archiver listens everywhere and greets nobody.
func (a *Archiver) sendGreetings() {
	if len(a.cfg.ChatIDs) == 0 {
		a.log.Info("monitoring all chats")
		return
	}
	for _, chatID := range a.cfg.ChatIDs {
		if _, err := a.api.Send(tgbotapi.NewMessage(chatID, a.cfg.Greeting)); err != nil {
			a.log.Error("send greeting", "chat_id", chatID, "error", err)
		}
	}
	a.log.Info("monitoring chats", "chat_ids", a.cfg.ChatIDs)
}

func (a *Archiver) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if !a.cfg.MonitorsChat(chatID) {
		a.log.Debug("ignoring message from unmonitored chat", "chat_id", chatID)
		return
	}

	media := mediaOf(msg)
	if media == nil {
		a.log.Debug("skipping message without media", "message_id", msg.MessageID)
		return
	}

	archived, err := a.store.IsArchived(ctx, chatID, msg.MessageID)
	if err != nil {
		a.log.Error("check archive index", "chat_id", chatID, "message_id", msg.MessageID, "error", err)
	} else if archived {
		a.log.Debug("message already archived", "chat_id", chatID, "message_id", msg.MessageID)
		return
	}

	a.log.Info("archiving message", "chat_id", chatID, "message_id", msg.MessageID, "media_type", media.Type)
	a.reply(msg, "Message received, archiving...")

	savedFile, archiveErr := a.saveMedia(ctx, chatID, msg, media)

	rec := a.buildRecord(msg, media, savedFile, archiveErr)
	if err := a.journal.Append(msg.Time(), rec); err != nil {
		a.log.Error("append journal", "message_id", msg.MessageID, "error", err)
	}

	idx := model.ArchivedMessage{ChatID: chatID, MessageID: msg.MessageID, MediaFile: savedFile}
	if err := a.store.MarkArchived(ctx, &idx); err != nil {
		a.log.Error("mark archived", "chat_id", chatID, "message_id", msg.MessageID, "error", err)
	}

	if archiveErr != nil {
		a.log.Warn("archive failed", "message_id", msg.MessageID, "error", archiveErr)
		a.reply(msg, "Archiving failed: "+archiveErr.Error())
		return
	}
	a.log.Info("archived", "message_id", msg.MessageID, "file", savedFile)
	a.reply(msg, "Archived "+savedFile)
}

// saveMedia downloads the message's attachment into the per-chat directory
// and returns the saved file name.
func (a *Archiver) saveMedia(ctx context.Context, chatID int64, msg *tgbotapi.Message, media *mediaInfo) (string, error) {
	if media.Size > a.cfg.MaxFileSize {
		return "", fmt.Errorf("file size (%s) exceeds limit (%s)",
			formatSize(media.Size), formatSize(a.cfg.MaxFileSize))
	}

	caption := msg.Caption
	if caption == "" {
		caption = msg.Text
	}
	base := sanitizeFilename(caption, fmt.Sprintf("msg_%d", msg.MessageID))

	chatDir := filepath.Join(a.cfg.SaveDir, fmt.Sprintf("%d", chatID))
	if err := os.MkdirAll(chatDir, 0o750); err != nil {
		return "", fmt.Errorf("create chat directory: %w", err)
	}
	dest := resolveConflict(filepath.Join(chatDir, base+media.Ext))

	file, err := a.api.GetFile(tgbotapi.FileConfig{FileID: media.FileID})
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}

	if err := a.downloadFile(ctx, file.Link(a.cfg.BotToken), dest); err != nil {
		return "", err
	}

	a.log.Debug("downloaded media", "file", filepath.Base(dest), "size", formatSize(media.Size))
	return filepath.Base(dest), nil
}

func (a *Archiver) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // path derived from config
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("stream body: %w", err)
	}
	return nil
}

func (a *Archiver) buildRecord(msg *tgbotapi.Message, media *mediaInfo, savedFile string, archiveErr error) model.MessageRecord {
	rec := model.MessageRecord{
		MessageID:  msg.MessageID,
		ChatID:     msg.Chat.ID,
		Date:       msg.Time().UTC().Format(time.RFC3339),
		Text:       msg.Text,
		Caption:    msg.Caption,
		MediaType:  media.Type,
		SavedFiles: []string{},
		Errors:     []string{},
	}
	if msg.From != nil {
		rec.From = model.Sender{
			ID:        msg.From.ID,
			Username:  msg.From.UserName,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		}
	}
	if savedFile != "" {
		rec.SavedFiles = append(rec.SavedFiles, savedFile)
	}
	if archiveErr != nil {
		rec.Errors = append(rec.Errors, archiveErr.Error())
	}
	return rec
}

// reply answers a message in its chat. Reply failures are logged and
// otherwise ignored; archiving never depends on being able to respond.
func (a *Archiver) reply(msg *tgbotapi.Message, text string) {
	m := tgbotapi.NewMessage(msg.Chat.ID, text)
	m.ReplyToMessageID = msg.MessageID
	if _, err := a.api.Send(m); err != nil {
		a.log.Warn("send reply", "chat_id", msg.Chat.ID, "error", err)
	}
}
