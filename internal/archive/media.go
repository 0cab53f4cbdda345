package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// mediaInfo describes the single downloadable attachment of a message.
type mediaInfo struct {
	FileID string
	Size   int64
	Ext    string
	Type   string
}

var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
	"audio/mpeg": ".mp3",
	"audio/ogg":  ".ogg",
}

// mediaOf extracts the attachment from a message, or nil when the message
// carries none. Photos resolve to their largest available size.
func mediaOf(msg *tgbotapi.Message) *mediaInfo {
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.FileSize > largest.FileSize {
				largest = p
			}
		}
		return &mediaInfo{FileID: largest.FileID, Size: int64(largest.FileSize), Ext: ".jpg", Type: "photo"}
	// Animation before Document: the API sets both for animations.
	case msg.Animation != nil:
		return &mediaInfo{FileID: msg.Animation.FileID, Size: int64(msg.Animation.FileSize), Ext: ".mp4", Type: "animation"}
	case msg.Document != nil:
		d := msg.Document
		return &mediaInfo{
			FileID: d.FileID,
			Size:   int64(d.FileSize),
			Ext:    extensionFor(d.FileName, d.MimeType),
			Type:   documentType(d.MimeType),
		}
	case msg.Video != nil:
		return &mediaInfo{FileID: msg.Video.FileID, Size: int64(msg.Video.FileSize), Ext: ".mp4", Type: "video"}
	case msg.Audio != nil:
		a := msg.Audio
		return &mediaInfo{
			FileID: a.FileID,
			Size:   int64(a.FileSize),
			Ext:    extensionFor(a.FileName, a.MimeType),
			Type:   "audio",
		}
	case msg.Voice != nil:
		return &mediaInfo{FileID: msg.Voice.FileID, Size: int64(msg.Voice.FileSize), Ext: ".ogg", Type: "voice"}
	case msg.VideoNote != nil:
		return &mediaInfo{FileID: msg.VideoNote.FileID, Size: int64(msg.VideoNote.FileSize), Ext: ".mp4", Type: "video_note"}
	default:
		return nil
	}
}

// extensionFor picks a file extension from an original file name when it has
// one, falling back to the MIME type and then to a generic binary suffix.
func extensionFor(fileName, mimeType string) string {
	if ext := filepath.Ext(fileName); len(ext) > 1 {
		return ext
	}
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return ".bin"
}

func documentType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	default:
		return "document"
	}
}

// formatSize renders a byte count for humans.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
