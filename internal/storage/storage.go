// Package storage defines the persistence interface for the archiver's
// message index and its implementations.
package storage

import (
	"context"

	"hoard/internal/model"
)

// Storage is the interface for the archived-message index. The daily journal
// files are the archival record; this index only answers "was this message
// already handled" across restarts.
type Storage interface {
	MarkArchived(ctx context.Context, msg *model.ArchivedMessage) error
	IsArchived(ctx context.Context, chatID int64, messageID int) (bool, error)
	ListArchived(ctx context.Context, chatID int64) ([]model.ArchivedMessage, error)

	Close() error
}
