// Package model defines the domain types used across the application.
package model

import "time"

// AssetRecord is a single verified release asset as it appears in the
// download manifest. Records are append-only; once written they are never
// mutated or deleted.
type AssetRecord struct {
	Repo        string `json:"repo"`
	ReleaseTag  string `json:"release_tag"`
	ReleaseID   int64  `json:"release_id"`
	AssetID     int64  `json:"asset_id"`
	AssetName   string `json:"asset_name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	HashAlgo    string `json:"hash_algo"`
	HashValue   string `json:"hash_value"`
	Path        string `json:"path"`
}

// Sender identifies the author of an archived Telegram message.
type Sender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// MessageRecord is one archived Telegram message as written to the daily
// journal file. One record per inbound message, append-only.
type MessageRecord struct {
	MessageID  int      `json:"message_id"`
	ChatID     int64    `json:"chat_id"`
	Date       string   `json:"date"`
	From       Sender   `json:"from"`
	Text       string   `json:"text,omitempty"`
	Caption    string   `json:"caption,omitempty"`
	MediaType  string   `json:"media_type,omitempty"`
	SavedFiles []string `json:"saved_files"`
	Errors     []string `json:"errors"`
}

// ArchivedMessage is a row in the archiver's index database. The index only
// exists so a restarted archiver does not re-download media for messages it
// has already handled; the daily journal remains the archival record.
type ArchivedMessage struct {
	ChatID     int64
	MessageID  int
	MediaFile  string
	ArchivedAt time.Time
}
