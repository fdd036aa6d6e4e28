package domain

import (
	"context"
	"time"
)

// RawMessage is a chatbox message as received from either ingestion path,
// before any normalization. Message IDs are assigned by the forum and grow
// monotonically within a room.
type RawMessage struct {
	MessageID int64
	UserID    int64
	Username  string
	Plain     string // lightweight-markup body
	HTML      string // HTML rendering of the same body
	Date      time.Time
	RoomID    int64
	IsCurator bool
}

// ReplyTarget identifies the chatbox author a relayed message came from.
// It is what a destination-side "reply to" resolves back into.
type ReplyTarget struct {
	UserID   int64
	Username string
}

// Destination delivers rendered text to the mirrored conversation and
// reports the identifier the destination assigned to it.
type Destination interface {
	SendText(ctx context.Context, text string, disablePreview bool) (int64, error)
}

// TypingSender signals "someone is typing" to the chatbox room. Best-effort:
// implementations report success but never fail the caller.
type TypingSender interface {
	SendTyping(ctx context.Context) bool
}
