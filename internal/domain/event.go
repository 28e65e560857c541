package domain

import "github.com/samber/lo"

// SourceType is where an inbound message was sent.
type SourceType string

const (
	SourceUser  SourceType = "user"
	SourceGroup SourceType = "group"
	SourceRoom  SourceType = "room"
)

// MessageEvent is one decoded inbound message. Events that are not text
// messages are still decoded so callers can skip them explicitly.
type MessageEvent struct {
	ReplyToken       string
	UserID           string
	SourceType       SourceType
	Text             string
	IsText           bool
	MentionedUserIDs []string
}

// Mentions reports whether userID appears in the event's mention list.
func (e MessageEvent) Mentions(userID string) bool {
	return userID != "" && lo.Contains(e.MentionedUserIDs, userID)
}
