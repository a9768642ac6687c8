package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is a chat message between two users, optionally about a document.
// Only Read changes after creation.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	SenderID   uuid.UUID  `json:"sender_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	Text       string     `json:"text"`
	CreatedAt  time.Time  `json:"created_at"`
	Read       bool       `json:"read"`
	Location   *Location  `json:"location,omitempty"`
}

// Counterpart returns the participant that is not userID. For a message a
// user sent to themselves it returns userID.
func (m *Message) Counterpart(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID sent or received the message.
func (m *Message) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// CreateMessageParams holds parameters for message creation
type CreateMessageParams struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	DocumentID *uuid.UUID
	Text       string
	Location   *Location
}

// MessageRepository is the message store used by ChatService.
type MessageRepository interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (*Message, error)
	// ListMessagesForUser returns every message the user sent or received,
	// oldest first.
	ListMessagesForUser(ctx context.Context, userID uuid.UUID) ([]*Message, error)
	ListThreadMessages(ctx context.Context, userID uuid.UUID, key ThreadKey, limit, offset int) ([]*Message, error)
	// MarkThreadRead flags unread messages addressed to userID in the thread
	// and returns the rows it changed.
	MarkThreadRead(ctx context.Context, userID uuid.UUID, key ThreadKey) ([]*Message, error)
}
