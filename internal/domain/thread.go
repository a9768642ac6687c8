package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	documentKeyPrefix = "document:"
	usersKeyPrefix    = "users:"
)

// ThreadKey identifies a conversation: a document, or an unordered pair of
// users for messages without a document.
type ThreadKey struct {
	DocumentID *uuid.UUID
	// Low and High hold the participant pair in canonical order. They are
	// zero for document keys.
	Low, High uuid.UUID
}

// DocumentThreadKey returns the key of a document conversation.
func DocumentThreadKey(documentID uuid.UUID) ThreadKey {
	id := documentID
	return ThreadKey{DocumentID: &id}
}

// PairThreadKey returns the key of a direct conversation between a and b.
func PairThreadKey(a, b uuid.UUID) ThreadKey {
	if b.String() < a.String() {
		a, b = b, a
	}
	return ThreadKey{Low: a, High: b}
}

// ThreadKeyFor returns the thread a message belongs to from the point of view
// of currentUserID.
func ThreadKeyFor(m *Message, currentUserID uuid.UUID) ThreadKey {
	if m.DocumentID != nil {
		return DocumentThreadKey(*m.DocumentID)
	}
	return PairThreadKey(currentUserID, m.Counterpart(currentUserID))
}

// IsDocument reports whether the key names a document conversation.
func (k ThreadKey) IsDocument() bool {
	return k.DocumentID != nil
}

// Includes reports whether userID is one of the pair. Document keys carry no
// participants and always report false.
func (k ThreadKey) Includes(userID uuid.UUID) bool {
	return !k.IsDocument() && (k.Low == userID || k.High == userID)
}

// Other returns the participant of a pair key that is not userID.
func (k ThreadKey) Other(userID uuid.UUID) uuid.UUID {
	if k.Low == userID {
		return k.High
	}
	return k.Low
}

func (k ThreadKey) String() string {
	if k.DocumentID != nil {
		return documentKeyPrefix + k.DocumentID.String()
	}
	return usersKeyPrefix + k.Low.String() + ":" + k.High.String()
}

// ParseThreadKey parses the output of ThreadKey.String.
func ParseThreadKey(s string) (ThreadKey, error) {
	switch {
	case strings.HasPrefix(s, documentKeyPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(s, documentKeyPrefix))
		if err != nil {
			return ThreadKey{}, fmt.Errorf("%w: thread key %q", ErrInvalidInput, s)
		}
		return DocumentThreadKey(id), nil

	case strings.HasPrefix(s, usersKeyPrefix):
		parts := strings.Split(strings.TrimPrefix(s, usersKeyPrefix), ":")
		if len(parts) != 2 {
			return ThreadKey{}, fmt.Errorf("%w: thread key %q", ErrInvalidInput, s)
		}
		a, errA := uuid.Parse(parts[0])
		b, errB := uuid.Parse(parts[1])
		if errA != nil || errB != nil {
			return ThreadKey{}, fmt.Errorf("%w: thread key %q", ErrInvalidInput, s)
		}
		return PairThreadKey(a, b), nil
	}
	return ThreadKey{}, fmt.Errorf("%w: thread key %q", ErrInvalidInput, s)
}

// Thread is a conversation summary derived from messages. It is recomputed on
// every load and never stored.
type Thread struct {
	Key                string          `json:"key"`
	DocumentID         *uuid.UUID      `json:"document_id,omitempty"`
	LastMessage        *Message        `json:"last_message"`
	UnreadCount        int             `json:"unread_count"`
	OtherParticipantID uuid.UUID       `json:"other_participant_id"`
	OtherParticipant   *DisplayProfile `json:"other_participant,omitempty"`
}

// AggregateThreads groups the messages of currentUserID into threads, newest
// activity first. The last message of a thread is the one with the greatest
// CreatedAt; on equal timestamps the later message in the input wins.
// Messages that do not involve currentUserID are ignored.
func AggregateThreads(messages []*Message, currentUserID uuid.UUID) []*Thread {
	byKey := make(map[string]*Thread)
	threads := make([]*Thread, 0)

	for _, m := range messages {
		if m == nil || !m.Involves(currentUserID) {
			continue
		}

		key := ThreadKeyFor(m, currentUserID)
		ks := key.String()
		t, ok := byKey[ks]
		if !ok {
			t = &Thread{Key: ks, DocumentID: key.DocumentID}
			byKey[ks] = t
			threads = append(threads, t)
		}

		if t.LastMessage == nil || !m.CreatedAt.Before(t.LastMessage.CreatedAt) {
			t.LastMessage = m
			t.OtherParticipantID = m.Counterpart(currentUserID)
		}
		if m.ReceiverID == currentUserID && !m.Read {
			t.UnreadCount++
		}
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastMessage.CreatedAt.After(threads[j].LastMessage.CreatedAt)
	})
	return threads
}
