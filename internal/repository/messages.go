package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, document_id, sender_id, receiver_id, text, location, read, created_at`

// CreateMessage inserts a message
func (r *PostgresRepository) CreateMessage(ctx context.Context, params domain.CreateMessageParams) (*domain.Message, error) {
	location, err := encodeLocation(params.Location)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (document_id, sender_id, receiver_id, text, location)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + messageColumns

	row := r.db.QueryRow(ctx, query,
		params.DocumentID,
		params.SenderID,
		params.ReceiverID,
		params.Text,
		location,
	)
	return scanMessage(row)
}

// ListMessagesForUser returns every message the user sent or received, oldest first
func (r *PostgresRepository) ListMessagesForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListThreadMessages returns one page of a conversation, newest first
func (r *PostgresRepository) ListThreadMessages(ctx context.Context, userID uuid.UUID, key domain.ThreadKey, limit, offset int) ([]*domain.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if key.IsDocument() {
		query := `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE document_id = $1 AND (sender_id = $2 OR receiver_id = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4
		`
		rows, err = r.db.Query(ctx, query, *key.DocumentID, userID, limit, offset)
	} else {
		query := `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE document_id IS NULL
			  AND ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4
		`
		rows, err = r.db.Query(ctx, query, key.Low, key.High, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// MarkThreadRead flags unread messages addressed to userID and returns the changed rows
func (r *PostgresRepository) MarkThreadRead(ctx context.Context, userID uuid.UUID, key domain.ThreadKey) ([]*domain.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if key.IsDocument() {
		query := `
			UPDATE messages SET read = TRUE
			WHERE document_id = $1 AND receiver_id = $2 AND read = FALSE
			RETURNING ` + messageColumns
		rows, err = r.db.Query(ctx, query, *key.DocumentID, userID)
	} else {
		query := `
			UPDATE messages SET read = TRUE
			WHERE document_id IS NULL AND receiver_id = $1 AND sender_id = $2 AND read = FALSE
			RETURNING ` + messageColumns
		rows, err = r.db.Query(ctx, query, userID, key.Other(userID))
	}
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*domain.Message, error) {
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var location []byte
	err := row.Scan(
		&msg.ID,
		&msg.DocumentID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Text,
		&location,
		&msg.Read,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if msg.Location, err = decodeLocation(location); err != nil {
		return nil, err
	}
	return &msg, nil
}

func encodeLocation(loc *domain.Location) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("encode location: %w", err)
	}
	return b, nil
}

func decodeLocation(b []byte) (*domain.Location, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var loc domain.Location
	if err := json.Unmarshal(b, &loc); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}
	return &loc, nil
}
