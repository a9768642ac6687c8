package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const documentColumns = `id, owner_id, kind, doc_type, doc_number, holder_name, description,
	lat, lng, location_label, image_url, status, returned_by, created_at, updated_at`

const maxDocumentListLimit = 500

// CreateDocument inserts a lost or found report
func (r *PostgresRepository) CreateDocument(ctx context.Context, params domain.CreateDocumentParams) (*domain.Document, error) {
	var lat, lng *float64
	if params.Location != nil {
		lat, lng = &params.Location.Lat, &params.Location.Lng
	}

	query := `
		INSERT INTO documents (owner_id, kind, doc_type, doc_number, holder_name, description, lat, lng, location_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + documentColumns

	row := r.db.QueryRow(ctx, query,
		params.OwnerID,
		params.Kind,
		params.DocType,
		params.DocNumber,
		params.HolderName,
		params.Description,
		lat,
		lng,
		params.LocationLabel,
	)
	return scanDocument(row)
}

// GetDocument retrieves a report by ID
func (r *PostgresRepository) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRow(ctx, query, id))
}

// ListOpenDocuments returns open reports, newest first
func (r *PostgresRepository) ListOpenDocuments(ctx context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	conds := []string{"status = 'open'"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Kind != "" {
		conds = append(conds, "kind = "+arg(filter.Kind))
	}
	if filter.DocType != "" {
		conds = append(conds, "doc_type = "+arg(filter.DocType))
	}
	if b := filter.Bounds; b != nil {
		conds = append(conds,
			"lat BETWEEN "+arg(b.MinLat)+" AND "+arg(b.MaxLat),
			"lng BETWEEN "+arg(b.MinLng)+" AND "+arg(b.MaxLng),
		)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxDocumentListLimit {
		limit = maxDocumentListLimit
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` +
		strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC LIMIT ` + arg(limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// MarkDocumentReturned closes an open report
func (r *PostgresRepository) MarkDocumentReturned(ctx context.Context, id uuid.UUID, returnedBy *uuid.UUID) (*domain.Document, error) {
	query := `
		UPDATE documents
		SET status = 'returned', returned_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + documentColumns
	doc, err := scanDocument(r.db.QueryRow(ctx, query, id, returnedBy))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: document %s is not open", domain.ErrConflict, id)
	}
	return doc, err
}

// SetDocumentImage records the uploaded image of a report
func (r *PostgresRepository) SetDocumentImage(ctx context.Context, id uuid.UUID, imageURL string) (*domain.Document, error) {
	query := `
		UPDATE documents SET image_url = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + documentColumns
	return scanDocument(r.db.QueryRow(ctx, query, id, imageURL))
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var doc domain.Document
	var lat, lng *float64
	var label *string
	err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Kind,
		&doc.DocType,
		&doc.DocNumber,
		&doc.HolderName,
		&doc.Description,
		&lat,
		&lng,
		&label,
		&doc.ImageURL,
		&doc.Status,
		&doc.ReturnedBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if lat != nil && lng != nil {
		doc.Location = &domain.Location{Lat: *lat, Lng: *lng}
	}
	if label != nil {
		doc.LocationLabel = *label
	}
	return &doc, nil
}
