package domain

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DocumentKind tells whether a report is about a lost or a found document.
type DocumentKind string

const (
	DocumentLost  DocumentKind = "lost"
	DocumentFound DocumentKind = "found"
)

// Opposite returns the kind a report is matched against.
func (k DocumentKind) Opposite() DocumentKind {
	if k == DocumentLost {
		return DocumentFound
	}
	return DocumentLost
}

type DocumentType string

const (
	DocumentIDCard         DocumentType = "id_card"
	DocumentPassport       DocumentType = "passport"
	DocumentDriversLicense DocumentType = "drivers_license"
	DocumentOther          DocumentType = "other"
)

type DocumentStatus string

const (
	DocumentStatusOpen     DocumentStatus = "open"
	DocumentStatusReturned DocumentStatus = "returned"
	DocumentStatusClosed   DocumentStatus = "closed"
)

// Document is a lost or found report.
type Document struct {
	ID            uuid.UUID      `json:"id"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	Kind          DocumentKind   `json:"kind"`
	DocType       DocumentType   `json:"doc_type"`
	DocNumber     *string        `json:"doc_number,omitempty"`
	HolderName    *string        `json:"holder_name,omitempty"`
	Description   string         `json:"description"`
	Location      *Location      `json:"location,omitempty"`
	LocationLabel string         `json:"location_label,omitempty"`
	ImageURL      *string        `json:"image_url,omitempty"`
	Status        DocumentStatus `json:"status"`
	ReturnedBy    *uuid.UUID     `json:"returned_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type CreateDocumentParams struct {
	OwnerID       uuid.UUID
	Kind          DocumentKind
	DocType       DocumentType
	DocNumber     *string
	HolderName    *string
	Description   string
	Location      *Location
	LocationLabel string
}

// DocumentFilter narrows ListOpenDocuments. Zero fields do not filter.
type DocumentFilter struct {
	Kind    DocumentKind
	DocType DocumentType
	Bounds  *BoundingBox
	Limit   int
}

type DocumentRepository interface {
	CreateDocument(ctx context.Context, params CreateDocumentParams) (*Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListOpenDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error)
	MarkDocumentReturned(ctx context.Context, id uuid.UUID, returnedBy *uuid.UUID) (*Document, error)
	SetDocumentImage(ctx context.Context, id uuid.UUID, imageURL string) (*Document, error)
}

// MatchKind tells how two reports were matched.
type MatchKind string

const (
	MatchNone      MatchKind = ""
	MatchNumber    MatchKind = "document_number"
	MatchProximity MatchKind = "proximity"
)

// DocumentMatch is a candidate report that probably describes the same document.
type DocumentMatch struct {
	Document      *Document `json:"document"`
	Kind          MatchKind `json:"kind"`
	DistanceKm    *float64  `json:"distance_km,omitempty"`
	DistanceLabel string    `json:"distance_label,omitempty"`
}

// MatchDocuments compares a lost and a found report. Identical document
// numbers match regardless of distance; otherwise the holder names must agree
// and both reports must lie within radiusKm of each other.
func MatchDocuments(a, b *Document, radiusKm float64) DocumentMatch {
	match := DocumentMatch{Document: b}
	if a.Kind == b.Kind || a.DocType != b.DocType || a.OwnerID == b.OwnerID {
		return match
	}

	if a.Location != nil && b.Location != nil {
		d := a.Location.DistanceTo(*b.Location)
		match.DistanceKm = &d
		match.DistanceLabel = FormatDistance(d)
	}

	if n := normalizeDocNumber(a.DocNumber); n != "" && n == normalizeDocNumber(b.DocNumber) {
		match.Kind = MatchNumber
		return match
	}

	if h := normalizeName(a.HolderName); h != "" && h == normalizeName(b.HolderName) &&
		match.DistanceKm != nil && *match.DistanceKm <= radiusKm {
		match.Kind = MatchProximity
	}
	return match
}

func normalizeDocNumber(s *string) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range *s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func normalizeName(s *string) string {
	if s == nil {
		return ""
	}
	return strings.Join(strings.Fields(strings.ToLower(*s)), " ")
}
