package domain

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/findmydocs/backend/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Points awarded for helping documents find their way home.
const (
	PointsFoundReport      = 10
	PointsDocumentReturned = 50
)

const (
	DefaultMatchRadiusKm  = 25.0
	DefaultNearbyRadiusKm = 5.0
	maxNearbyRadiusKm     = 200.0
	matchCandidateLimit   = 200
)

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type DocumentService struct {
	repo          DocumentRepository
	profiles      ProfileRepository
	notifier      *NotificationService
	storage       storage.FileStorage
	ranks         RankTable
	matchRadiusKm float64
	logger        *zap.Logger
}

func NewDocumentService(
	repo DocumentRepository,
	profiles ProfileRepository,
	notifier *NotificationService,
	fileStorage storage.FileStorage,
	matchRadiusKm float64,
	logger *zap.Logger,
) *DocumentService {
	if matchRadiusKm <= 0 {
		matchRadiusKm = DefaultMatchRadiusKm
	}
	return &DocumentService{
		repo:          repo,
		profiles:      profiles,
		notifier:      notifier,
		storage:       fileStorage,
		ranks:         DefaultRankTable,
		matchRadiusKm: matchRadiusKm,
		logger:        logger,
	}
}

// ReportResult is a new report together with the reports it matched.
type ReportResult struct {
	Document *Document        `json:"document"`
	Matches  []*DocumentMatch `json:"matches"`
}

// Report files a lost or found report. Found reports earn the reporter points.
// Matching reports of the opposite kind are returned and their owners, or the
// reporter for a lost report, are notified.
func (s *DocumentService) Report(ctx context.Context, params CreateDocumentParams) (*ReportResult, error) {
	if err := validateDocument(params); err != nil {
		return nil, err
	}

	doc, err := s.repo.CreateDocument(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	if doc.Kind == DocumentFound {
		s.awardPoints(ctx, doc.OwnerID, PointsFoundReport, "reporting a found document")
	}

	matches, err := s.findMatches(ctx, doc)
	if err != nil {
		// the report itself succeeded
		s.logger.Warn("document matching failed", zap.String("document_id", doc.ID.String()), zap.Error(err))
		matches = nil
	}
	for _, m := range matches {
		s.notifyMatch(ctx, doc, m)
	}

	return &ReportResult{Document: doc, Matches: matches}, nil
}

// GetDocument returns a report by ID.
func (s *DocumentService) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetDocument(ctx, id)
}

// NearbyQuery selects open reports around a point.
type NearbyQuery struct {
	Center   Location
	RadiusKm float64
	Kind     DocumentKind
	Limit    int
}

// NearbyDocument is a report with its distance from the query point.
type NearbyDocument struct {
	*Document
	DistanceKm    float64 `json:"distance_km"`
	DistanceLabel string  `json:"distance_label"`
}

// Nearby returns open reports within the radius, closest first.
func (s *DocumentService) Nearby(ctx context.Context, q NearbyQuery) ([]*NearbyDocument, error) {
	if !q.Center.Valid() {
		return nil, fmt.Errorf("%w: location out of range", ErrInvalidInput)
	}
	if q.RadiusKm <= 0 {
		q.RadiusKm = DefaultNearbyRadiusKm
	}
	q.RadiusKm = min(q.RadiusKm, maxNearbyRadiusKm)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 50
	}

	box := BoundingBoxAround(q.Center, q.RadiusKm)
	docs, err := s.repo.ListOpenDocuments(ctx, DocumentFilter{Kind: q.Kind, Bounds: &box})
	if err != nil {
		return nil, fmt.Errorf("list nearby documents: %w", err)
	}

	nearby := make([]*NearbyDocument, 0, len(docs))
	for _, d := range docs {
		if d.Location == nil {
			continue
		}
		dist := q.Center.DistanceTo(*d.Location)
		if dist > q.RadiusKm {
			continue
		}
		nearby = append(nearby, &NearbyDocument{
			Document:      d,
			DistanceKm:    dist,
			DistanceLabel: FormatDistance(dist),
		})
	}
	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].DistanceKm < nearby[j].DistanceKm
	})
	if len(nearby) > q.Limit {
		nearby = nearby[:q.Limit]
	}
	return nearby, nil
}

// MarkReturned closes one of the owner's open reports. For a lost report,
// finderDocumentID may name the open found report that led to the return; that
// report is closed too and its reporter earns points.
func (s *DocumentService) MarkReturned(ctx context.Context, userID, documentID uuid.UUID, finderDocumentID *uuid.UUID) (*Document, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userID {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrForbidden)
	}
	if doc.Status != DocumentStatusOpen {
		return nil, fmt.Errorf("%w: document is %s", ErrConflict, doc.Status)
	}

	var finder *Document
	if finderDocumentID != nil {
		if doc.Kind != DocumentLost {
			return nil, fmt.Errorf("%w: only a lost report can name a finder", ErrInvalidInput)
		}
		finder, err = s.repo.GetDocument(ctx, *finderDocumentID)
		if err != nil {
			return nil, err
		}
		if finder.Kind != DocumentFound || finder.DocType != doc.DocType {
			return nil, fmt.Errorf("%w: finder report does not describe this document", ErrInvalidInput)
		}
		if finder.OwnerID == userID {
			return nil, fmt.Errorf("%w: cannot credit yourself", ErrInvalidInput)
		}
		if finder.Status != DocumentStatusOpen {
			return nil, fmt.Errorf("%w: finder report is %s", ErrConflict, finder.Status)
		}
	}

	var returnedBy *uuid.UUID
	if finder != nil {
		returnedBy = &finder.OwnerID
	}
	updated, err := s.repo.MarkDocumentReturned(ctx, doc.ID, returnedBy)
	if err != nil {
		return nil, fmt.Errorf("mark document returned: %w", err)
	}

	if finder != nil {
		// a found report pays out only when this call closes it
		if _, err := s.repo.MarkDocumentReturned(ctx, finder.ID, returnedBy); err != nil {
			s.logger.Warn("failed to close finder report", zap.String("document_id", finder.ID.String()), zap.Error(err))
			return updated, nil
		}
		s.awardPoints(ctx, finder.OwnerID, PointsDocumentReturned, "returning a document")
	}
	return updated, nil
}

// AttachImage stores a photo of the document and records its URL.
func (s *DocumentService) AttachImage(ctx context.Context, userID, documentID uuid.UUID, file io.Reader, filename, contentType string) (*Document, error) {
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported image type %q", ErrInvalidInput, contentType)
	}
	if s.storage == nil {
		return nil, fmt.Errorf("%w: image storage is not configured", ErrConflict)
	}

	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userID {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrForbidden)
	}

	if e := strings.ToLower(filepath.Ext(filename)); e != "" {
		ext = e
	}
	key := fmt.Sprintf("documents/%s/%s%s", doc.ID, uuid.New(), ext)
	url, err := s.storage.SaveFile(ctx, key, file, contentType)
	if err != nil {
		return nil, fmt.Errorf("store document image: %w", err)
	}

	updated, err := s.repo.SetDocumentImage(ctx, doc.ID, url)
	if err != nil {
		if delErr := s.storage.DeleteFile(ctx, url); delErr != nil {
			s.logger.Warn("failed to remove orphaned image", zap.String("url", url), zap.Error(delErr))
		}
		return nil, fmt.Errorf("record document image: %w", err)
	}
	return updated, nil
}

func (s *DocumentService) findMatches(ctx context.Context, doc *Document) ([]*DocumentMatch, error) {
	candidates, err := s.repo.ListOpenDocuments(ctx, DocumentFilter{
		Kind:    doc.Kind.Opposite(),
		DocType: doc.DocType,
		Limit:   matchCandidateLimit,
	})
	if err != nil {
		return nil, err
	}

	var matches []*DocumentMatch
	for _, c := range candidates {
		m := MatchDocuments(doc, c, s.matchRadiusKm)
		if m.Kind != MatchNone {
			matches = append(matches, &m)
		}
	}
	return matches, nil
}

// notifyMatch tells the owner of the lost report about the found one.
func (s *DocumentService) notifyMatch(ctx context.Context, doc *Document, m *DocumentMatch) {
	if s.notifier == nil {
		return
	}

	lost, found := doc, m.Document
	if doc.Kind == DocumentFound {
		lost, found = m.Document, doc
	}

	msg := fmt.Sprintf("A found %s may be yours.", humanDocType(found.DocType))
	notifType := NotificationDocumentMatch
	if m.Kind == MatchProximity {
		notifType = NotificationProximityAlert
	}
	if m.DistanceLabel != "" {
		msg = fmt.Sprintf("A found %s was reported %s from where you lost yours.", humanDocType(found.DocType), m.DistanceLabel)
	}

	actionURL := "/documents/" + found.ID.String()
	_, err := s.notifier.SendNotification(ctx, CreateNotificationParams{
		UserID:    lost.OwnerID,
		Type:      notifType,
		Title:     "Possible match for your document",
		Message:   msg,
		ActionURL: &actionURL,
		Metadata: Map{
			"lost_document_id":  lost.ID.String(),
			"found_document_id": found.ID.String(),
			"match":             string(m.Kind),
		},
	})
	if err != nil {
		s.logger.Warn("failed to send match notification", zap.String("document_id", doc.ID.String()), zap.Error(err))
	}
}

// awardPoints adds points and tells the user, mentioning a new rank when one
// is reached. Failures are logged only.
func (s *DocumentService) awardPoints(ctx context.Context, userID uuid.UUID, points int, reason string) {
	total, err := s.profiles.AddPoints(ctx, userID, points)
	if err != nil {
		s.logger.Warn("failed to award points", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if s.notifier == nil {
		return
	}

	msg := fmt.Sprintf("You earned %d points for %s.", points, reason)
	before, after := s.ranks.Current(total-points), s.ranks.Current(total)
	if after.Name != before.Name {
		msg += fmt.Sprintf(" You reached %s rank!", after.Name)
	}

	if _, err := s.notifier.SendNotification(ctx, CreateNotificationParams{
		UserID:  userID,
		Type:    NotificationPointsAwarded,
		Title:   fmt.Sprintf("+%d points", points),
		Message: msg,
		Metadata: Map{
			"points": total,
			"tier":   after.Name,
		},
	}); err != nil {
		s.logger.Warn("failed to send points notification", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func validateDocument(p CreateDocumentParams) error {
	switch p.Kind {
	case DocumentLost, DocumentFound:
	default:
		return fmt.Errorf("%w: unknown report kind %q", ErrInvalidInput, p.Kind)
	}
	switch p.DocType {
	case DocumentIDCard, DocumentPassport, DocumentDriversLicense, DocumentOther:
	default:
		return fmt.Errorf("%w: unknown document type %q", ErrInvalidInput, p.DocType)
	}
	if p.Location != nil && !p.Location.Valid() {
		return fmt.Errorf("%w: location out of range", ErrInvalidInput)
	}
	if p.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	return nil
}

func humanDocType(t DocumentType) string {
	switch t {
	case DocumentIDCard:
		return "ID card"
	case DocumentPassport:
		return "passport"
	case DocumentDriversLicense:
		return "driver's license"
	default:
		return "document"
	}
}
