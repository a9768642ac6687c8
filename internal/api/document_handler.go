package api

import (
	"net/http"
	"strconv"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/internal/middleware"
	"github.com/findmydocs/backend/pkg/response"
	"github.com/findmydocs/backend/pkg/validator"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxImageUpload = 10 << 20

type DocumentHandler struct {
	documentService DocumentService
	logger          *zap.Logger
}

func NewDocumentHandler(documentService DocumentService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		logger:          logger,
	}
}

type reportDocumentRequest struct {
	Kind          string           `json:"kind" validate:"required,oneof=lost found"`
	DocType       string           `json:"doc_type" validate:"required,oneof=id_card passport drivers_license other"`
	DocNumber     *string          `json:"doc_number" validate:"omitempty,max=64"`
	HolderName    *string          `json:"holder_name" validate:"omitempty,max=120"`
	Description   string           `json:"description" validate:"max=1000"`
	Location      *domain.Location `json:"location"`
	LocationLabel string           `json:"location_label" validate:"max=200"`
}

// Report files a lost or found report and returns any matches
func (h *DocumentHandler) Report(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req reportDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.documentService.Report(r.Context(), domain.CreateDocumentParams{
		OwnerID:       userID,
		Kind:          domain.DocumentKind(req.Kind),
		DocType:       domain.DocumentType(req.DocType),
		DocNumber:     req.DocNumber,
		HolderName:    req.HolderName,
		Description:   validator.SanitizeString(req.Description, 1000),
		Location:      req.Location,
		LocationLabel: validator.SanitizeString(req.LocationLabel, 200),
	})
	if err != nil {
		respondError(w, h.logger, err, "failed to report document")
		return
	}

	response.Created(w, result)
}

// Nearby lists open reports around ?lat=&lng=, optionally within ?radius= km
// and of ?kind=
func (h *DocumentHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		response.BadRequest(w, "lat and lng are required")
		return
	}

	query := domain.NearbyQuery{Center: domain.Location{Lat: lat, Lng: lng}}
	if s := q.Get("radius"); s != "" {
		radius, err := strconv.ParseFloat(s, 64)
		if err != nil || radius <= 0 {
			response.BadRequest(w, "invalid radius")
			return
		}
		query.RadiusKm = radius
	}
	switch kind := domain.DocumentKind(q.Get("kind")); kind {
	case "", domain.DocumentLost, domain.DocumentFound:
		query.Kind = kind
	default:
		response.BadRequest(w, "invalid kind")
		return
	}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))

	docs, err := h.documentService.Nearby(r.Context(), query)
	if err != nil {
		respondError(w, h.logger, err, "failed to list nearby documents")
		return
	}
	if docs == nil {
		docs = []*domain.NearbyDocument{}
	}

	response.OK(w, docs)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid document id")
		return
	}

	doc, err := h.documentService.GetDocument(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err, "failed to get document")
		return
	}

	response.OK(w, doc)
}

// UploadImage attaches a photo to one of the caller's reports
func (h *DocumentHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid document id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload+(1<<20))
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		response.BadRequest(w, "invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "missing file")
		return
	}
	defer file.Close()

	doc, err := h.documentService.AttachImage(r.Context(), userID, id, file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		respondError(w, h.logger, err, "failed to upload image")
		return
	}

	response.OK(w, doc)
}

type markReturnedRequest struct {
	FinderDocumentID *string `json:"finder_document_id" validate:"omitempty,uuid"`
}

// MarkReturned closes a lost report, crediting the finder when named
func (h *DocumentHandler) MarkReturned(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid document id")
		return
	}

	var req markReturnedRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	finderID, err := parseUUIDPtr(req.FinderDocumentID)
	if err != nil {
		response.BadRequest(w, "invalid finder document id")
		return
	}

	doc, err := h.documentService.MarkReturned(r.Context(), userID, id, finderID)
	if err != nil {
		respondError(w, h.logger, err, "failed to mark document returned")
		return
	}

	response.OK(w, doc)
}
