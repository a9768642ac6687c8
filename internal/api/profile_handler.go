package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/internal/middleware"
	"github.com/findmydocs/backend/pkg/response"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxProfileBatch = 100

type ProfileHandler struct {
	resolver ProfileResolver
	profiles ProfileReader
	ranks    domain.RankTable
	logger   *zap.Logger
}

func NewProfileHandler(resolver ProfileResolver, profiles ProfileReader, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		resolver: resolver,
		profiles: profiles,
		ranks:    domain.DefaultRankTable,
		logger:   logger,
	}
}

// GetProfiles resolves display names for ?ids=a,b,c. Every requested ID is
// present in the result.
func (h *ProfileHandler) GetProfiles(w http.ResponseWriter, r *http.Request) {
	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			response.BadRequest(w, "invalid id: "+s)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) > maxProfileBatch {
		response.BadRequest(w, "too many ids")
		return
	}

	resolved := h.resolver.Resolve(r.Context(), ids)
	out := make(map[string]domain.DisplayProfile, len(resolved))
	for id, p := range resolved {
		out[id.String()] = p
	}

	response.OK(w, out)
}

// GetRank computes rank info for ?points=N
func (h *ProfileHandler) GetRank(w http.ResponseWriter, r *http.Request) {
	points, err := strconv.Atoi(r.URL.Query().Get("points"))
	if err != nil {
		response.BadRequest(w, "points must be an integer")
		return
	}

	response.OK(w, h.ranks.Info(points))
}

// GetTiers returns the tier table
func (h *ProfileHandler) GetTiers(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.ranks)
}

// GetMyRank returns the caller's rank. Users without a profile have no points.
func (h *ProfileHandler) GetMyRank(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	points := 0
	profile, err := h.profiles.GetProfile(r.Context(), userID)
	switch {
	case err == nil:
		points = profile.Points
	case errors.Is(err, domain.ErrNotFound):
	default:
		h.logger.Error("failed to get profile", zap.Error(err))
		response.InternalError(w, "failed to get rank")
		return
	}

	response.OK(w, h.ranks.Info(points))
}

type meResponse struct {
	ID      uuid.UUID             `json:"id"`
	Email   string                `json:"email,omitempty"`
	Profile domain.DisplayProfile `json:"profile"`
}

// Me returns the authenticated user
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.CurrentUser(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	profile := h.resolver.ResolveOne(r.Context(), user.ID)
	if profile.DisplayName == domain.FallbackDisplayName(user.ID) {
		if name := user.DisplayName(); name != "" {
			profile.DisplayName = name
		}
	}

	response.OK(w, meResponse{ID: user.ID, Email: user.Email, Profile: profile})
}
