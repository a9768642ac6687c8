package domain

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// UserProfile is the account owned public profile. This service only reads it,
// except for the points counter.
type UserProfile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Points      int       `json:"points"`
}

// DisplayProfile is what the UI renders for a participant.
type DisplayProfile struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ProfileRepository reads profiles and maintains point totals.
type ProfileRepository interface {
	GetProfilesByIDs(ctx context.Context, ids []uuid.UUID) ([]*UserProfile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*UserProfile, error)
	// AddPoints adds delta to the user's total, never going below zero, and
	// returns the new total.
	AddPoints(ctx context.Context, userID uuid.UUID, delta int) (int, error)
}

// FallbackDisplayName is the placeholder for users without a resolvable profile.
func FallbackDisplayName(id uuid.UUID) string {
	s := id.String()
	return "User " + s[len(s)-4:]
}

func fallbackProfile(id uuid.UUID) DisplayProfile {
	return DisplayProfile{DisplayName: FallbackDisplayName(id)}
}

type cachedProfile struct {
	profile   DisplayProfile
	expiresAt time.Time
}

// ProfileResolver batch-resolves display profiles with a TTL cache. It never
// fails: IDs it cannot resolve get a fallback name.
type ProfileResolver struct {
	repo   ProfileRepository
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]cachedProfile
	group singleflight.Group
	now   func() time.Time
}

// NewProfileResolver creates a resolver. A non-positive ttl disables caching.
func NewProfileResolver(repo ProfileRepository, ttl time.Duration, logger *zap.Logger) *ProfileResolver {
	return &ProfileResolver{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[uuid.UUID]cachedProfile),
		now:    time.Now,
	}
}

// Resolve returns one display profile for every requested ID.
func (r *ProfileResolver) Resolve(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]DisplayProfile {
	result := make(map[uuid.UUID]DisplayProfile, len(ids))
	missing := r.fromCache(ids, result)
	if len(missing) == 0 {
		return result
	}

	profiles, err := r.lookup(ctx, missing)
	if err != nil {
		r.logger.Warn("profile lookup failed, using fallback names",
			zap.Int("count", len(missing)),
			zap.Error(err),
		)
		for _, id := range missing {
			result[id] = fallbackProfile(id)
		}
		return result
	}

	found := make(map[uuid.UUID]DisplayProfile, len(profiles))
	for _, p := range profiles {
		if p == nil {
			continue
		}
		dp := DisplayProfile{DisplayName: strings.TrimSpace(p.DisplayName)}
		if dp.DisplayName == "" {
			dp.DisplayName = FallbackDisplayName(p.ID)
		}
		if p.AvatarURL != nil {
			dp.AvatarURL = *p.AvatarURL
		}
		found[p.ID] = dp
	}
	r.store(found)

	for _, id := range missing {
		if dp, ok := found[id]; ok {
			result[id] = dp
		} else {
			result[id] = fallbackProfile(id)
		}
	}
	return result
}

// ResolveOne resolves a single user.
func (r *ProfileResolver) ResolveOne(ctx context.Context, id uuid.UUID) DisplayProfile {
	return r.Resolve(ctx, []uuid.UUID{id})[id]
}

// Invalidate drops a cached profile.
func (r *ProfileResolver) Invalidate(id uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// fromCache fills result with fresh cache entries and returns the deduplicated
// IDs that still need a lookup.
func (r *ProfileResolver) fromCache(ids []uuid.UUID, result map[uuid.UUID]DisplayProfile) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	seen := make(map[uuid.UUID]bool, len(ids))
	var missing []uuid.UUID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := r.cache[id]; ok && now.Before(c.expiresAt) {
			result[id] = c.profile
			continue
		}
		missing = append(missing, id)
	}
	return missing
}

func (r *ProfileResolver) store(found map[uuid.UUID]DisplayProfile) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	expiresAt := r.now().Add(r.ttl)
	for id, dp := range found {
		r.cache[id] = cachedProfile{profile: dp, expiresAt: expiresAt}
	}
}

// lookup coalesces concurrent batch lookups for the same ID set.
func (r *ProfileResolver) lookup(ctx context.Context, ids []uuid.UUID) ([]*UserProfile, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	sort.Strings(keys)

	v, err, _ := r.group.Do(strings.Join(keys, ","), func() (interface{}, error) {
		return r.repo.GetProfilesByIDs(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	profiles, _ := v.([]*UserProfile)
	return profiles, nil
}
