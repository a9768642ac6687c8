package repository

import (
	"context"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetProfilesByIDs returns the profiles that exist among ids
func (r *PostgresRepository) GetProfilesByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.UserProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, display_name, avatar_url, points
		FROM profiles
		WHERE id = ANY($1::uuid[])
	`
	rows, err := r.db.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// GetProfile retrieves one profile
func (r *PostgresRepository) GetProfile(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error) {
	query := `SELECT id, display_name, avatar_url, points FROM profiles WHERE id = $1`
	return scanProfile(r.db.QueryRow(ctx, query, id))
}

// AddPoints adjusts a user's point total, flooring at zero. Users without a
// profile row get one.
func (r *PostgresRepository) AddPoints(ctx context.Context, userID uuid.UUID, delta int) (int, error) {
	query := `
		INSERT INTO profiles (id, display_name, points)
		VALUES ($1, '', GREATEST($2, 0))
		ON CONFLICT (id) DO UPDATE
		SET points = GREATEST(profiles.points + $2, 0), updated_at = NOW()
		RETURNING points
	`
	var points int
	if err := r.db.QueryRow(ctx, query, userID, delta).Scan(&points); err != nil {
		return 0, err
	}
	return points, nil
}

func scanProfile(row pgx.Row) (*domain.UserProfile, error) {
	var p domain.UserProfile
	var name *string
	if err := row.Scan(&p.ID, &name, &p.AvatarURL, &p.Points); err != nil {
		return nil, notFound(err)
	}
	if name != nil {
		p.DisplayName = *name
	}
	return &p, nil
}
