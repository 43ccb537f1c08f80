package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/elysion/user-service/internal/core/domain"
)

const filterColumns = `id, filter_key, label, icon, description, examples`

// FilterRepository implements ports.FilterRepository. The catalogue is seeded
// by migration 00003.
type FilterRepository struct {
	store *Store
}

func (r *FilterRepository) List(ctx context.Context) ([]domain.SustainabilityFilter, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, `SELECT `+filterColumns+` FROM sustainability_filters ORDER BY filter_key`)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	defer rows.Close()

	var out []domain.SustainabilityFilter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (r *FilterRepository) FindByKey(ctx context.Context, key string) (*domain.SustainabilityFilter, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx, `SELECT `+filterColumns+` FROM sustainability_filters WHERE filter_key = $1`, key)
	f, err := scanFilter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUnknownFilter
		}
		return nil, fmt.Errorf("find filter: %w", err)
	}
	return f, nil
}

func scanFilter(row rowScanner) (*domain.SustainabilityFilter, error) {
	var f domain.SustainabilityFilter
	if err := row.Scan(&f.ID, &f.Key, &f.Label, &f.Icon, &f.Description, &f.Examples); err != nil {
		return nil, err
	}
	return &f, nil
}

// PreferenceRepository implements ports.PreferenceRepository.
type PreferenceRepository struct {
	store *Store
}

func (r *PreferenceRepository) ListByUser(ctx context.Context, userID string) ([]domain.Preference, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT user_id, filter_key, importance, updated_at
		FROM user_preferences
		WHERE user_id = $1
		ORDER BY filter_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var out []domain.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PreferenceRepository) Find(ctx context.Context, userID, filterKey string) (*domain.Preference, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT user_id, filter_key, importance, updated_at
		FROM user_preferences
		WHERE user_id = $1 AND filter_key = $2`, userID, filterKey)
	p, err := scanPreference(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("find preference: %w", err)
	}
	return p, nil
}

func (r *PreferenceRepository) Upsert(ctx context.Context, pref *domain.Preference) error {
	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, filter_key, importance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, filter_key)
		DO UPDATE SET importance = EXCLUDED.importance, updated_at = EXCLUDED.updated_at`,
		pref.UserID, pref.FilterKey, string(pref.Importance), pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r *PreferenceRepository) Delete(ctx context.Context, userID, filterKey string) (bool, error) {
	res, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM user_preferences WHERE user_id = $1 AND filter_key = $2`, userID, filterKey)
	if err != nil {
		return false, fmt.Errorf("delete preference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete preference: %w", err)
	}
	return n > 0, nil
}

func scanPreference(row rowScanner) (*domain.Preference, error) {
	var (
		p          domain.Preference
		importance string
	)
	if err := row.Scan(&p.UserID, &p.FilterKey, &importance, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Importance = domain.Importance(importance)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
