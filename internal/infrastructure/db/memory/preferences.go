package memory

import (
	"context"
	"sort"

	"github.com/elysion/user-service/internal/core/domain"
)

// FilterRepository serves a read-only catalogue.
type FilterRepository struct {
	filters []domain.SustainabilityFilter
}

func NewFilterRepository(filters []domain.SustainabilityFilter) *FilterRepository {
	sorted := append([]domain.SustainabilityFilter(nil), filters...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return &FilterRepository{filters: sorted}
}

func (r *FilterRepository) List(context.Context) ([]domain.SustainabilityFilter, error) {
	return append([]domain.SustainabilityFilter(nil), r.filters...), nil
}

func (r *FilterRepository) FindByKey(_ context.Context, key string) (*domain.SustainabilityFilter, error) {
	for _, f := range r.filters {
		if f.Key == key {
			found := f
			return &found, nil
		}
	}
	return nil, domain.ErrUnknownFilter
}

// PreferenceRepository is the in-memory ports.PreferenceRepository.
type PreferenceRepository struct {
	store *Store
}

func (r *PreferenceRepository) ListByUser(ctx context.Context, userID string) ([]domain.Preference, error) {
	var out []domain.Preference
	err := r.store.run(ctx, func(st *state) error {
		for _, p := range st.prefs[userID] {
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].FilterKey < out[j].FilterKey })
	return out, err
}

func (r *PreferenceRepository) Find(ctx context.Context, userID, filterKey string) (*domain.Preference, error) {
	var found *domain.Preference
	err := r.store.run(ctx, func(st *state) error {
		p, ok := st.prefs[userID][filterKey]
		if !ok {
			return domain.ErrPreferenceNotFound
		}
		found = &p
		return nil
	})
	return found, err
}

func (r *PreferenceRepository) Upsert(ctx context.Context, pref *domain.Preference) error {
	return r.store.run(ctx, func(st *state) error {
		if _, ok := st.users[pref.UserID]; !ok {
			return domain.ErrUserNotFound
		}
		byKey, ok := st.prefs[pref.UserID]
		if !ok {
			byKey = make(map[string]domain.Preference)
			st.prefs[pref.UserID] = byKey
		}
		byKey[pref.FilterKey] = *pref
		return nil
	})
}

func (r *PreferenceRepository) Delete(ctx context.Context, userID, filterKey string) (bool, error) {
	deleted := false
	err := r.store.run(ctx, func(st *state) error {
		if _, ok := st.prefs[userID][filterKey]; ok {
			delete(st.prefs[userID], filterKey)
			deleted = true
		}
		return nil
	})
	return deleted, err
}
