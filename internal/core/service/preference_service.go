package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

// PreferenceService serves the filter catalogue and the importance each user
// gives the filters in it.
type PreferenceService struct {
	store ports.Store
	clock ports.Clock
	log   zerolog.Logger
}

func NewPreferenceService(store ports.Store, clock ports.Clock, log zerolog.Logger) *PreferenceService {
	if clock == nil {
		clock = ports.SystemClock
	}
	return &PreferenceService{store: store, clock: clock, log: log}
}

var _ ports.PreferenceService = (*PreferenceService)(nil)

// Filters lists the catalogue.
func (s *PreferenceService) Filters(ctx context.Context) (filters []domain.SustainabilityFilter, err error) {
	defer observeOperation("list_filters", time.Now(), &err)

	filters, err = s.store.Filters().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	return filters, nil
}

// Preferences lists every preference the user has set.
func (s *PreferenceService) Preferences(ctx context.Context, userID string) (prefs []domain.Preference, err error) {
	defer observeOperation("list_preferences", time.Now(), &err)

	if _, err := s.store.Users().FindByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	prefs, err = s.store.Preferences().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return prefs, nil
}

// PreferenceMap returns the user's preferences keyed by filter key.
func (s *PreferenceService) PreferenceMap(ctx context.Context, userID string) (map[string]domain.Importance, error) {
	prefs, err := s.Preferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Importance, len(prefs))
	for _, p := range prefs {
		out[p.FilterKey] = p.Importance
	}
	return out, nil
}

// Preference returns the user's preference for one filter. An unknown filter
// has no preference.
func (s *PreferenceService) Preference(ctx context.Context, userID, filterKey string) (pref *domain.Preference, err error) {
	defer observeOperation("get_preference", time.Now(), &err)

	filterKey = strings.TrimSpace(filterKey)
	if filterKey == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, err := s.store.Users().FindByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	pref, err = s.store.Preferences().Find(ctx, userID, filterKey)
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return pref, nil
}

// SetPreference creates or overwrites the importance of one filter.
func (s *PreferenceService) SetPreference(ctx context.Context, userID, filterKey string, importance domain.Importance) (pref *domain.Preference, err error) {
	defer observeOperation("set_preference", time.Now(), &err)

	filterKey = strings.TrimSpace(filterKey)
	if filterKey == "" || !importance.Valid() {
		return nil, domain.ErrInvalidInput
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.Users().FindByID(ctx, userID); err != nil {
			return err
		}
		if _, err := s.store.Filters().FindByKey(ctx, filterKey); err != nil {
			return err
		}
		p := &domain.Preference{
			UserID:     userID,
			FilterKey:  filterKey,
			Importance: importance,
			UpdatedAt:  s.clock.Now(ctx),
		}
		if err := s.store.Preferences().Upsert(ctx, p); err != nil {
			return err
		}
		pref = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set preference: %w", err)
	}

	s.log.Info().Str("user_id", userID).Str("filter_key", filterKey).Str("importance", string(importance)).Msg("preference set")
	return pref, nil
}

// RemovePreference deletes the user's preference for one filter, or returns
// domain.ErrPreferenceNotFound when there was none.
func (s *PreferenceService) RemovePreference(ctx context.Context, userID, filterKey string) (err error) {
	defer observeOperation("remove_preference", time.Now(), &err)

	filterKey = strings.TrimSpace(filterKey)
	if filterKey == "" {
		return domain.ErrInvalidInput
	}

	deleted, err := s.store.Preferences().Delete(ctx, userID, filterKey)
	if err != nil {
		return fmt.Errorf("remove preference: %w", err)
	}
	if !deleted {
		return domain.ErrPreferenceNotFound
	}
	return nil
}
