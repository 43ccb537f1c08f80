package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/elysion/user-service/internal/core/domain"
)

const (
	filtersCollection     = "sustainability_filters"
	preferencesCollection = "user_preferences"
)

type filterDoc struct {
	ID          string `bson:"_id"`
	Key         string `bson:"key"`
	Label       string `bson:"label"`
	Icon        string `bson:"icon"`
	Description string `bson:"description"`
	Examples    string `bson:"examples"`
}

func (d filterDoc) toDomain() domain.SustainabilityFilter {
	return domain.SustainabilityFilter{
		ID:          d.ID,
		Key:         d.Key,
		Label:       d.Label,
		Icon:        d.Icon,
		Description: d.Description,
		Examples:    d.Examples,
	}
}

// FilterRepository reads the sustainability_filters collection.
type FilterRepository struct {
	coll *mongo.Collection
}

func NewFilterRepository(db *mongo.Database) *FilterRepository {
	return &FilterRepository{coll: db.Collection(filtersCollection)}
}

func (r *FilterRepository) List(ctx context.Context) ([]domain.SustainabilityFilter, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find filters: %w", err)
	}
	var docs []filterDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode filters: %w", err)
	}

	out := make([]domain.SustainabilityFilter, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *FilterRepository) FindByKey(ctx context.Context, key string) (*domain.SustainabilityFilter, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc filterDoc
	if err := r.coll.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUnknownFilter
		}
		return nil, fmt.Errorf("find filter: %w", err)
	}
	f := doc.toDomain()
	return &f, nil
}

// Seed inserts the filters that are missing and leaves existing ones alone.
func (r *FilterRepository) Seed(ctx context.Context, filters []domain.SustainabilityFilter) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, f := range filters {
		doc := filterDoc{ID: f.ID, Key: f.Key, Label: f.Label, Icon: f.Icon, Description: f.Description, Examples: f.Examples}
		_, err := r.coll.UpdateOne(ctx,
			bson.M{"key": f.Key},
			bson.M{"$setOnInsert": doc},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("seed filter %s: %w", f.Key, err)
		}
	}
	return nil
}

func (r *FilterRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetName("uniq_filter_key").SetUnique(true),
	})
	return err
}

type preferenceDoc struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	FilterKey  string    `bson:"filter_key"`
	Importance string    `bson:"importance"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d preferenceDoc) toDomain() domain.Preference {
	return domain.Preference{
		UserID:     d.UserID,
		FilterKey:  d.FilterKey,
		Importance: domain.Importance(d.Importance),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

// preferenceID is deterministic so a retried upsert hits the same document.
func preferenceID(userID, filterKey string) string {
	return userID + "/" + filterKey
}

// PreferenceRepository stores one document per (user, filter key).
type PreferenceRepository struct {
	coll *mongo.Collection
}

func NewPreferenceRepository(db *mongo.Database) *PreferenceRepository {
	return &PreferenceRepository{coll: db.Collection(preferencesCollection)}
}

func (r *PreferenceRepository) ListByUser(ctx context.Context, userID string) ([]domain.Preference, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "filter_key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find preferences: %w", err)
	}
	var docs []preferenceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}

	out := make([]domain.Preference, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *PreferenceRepository) Find(ctx context.Context, userID, filterKey string) (*domain.Preference, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc preferenceDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": preferenceID(userID, filterKey)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("find preference: %w", err)
	}
	p := doc.toDomain()
	return &p, nil
}

func (r *PreferenceRepository) Upsert(ctx context.Context, pref *domain.Preference) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": preferenceID(pref.UserID, pref.FilterKey)},
		bson.M{
			"$set": bson.M{
				"importance": string(pref.Importance),
				"updated_at": pref.UpdatedAt.UTC(),
			},
			"$setOnInsert": bson.M{
				"user_id":    pref.UserID,
				"filter_key": pref.FilterKey,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r *PreferenceRepository) Delete(ctx context.Context, userID, filterKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": preferenceID(userID, filterKey)})
	if err != nil {
		return false, fmt.Errorf("delete preference: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (r *PreferenceRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "filter_key", Value: 1}},
		Options: options.Index().SetName("uniq_user_filter").SetUnique(true),
	})
	return err
}
