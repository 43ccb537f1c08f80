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

const tokensCollection = "tokens"

type TokenRepository struct {
	coll *mongo.Collection
}

func NewTokenRepository(db *mongo.Database) *TokenRepository {
	return &TokenRepository{coll: db.Collection(tokensCollection)}
}

// tokenDoc keeps a normalized copy of the value for case-insensitive lookups
// and an explicit open flag for the one-open-token-per-type index.
type tokenDoc struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"user_id"`
	Type        string     `bson:"type"`
	Value       string     `bson:"value"`
	Key         string     `bson:"token_key"`
	Open        bool       `bson:"open"`
	CreatedAt   time.Time  `bson:"created_at"`
	ConfirmedAt *time.Time `bson:"confirmed_at,omitempty"`
	UsedAt      *time.Time `bson:"used_at,omitempty"`
}

func toTokenDoc(t *domain.Token) tokenDoc {
	return tokenDoc{
		ID:          t.ID,
		UserID:      t.UserID,
		Type:        string(t.Type),
		Value:       t.Value,
		Key:         domain.NormalizeTokenValue(t.Value),
		Open:        t.Open(),
		CreatedAt:   t.CreatedAt.UTC(),
		ConfirmedAt: t.ConfirmedAt,
		UsedAt:      t.UsedAt,
	}
}

func (d tokenDoc) toDomain() *domain.Token {
	t := &domain.Token{
		ID:        d.ID,
		UserID:    d.UserID,
		Type:      domain.TokenType(d.Type),
		Value:     d.Value,
		CreatedAt: d.CreatedAt.UTC(),
	}
	if d.ConfirmedAt != nil {
		at := d.ConfirmedAt.UTC()
		t.ConfirmedAt = &at
	}
	if d.UsedAt != nil {
		at := d.UsedAt.UTC()
		t.UsedAt = &at
	}
	return t
}

// Create inserts a token. A clash on the value or on the open-token index maps
// to domain.ErrConflict.
func (r *TokenRepository) Create(ctx context.Context, token *domain.Token) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, toTokenDoc(token)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *TokenRepository) FindOpen(ctx context.Context, value string, typ domain.TokenType) (*domain.Token, error) {
	return r.findOne(ctx, bson.M{"token_key": value, "type": string(typ), "open": true}, nil)
}

func (r *TokenRepository) FindLatest(ctx context.Context, userID string, typ domain.TokenType) (*domain.Token, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.findOne(ctx, bson.M{"user_id": userID, "type": string(typ)}, opts)
}

func (r *TokenRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*domain.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var findOpts []*options.FindOneOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}

	var doc tokenDoc
	if err := r.coll.FindOne(ctx, filter, findOpts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *TokenRepository) CloseOpen(ctx context.Context, userID string, typ domain.TokenType, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.coll.UpdateMany(ctx,
		bson.M{"user_id": userID, "type": string(typ), "open": true},
		bson.M{"$set": bson.M{"open": false, "used_at": at.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("close open tokens: %w", err)
	}
	return res.ModifiedCount, nil
}

// MarkConfirmed only matches an open, unconfirmed token; losing a race maps
// to domain.ErrAlreadyUsed.
func (r *TokenRepository) MarkConfirmed(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "open": true, "confirmed_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"confirmed_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("confirm token: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrAlreadyUsed
	}
	return nil
}

// MarkUsed closes an open token, stamping confirmed_at too when it was never
// confirmed.
func (r *TokenRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	at = at.UTC()
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "open", Value: false},
			{Key: "used_at", Value: at},
			{Key: "confirmed_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$confirmed_at", at}}}},
		}}},
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id, "open": true}, update)
	if err != nil {
		return fmt.Errorf("use token: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrAlreadyUsed
	}
	return nil
}

// EnsureIndexes creates the value, open-token and latest-token indexes.
func (r *TokenRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_key", Value: 1}},
			Options: options.Index().SetName("uniq_token_key").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().
				SetName("uniq_open_token_per_type").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"open": true}),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("latest_token"),
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexes)
	return err
}
