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

const usersCollection = "users"

type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(usersCollection)}
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	PendingEmail *string   `bson:"pending_email,omitempty"`
	PasswordHash string    `bson:"password_hash"`
	PasswordSalt string    `bson:"password_salt"`
	Role         string    `bson:"role"`
	Active       bool      `bson:"active"`
	FirstName    string    `bson:"first_name,omitempty"`
	LastName     string    `bson:"last_name,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`

	// ClaimedEmails holds the primary and pending addresses. Its unique
	// multikey index keeps one user's pending address off every other
	// user's primary or pending address.
	ClaimedEmails []string `bson:"claimed_emails"`
}

func claimedEmails(u *domain.User) []string {
	claims := []string{u.Email}
	if u.PendingEmail != nil && *u.PendingEmail != u.Email {
		claims = append(claims, *u.PendingEmail)
	}
	return claims
}

func toUserDoc(u *domain.User) userDoc {
	return userDoc{
		ID:           u.ID,
		Email:        u.Email,
		PendingEmail: u.PendingEmail,
		PasswordHash: u.PasswordHash,
		PasswordSalt: u.PasswordSalt,
		Role:         string(u.Role),
		Active:       u.Active,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),

		ClaimedEmails: claimedEmails(u),
	}
}

func (d userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:           d.ID,
		Email:        d.Email,
		PendingEmail: d.PendingEmail,
		PasswordHash: d.PasswordHash,
		PasswordSalt: d.PasswordSalt,
		Role:         domain.Role(d.Role),
		Active:       d.Active,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// Create inserts a user. An address already claimed by another user maps to
// domain.ErrEmailInUse.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrEmailInUse
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) FindByPendingEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"pending_email": email})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

// Update replaces the stored user. Clearing PendingEmail removes the field and
// releases its claim.
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": user.ID}, toUserDoc(user))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrEmailInUse
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// EnsureIndexes creates the unique indexes on email, pending email and the
// combined address claims.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_email").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "pending_email", Value: 1}},
			Options: options.Index().
				SetName("uniq_pending_email").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"pending_email": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "claimed_emails", Value: 1}},
			Options: options.Index().SetName("uniq_claimed_emails").SetUnique(true),
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexes)
	return err
}
