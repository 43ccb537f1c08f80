package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/elysion/user-service/internal/core/domain"
)

const auditCollection = "audit_log"

// AuditRepository appends privileged changes to the audit_log collection.
type AuditRepository struct {
	coll *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{coll: db.Collection(auditCollection)}
}

// Insert persists one audit record.
func (r *AuditRepository) Insert(ctx context.Context, rec *domain.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := bson.M{
		"_id":       rec.ID,
		"actor_id":  rec.ActorID,
		"target_id": rec.TargetID,
		"action":    string(rec.Action),
		"from_role": string(rec.FromRole),
		"to_role":   string(rec.ToRole),
		"at":        rec.At.UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "target_id", Value: 1}, {Key: "at", Value: -1}},
		Options: options.Index().SetName("audit_by_target"),
	})
	return err
}
