package persistence

import (
	"context"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"
	"smm-publisher/infrastructure/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const publicationAuditCollection = "publication_audit"

// PublicationAuditMongoRepository appends publish attempts to a MongoDB collection.
type PublicationAuditMongoRepository struct {
	collection *mongo.Collection
}

var _ repository.IPublicationAudit = (*PublicationAuditMongoRepository)(nil)

func NewPublicationAuditMongoRepository(client *mongo.Client, database string) *PublicationAuditMongoRepository {
	return &PublicationAuditMongoRepository{collection: client.Database(database).Collection(publicationAuditCollection)}
}

// EnsureIndexes creates the (content_id, created_at) index used by ListByContent.
func (r *PublicationAuditMongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "content_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return err
}

func (r *PublicationAuditMongoRepository) Create(ctx context.Context, a *model.PublicationAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.GetCurrentTime()
	}
	_, err := r.collection.InsertOne(ctx, a)
	return err
}

func (r *PublicationAuditMongoRepository) ListByContent(ctx context.Context, contentID string, limit int) ([]*model.PublicationAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	cursor, err := r.collection.Find(ctx, auditFilter(contentID), auditFindOptions(limit))
	if err != nil {
		return nil, err
	}
	defer func(cursor *mongo.Cursor, ctx context.Context) {
		if err := cursor.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing cursor")
		}
	}(cursor, ctx)

	var list []*model.PublicationAudit
	for cursor.Next(ctx) {
		a := &model.PublicationAudit{}
		if err := cursor.Decode(a); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while decoding publication audit")
			continue
		}
		list = append(list, a)
	}
	return list, cursor.Err()
}

func auditFilter(contentID string) bson.D {
	return bson.D{{Key: "content_id", Value: contentID}}
}

func auditFindOptions(limit int) *options.FindOptionsBuilder {
	return options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
}
