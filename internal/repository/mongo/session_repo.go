package mongo

import (
	"context"
	"errors"
	"log"
	"time"

	"cloudvault/upload-service/internal/domain"
	"cloudvault/upload-service/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionCollectionName = "upload_sessions"

// activeStatuses are the states in which a session holds a concurrency slot.
var activeStatuses = []domain.SessionStatus{domain.StatusPending, domain.StatusUploading}

// mongoSessionRepository implements repository.SessionRepository
type mongoSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoSessionRepository creates a new upload session repository backed by MongoDB.
func NewMongoSessionRepository(db *mongo.Database) repository.SessionRepository {
	return &mongoSessionRepository{
		collection: db.Collection(sessionCollectionName),
	}
}

// Create inserts a new upload session record.
func (r *mongoSessionRepository) Create(ctx context.Context, session *domain.UploadSession) error {
	if session.ID == "" || session.OwnerID == "" {
		return errors.New("session requires id and ownerId")
	}
	if session.Parts == nil {
		session.Parts = []domain.UploadPart{}
	}

	_, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicateID
		}
		return err
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *mongoSessionRepository) GetByID(ctx context.Context, id string) (*domain.UploadSession, error) {
	var session domain.UploadSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListActiveByOwner returns all pending/uploading sessions for an owner.
func (r *mongoSessionRepository) ListActiveByOwner(ctx context.Context, ownerID string) ([]domain.UploadSession, error) {
	filter := bson.M{"ownerId": ownerID, "status": bson.M{"$in": activeStatuses}}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	sessions := []domain.UploadSession{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CountActiveByOwner counts pending/uploading sessions for an owner.
// This is a read-only statistic; admission control goes through the slot
// counter, not this count.
func (r *mongoSessionRepository) CountActiveByOwner(ctx context.Context, ownerID string) (int64, error) {
	filter := bson.M{"ownerId": ownerID, "status": bson.M{"$in": activeStatuses}}
	return r.collection.CountDocuments(ctx, filter)
}

// FindStale returns non-terminal sessions whose last activity predates cutoff.
func (r *mongoSessionRepository) FindStale(ctx context.Context, cutoff time.Time, limit int64) ([]domain.UploadSession, error) {
	filter := bson.M{
		"status":         bson.M{"$in": activeStatuses},
		"lastActivityAt": bson.M{"$lt": cutoff},
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "lastActivityAt", Value: 1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	sessions := []domain.UploadSession{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecordPart upserts one acknowledged part and refreshes lastActivityAt.
// The two-step update (replace existing entry, else push) runs against a
// filter that requires a non-terminal status, so parts can never be added to
// a finished session.
func (r *mongoSessionRepository) RecordPart(ctx context.Context, id string, part domain.UploadPart) error {
	now := time.Now().UTC()

	// First try to overwrite an existing entry for this part number.
	replaceFilter := bson.M{
		"_id":              id,
		"status":           bson.M{"$in": activeStatuses},
		"parts.partNumber": part.PartNumber,
	}
	replaceUpdate := bson.M{"$set": bson.M{
		"parts.$":        part,
		"lastActivityAt": now,
	}}
	result, err := r.collection.UpdateOne(ctx, replaceFilter, replaceUpdate)
	if err != nil {
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// No existing entry for this part number; append one.
	pushFilter := bson.M{
		"_id":              id,
		"status":           bson.M{"$in": activeStatuses},
		"parts.partNumber": bson.M{"$ne": part.PartNumber},
	}
	pushUpdate := bson.M{
		"$push": bson.M{"parts": part},
		"$set":  bson.M{"lastActivityAt": now},
	}
	result, err = r.collection.UpdateOne(ctx, pushFilter, pushUpdate)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// Touch refreshes lastActivityAt on a non-terminal session.
func (r *mongoSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	filter := bson.M{"_id": id, "status": bson.M{"$in": activeStatuses}}
	update := bson.M{"$set": bson.M{"lastActivityAt": at.UTC()}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// TransitionStatus applies an optimistic state transition: the predecessor
// check and the status write happen in one FindOneAndUpdate, so two racing
// terminal transitions cannot both succeed.
func (r *mongoSessionRepository) TransitionStatus(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (*domain.UploadSession, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	update := bson.M{"$set": bson.M{
		"status":         to,
		"lastActivityAt": time.Now().UTC(),
	}}
	findOptions := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session domain.UploadSession
	err := r.collection.FindOneAndUpdate(ctx, filter, update, findOptions).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return &session, nil
}

// Rename changes the filename of a non-terminal session.
func (r *mongoSessionRepository) Rename(ctx context.Context, id string, filename string) error {
	if filename == "" {
		return errors.New("filename is required")
	}
	filter := bson.M{"_id": id, "status": bson.M{"$in": activeStatuses}}
	update := bson.M{"$set": bson.M{"filename": filename}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// classifyMiss distinguishes "session does not exist" from "session exists
// but is in the wrong state" after a conditional update matched nothing.
func (r *mongoSessionRepository) classifyMiss(ctx context.Context, id string) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if count == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// EnsureSessionIndexes creates necessary indexes for the upload sessions collection.
func EnsureSessionIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// Owner + status drives ListActiveByOwner / CountActiveByOwner
			Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Status + lastActivityAt drives the reaper's stale scan
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "lastActivityAt", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "scopeId", Value: 1}},
			Options: options.Index(),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
