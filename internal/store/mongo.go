package store

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"screenreel/internal/session"
)

// MongoStore is the MongoDB-backed Store implementation. Every record kind
// gets its own collection; upserts replace by _id so a retried write of the
// same id is safe.
type MongoStore struct {
	db     *mongo.Database
	limits Limits
	onEv   EvictionFunc
}

// NewMongoStore wraps db as a bounded Store with the given limits.
func NewMongoStore(db *mongo.Database, limits Limits, onEviction EvictionFunc) *MongoStore {
	return &MongoStore{db: db, limits: limits, onEv: onEviction}
}

// EnsureIndexes creates the session-id and creation-time indexes on every
// collection that carries them. Safe to call repeatedly.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	byCreation := mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: 1}}}
	bySession := mongo.IndexModel{Keys: bson.D{{Key: "session_id", Value: 1}}}

	for _, name := range []string{CollSessions, CollActions, CollScreenshots, CollChunks, CollUploadJobs} {
		models := []mongo.IndexModel{byCreation}
		if name != CollSessions && name != CollUploadJobs {
			models = append(models, bySession)
		}
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes for %s", name)
		}
	}
	return nil
}

func (s *MongoStore) upsert(ctx context.Context, coll, id string, doc any) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	if err != nil {
		return errors.Wrapf(err, "upsert %s/%s", coll, id)
	}

	// Eviction is a follow-up: its failure never invalidates the write.
	s.pruneOldest(ctx, coll)
	return nil
}

// pruneOldest deletes the oldest records by creation time until the
// collection is back at its configured limit.
func (s *MongoStore) pruneOldest(ctx context.Context, coll string) {
	max := s.limits.forCollection(coll)
	if max <= 0 {
		return
	}

	c := s.db.Collection(coll)
	n, err := c.CountDocuments(ctx, bson.M{})
	if err != nil {
		log.Printf("Store: count %s failed during eviction: %v", coll, err)
		return
	}
	excess := n - max
	if excess <= 0 {
		return
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(excess).
		SetProjection(bson.M{"_id": 1})
	cursor, err := c.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		log.Printf("Store: eviction scan on %s failed: %v", coll, err)
		return
	}

	var oldest []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &oldest); err != nil {
		log.Printf("Store: eviction decode on %s failed: %v", coll, err)
		return
	}

	ids := make([]string, 0, len(oldest))
	for _, doc := range oldest {
		ids = append(ids, doc.ID)
	}
	if len(ids) == 0 {
		return
	}

	res, err := c.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		log.Printf("Store: eviction delete on %s failed: %v", coll, err)
		return
	}
	if s.onEv != nil && res.DeletedCount > 0 {
		s.onEv(coll, res.DeletedCount)
	}
}

func (s *MongoStore) findAll(ctx context.Context, coll string, filter bson.M, sort bson.D, out any) error {
	cursor, err := s.db.Collection(coll).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return errors.Wrapf(err, "find %s", coll)
	}
	if err := cursor.All(ctx, out); err != nil {
		return errors.Wrapf(err, "decode %s", coll)
	}
	return nil
}

// PutSession implements Store.
func (s *MongoStore) PutSession(ctx context.Context, sess *session.Session) error {
	return s.upsert(ctx, CollSessions, sess.ID, sess)
}

// GetSession implements Store.
func (s *MongoStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var sess session.Session
	err := s.db.Collection(CollSessions).FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", id)
	}
	return &sess, nil
}

// SessionsByCreation implements Store.
func (s *MongoStore) SessionsByCreation(ctx context.Context) ([]session.Session, error) {
	var out []session.Session
	err := s.findAll(ctx, CollSessions, bson.M{}, bson.D{{Key: "created_at", Value: 1}}, &out)
	return out, err
}

// PutAction implements Store.
func (s *MongoStore) PutAction(ctx context.Context, a *session.ActionEvent) error {
	return s.upsert(ctx, CollActions, a.ID, a)
}

// ActionsBySession implements Store.
func (s *MongoStore) ActionsBySession(ctx context.Context, sessionID string) ([]session.ActionEvent, error) {
	var out []session.ActionEvent
	err := s.findAll(ctx, CollActions,
		bson.M{"session_id": sessionID},
		bson.D{{Key: "wall_time", Value: 1}}, &out)
	return out, err
}

// PutScreenshot implements Store.
func (s *MongoStore) PutScreenshot(ctx context.Context, sc *ScreenshotRecord) error {
	return s.upsert(ctx, CollScreenshots, sc.ID, sc)
}

// ScreenshotsBySession implements Store.
func (s *MongoStore) ScreenshotsBySession(ctx context.Context, sessionID string) ([]ScreenshotRecord, error) {
	var out []ScreenshotRecord
	err := s.findAll(ctx, CollScreenshots,
		bson.M{"session_id": sessionID},
		bson.D{{Key: "captured_at", Value: 1}}, &out)
	return out, err
}

// PutChunk implements Store.
func (s *MongoStore) PutChunk(ctx context.Context, c *ChunkRecord) error {
	return s.upsert(ctx, CollChunks, c.ID, c)
}

// ChunksBySession implements Store.
func (s *MongoStore) ChunksBySession(ctx context.Context, sessionID string) ([]ChunkRecord, error) {
	var out []ChunkRecord
	err := s.findAll(ctx, CollChunks,
		bson.M{"session_id": sessionID},
		bson.D{{Key: "captured_at", Value: 1}, {Key: "timecode_ms", Value: 1}}, &out)
	return out, err
}

// PutUploadJob implements Store.
func (s *MongoStore) PutUploadJob(ctx context.Context, j *UploadJobRecord) error {
	return s.upsert(ctx, CollUploadJobs, j.ID, j)
}

// UploadJobsByStatus implements Store.
func (s *MongoStore) UploadJobsByStatus(ctx context.Context, status UploadJobStatus) ([]UploadJobRecord, error) {
	var out []UploadJobRecord
	err := s.findAll(ctx, CollUploadJobs,
		bson.M{"status": status},
		bson.D{{Key: "created_at", Value: 1}}, &out)
	return out, err
}

// Count implements Store.
func (s *MongoStore) Count(ctx context.Context, collection string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.db.Collection(collection).CountDocuments(ctx, bson.M{})
}
