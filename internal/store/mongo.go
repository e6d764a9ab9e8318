package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eldtechnologies/boardsync/internal/ids"
	"github.com/eldtechnologies/boardsync/internal/models"
)

const boardsCollection = "boards"

// MongoStore handles MongoDB operations.
type MongoStore struct {
	client *mongo.Client
	boards *mongo.Collection
}

// boardDoc is the stored shape of a board.
type boardDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	PreviewImage string    `bson:"previewImage"`
	Snapshot     string    `bson:"snapshot,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d boardDoc) model() models.Board {
	b := models.Board{
		ID:           d.ID,
		Name:         d.Name,
		PreviewImage: d.PreviewImage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.Snapshot != "" {
		b.Snapshot = json.RawMessage(d.Snapshot)
	}
	return b
}

// NewMongoStore connects to MongoDB. The database name is taken from the URI
// path, falling back to "boardsync".
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		boards: client.Database(databaseName(uri)).Collection(boardsCollection),
	}

	_, err = s.boards.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "name", Value: 1}}},
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

var mongoDBName = regexp.MustCompile(`^mongodb(?:\+srv)?://[^/]+/([^?]+)`)

func databaseName(uri string) string {
	if m := mongoDBName.FindStringSubmatch(uri); m != nil && m[1] != "" {
		return m[1]
	}
	return "boardsync"
}

// Close disconnects the client.
func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

// Ping checks the connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// CreateBoard creates a new board record.
func (s *MongoStore) CreateBoard(ctx context.Context, name string) (*models.Board, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := boardDoc{
		ID:        ids.NewBoardID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.boards.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	b := doc.model()
	return &b, nil
}

// GetBoard retrieves a board by ID, snapshot included.
func (s *MongoStore) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	var doc boardDoc
	err := s.boards.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	b := doc.model()
	return &b, nil
}

// ListBoards retrieves boards by most recent activity with pagination.
func (s *MongoStore) ListBoards(ctx context.Context, query string, limit, offset int) ([]models.Board, int, error) {
	filter := bson.M{}
	if query != "" {
		filter["name"] = bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	}

	total, err := s.boards.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"snapshot": 0})

	cur, err := s.boards.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	boards := []models.Board{}
	for cur.Next(ctx) {
		var doc boardDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		boards = append(boards, doc.model())
	}

	return boards, int(total), cur.Err()
}

// DeleteBoard removes a board. It reports whether a document was deleted.
func (s *MongoStore) DeleteBoard(ctx context.Context, id string) (bool, error) {
	res, err := s.boards.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// CountBoards returns the total number of boards.
func (s *MongoStore) CountBoards(ctx context.Context) (int64, error) {
	return s.boards.CountDocuments(ctx, bson.M{})
}

// SaveSnapshot stores the latest snapshot of a board.
func (s *MongoStore) SaveSnapshot(ctx context.Context, id string, snapshot json.RawMessage, preview *string) error {
	now := time.Now().UTC()
	set := bson.M{
		"snapshot":  string(snapshot),
		"updatedAt": now,
	}
	onInsert := bson.M{
		"name":      id,
		"createdAt": now,
	}
	if preview != nil {
		set["previewImage"] = *preview
	} else {
		onInsert["previewImage"] = ""
	}

	_, err := s.boards.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set, "$setOnInsert": onInsert},
		options.Update().SetUpsert(true),
	)
	return err
}

// LoadSnapshot returns the stored snapshot of a board, or nil.
func (s *MongoStore) LoadSnapshot(ctx context.Context, id string) (json.RawMessage, error) {
	var doc struct {
		Snapshot string `bson:"snapshot"`
	}
	opts := options.FindOne().SetProjection(bson.M{"snapshot": 1})
	err := s.boards.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	if doc.Snapshot == "" {
		return nil, nil
	}
	return json.RawMessage(doc.Snapshot), nil
}
