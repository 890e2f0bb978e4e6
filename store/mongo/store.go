// Package mongo implements store.Store on MongoDB. Purchase IDs come from
// an atomically incremented counter document.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/purchase"
	warrantstore "github.com/xraph/warrant/store"
)

// Collection name constants.
const (
	colPurchases = "warrant_purchases"
	colCounters  = "warrant_counters"

	purchaseSeq = "purchase_id"
)

// compile-time interface check
var _ warrantstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	db     *mongo.Database
	client *mongo.Client // set when the store owns the connection
}

// New creates a store over db. Close leaves the client connected.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Open connects to uri and uses the named database. Close disconnects.
func Open(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("warrant/mongo: connect: %w", err)
	}
	return &Store{db: client.Database(database), client: client}, nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for the warrant collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("warrant/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// ==================== Purchase Store ====================

func (s *Store) Save(ctx context.Context, p *purchase.Purchase) (int64, error) {
	id, err := s.nextID(ctx, purchaseSeq)
	if err != nil {
		return purchase.Unsaved, err
	}

	m := toPurchaseModel(p)
	m.ID = id
	if _, err := s.db.Collection(colPurchases).InsertOne(ctx, m); err != nil {
		return purchase.Unsaved, fmt.Errorf("warrant/mongo: insert purchase: %w", err)
	}
	p.ID = id
	return id, nil
}

func (s *Store) FindBySubject(ctx context.Context, subject uuid.UUID) ([]*purchase.Purchase, error) {
	cur, err := s.db.Collection(colPurchases).Find(ctx,
		bson.M{"subject_id": subject.String()},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("warrant/mongo: list purchases: %w", err)
	}

	var models []purchaseModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("warrant/mongo: list purchases: %w", err)
	}

	out := make([]*purchase.Purchase, 0, len(models))
	for i := range models {
		p, err := fromPurchaseModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("warrant/mongo: purchase %d: %w", models[i].ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*purchase.Purchase, error) {
	var m purchaseModel
	err := s.db.Collection(colPurchases).FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: %d", warrant.ErrPurchaseNotFound, id)
		}
		return nil, fmt.Errorf("warrant/mongo: get purchase: %w", err)
	}
	return fromPurchaseModel(&m)
}

func (s *Store) Deactivate(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.Collection(colPurchases).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"active": false}},
	)
	if err != nil {
		return false, fmt.Errorf("warrant/mongo: deactivate purchase: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) UpdateRemainingUses(ctx context.Context, id int64, remaining int) (bool, error) {
	res, err := s.db.Collection(colPurchases).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"remaining_uses": remaining}},
	)
	if err != nil {
		return false, fmt.Errorf("warrant/mongo: update remaining uses: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// nextID atomically increments and returns the named sequence.
func (s *Store) nextID(ctx context.Context, seq string) (int64, error) {
	var c counterModel
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": seq},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("warrant/mongo: next %s: %w", seq, err)
	}
	return c.Seq, nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the warrant collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPurchases: {
			{Keys: bson.D{{Key: "subject_id", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
	}
}
