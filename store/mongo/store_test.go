package mongo_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	drv "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/warrant/store"
	"github.com/xraph/warrant/store/mongo"
	"github.com/xraph/warrant/store/storetest"
)

// newStore gives every subtest its own database, dropped on cleanup.
func newStore(t *testing.T) store.Store {
	t.Helper()

	uri := os.Getenv("WARRANT_MONGO_URI")
	if uri == "" {
		t.Skip("WARRANT_MONGO_URI not set")
	}

	client, err := drv.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	name := "warrant_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	db := client.Database(name)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	s := mongo.New(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, newStore)
}
