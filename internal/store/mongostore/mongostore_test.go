package mongostore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/store/storetest"
)

// Set SHEETSYNC_TEST_MONGO_URI (e.g. mongodb://localhost:27017) to run against a live server.
const mongoURIEnv = "SHEETSYNC_TEST_MONGO_URI"

func TestStore_Mongo(t *testing.T) {
	uri := os.Getenv(mongoURIEnv)
	if uri == "" {
		t.Skipf("%s not set", mongoURIEnv)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, Config{URI: uri, Database: "sheetsync_test_" + uuid.NewString()[:8]})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.coll.Database().Drop(ctx)
			_ = s.Close(ctx)
		})
		return s
	})
}

func TestOpen_RequiresURI(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.ErrorContains(t, err, "uri is required")
}
