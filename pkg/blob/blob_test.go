package blob

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratepulse/ratepulse/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestObjectPath(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	now := time.UnixMilli(1735689600000)

	path := ObjectPath("user-1", models.NewCompetitorOwner(id, "Rival Inn"), now)

	pattern := regexp.MustCompile(`^user-1/competitor_11111111-2222-3333-4444-555555555555_1735689600000_[0-9a-f]{8}\.csv$`)
	assert.Regexp(t, pattern, path)

	// collision resistance within the same millisecond
	other := ObjectPath("user-1", models.NewCompetitorOwner(id, "Rival Inn"), now)
	assert.NotEqual(t, path, other)
}

func TestFSStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	path := "user-1/property_abc_123.csv"
	content := []byte("Date,Room_A1,Price_A1\n2025-01-01,Deluxe,1200\n")

	require.NoError(t, store.Put(ctx, path, content))

	got, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, store.Delete(ctx, path))

	_, err = store.Get(ctx, path)
	assert.Error(t, err)

	// deleting a missing blob is not an error
	assert.NoError(t, store.Delete(ctx, path))
}

func TestFSStore_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	assert.Error(t, store.Put(ctx, "../outside.csv", []byte("x")))
	assert.Error(t, store.Put(ctx, "/etc/passwd", []byte("x")))
}
