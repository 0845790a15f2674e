package repository

import (
	"context"
	"testing"
	"time"

	"outpost/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestKeyValueRepository_SetIfAbsent(t *testing.T) {
	repo := NewKeyValueRepository(testutil.NewTestDB(t))
	ctx := context.Background()

	ok, err := repo.SetIfAbsent(ctx, "activity:1", datatypes.JSON(`true`), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetIfAbsent(ctx, "activity:1", datatypes.JSON(`true`), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := repo.Get(ctx, "activity:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `true`, string(v))
}

func TestKeyValueRepository_Expiry(t *testing.T) {
	repo := NewKeyValueRepository(testutil.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "short", datatypes.JSON(`{"a":1}`), time.Millisecond))
	require.NoError(t, repo.Set(ctx, "forever", datatypes.JSON(`{"b":2}`), 0))
	time.Sleep(5 * time.Millisecond)

	_, found, err := repo.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found, "expired entries are invisible")

	ok, err := repo.SetIfAbsent(ctx, "short", datatypes.JSON(`{"a":2}`), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired entries are replaced")

	require.NoError(t, repo.Set(ctx, "stale", datatypes.JSON(`1`), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	n, err := repo.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, found, err = repo.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, repo.Delete(ctx, "forever"))
	_, found, err = repo.Get(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, found)
}
