package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"outpost/internal/repository"
	"outpost/internal/service"
	"outpost/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type reconcilerStub struct {
	sources []*service.TopicSource
}

func (r *reconcilerStub) ReconcileAccountsForTopics(_ context.Context, src *service.TopicSource) (repository.ReconcileStats, error) {
	r.sources = append(r.sources, src)
	return repository.ReconcileStats{TopicsUpserted: len(src.Topics)}, nil
}

func writeTopics(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topics.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNew_RegistersJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"cleanup only", Config{}, 1},
		{"cleanup and topics", Config{TopicSourcePath: "topics.yml", TopicSchedule: "@every 10m"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, &reconcilerStub{}, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Jobs())
		})
	}
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := New(Config{CleanupSchedule: "every now and then"}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{TopicSourcePath: "topics.yml", TopicSchedule: "@sometimes"}, &reconcilerStub{}, nil, nil)
	assert.Error(t, err)
}

func TestSyncTopics_LoadsSource(t *testing.T) {
	t.Parallel()

	path := writeTopics(t, `
topics:
  - slug: technology
    name: Technology
    accounts:
      - https://remote.example/users/alice
  - slug: science
    name: Science
`)
	stub := &reconcilerStub{}
	s, err := New(Config{TopicSourcePath: path, TopicSchedule: "@every 1h"}, stub, nil, nil)
	require.NoError(t, err)

	stats, err := s.SyncTopics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TopicsUpserted)
	require.Len(t, stub.sources, 1)
	assert.Equal(t, "technology", stub.sources[0].Topics[0].Slug)
	assert.Equal(t, []string{"https://remote.example/users/alice"}, stub.sources[0].Topics[0].Accounts)
}

func TestSyncTopics_InvalidSlug(t *testing.T) {
	t.Parallel()

	path := writeTopics(t, "topics:\n  - slug: inbox\n    name: Reserved\n")
	stub := &reconcilerStub{}
	s, err := New(Config{TopicSourcePath: path, TopicSchedule: "@every 1h"}, stub, nil, nil)
	require.NoError(t, err)

	_, err = s.SyncTopics(context.Background())
	assert.Error(t, err)
	assert.Empty(t, stub.sources)
}

func TestSyncTopics_DisabledWithoutPath(t *testing.T) {
	t.Parallel()

	stub := &reconcilerStub{}
	s, err := New(Config{}, stub, nil, nil)
	require.NoError(t, err)

	_, err = s.SyncTopics(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stub.sources)
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := repository.NewKeyValueRepository(testutil.NewTestDB(t))
	require.NoError(t, kv.Set(ctx, "short", datatypes.JSON(`1`), time.Minute))
	require.NoError(t, kv.Set(ctx, "long", datatypes.JSON(`1`), time.Hour))
	require.NoError(t, kv.Set(ctx, "forever", datatypes.JSON(`1`), 0))

	s, err := New(Config{}, nil, kv, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, ok, err := kv.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = kv.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, nil, repository.NewKeyValueRepository(testutil.NewTestDB(t)), nil)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
