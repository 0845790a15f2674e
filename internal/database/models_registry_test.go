package database

import (
	"testing"

	"outpost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestPersistentModels_IncludesFederationTables(t *testing.T) {
	t.Parallel()

	var sawNotification, sawFeed bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *models.Notification:
			sawNotification = true
		case *models.Feed:
			sawFeed = true
		}
	}
	assert.True(t, sawNotification, "PersistentModels should include Notification")
	assert.True(t, sawFeed, "PersistentModels should include Feed")
}

func TestMigrate_CreatesTables(t *testing.T) {
	t.Parallel()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, table := range []string{"accounts", "posts", "follows", "blocks", "domain_blocks", "notifications", "feeds", "outboxes", "key_value"} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestStatusAndDropAll(t *testing.T) {
	t.Parallel()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	status, err := Status(db)
	require.NoError(t, err)
	require.Len(t, status, len(PersistentModels()))
	for _, s := range status {
		assert.False(t, s.Exists, s.Table)
	}

	require.NoError(t, Migrate(db))
	status, err = Status(db)
	require.NoError(t, err)
	for _, s := range status {
		assert.True(t, s.Exists, s.Table)
	}

	require.NoError(t, DropAll(db))
	assert.False(t, db.Migrator().HasTable("accounts"))
	assert.False(t, db.Migrator().HasTable("posts"))
}
