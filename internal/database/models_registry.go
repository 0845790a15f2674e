package database

import "outpost/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Site{},
		&models.Account{},
		&models.User{},
		&models.Post{},
		&models.Follow{},
		&models.Block{},
		&models.DomainBlock{},
		&models.Like{},
		&models.Repost{},
		&models.Mention{},
		&models.Notification{},
		&models.Feed{},
		&models.Outbox{},
		&models.KeyValue{},
		&models.Topic{},
		&models.AccountTopic{},
	}
}
