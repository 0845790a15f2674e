package repository

import (
	"errors"

	"outpost/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const uniqueViolation = "23505"

// isUniqueViolation recognizes duplicate keys from both postgres and the translated gorm error.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// mapError converts a gorm error into the matching AppError.
func mapError(err error, resource string, id interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewNotFoundError(resource, id)
	case isUniqueViolation(err):
		return models.NewConflictError(resource + " already exists")
	default:
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return models.NewInternalError(err)
	}
}

// page applies keyset pagination on id, newest first.
func page(db *gorm.DB, column string, cursor uint, limit int) *gorm.DB {
	if cursor > 0 {
		db = db.Where(column+" < ?", cursor)
	}
	if limit <= 0 {
		limit = 20
	}
	return db.Order(column + " DESC").Limit(limit)
}
