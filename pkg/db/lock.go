package db

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

// ForUpdate adds a row-level lock to the query. The SQLite dialect drops the
// clause since the database serializes writers itself.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// UpdateVersioned applies updates to the row identified by id only while its
// version still equals expected, and bumps the version. A stale version
// returns a CONFLICT error so callers can reload and retry.
func UpdateVersioned(tx *gorm.DB, model any, id uuid.UUID, expected int64, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["version"] = expected + 1

	res := tx.Model(model).
		Where("id = ? AND version = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("versioned update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "record was modified concurrently").
			WithDetails(map[string]any{"id": id.String(), "version": expected})
	}
	return nil
}
