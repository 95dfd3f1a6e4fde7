package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
)

type testModel struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name    string
	Version int64
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:db_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{ID: uuid.New(), Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{ID: uuid.New(), Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	client := NewFromConn(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestUpdateVersioned(t *testing.T) {
	db := newTestDB(t)
	row := testModel{ID: uuid.New(), Name: "before", Version: 1}
	require.NoError(t, db.Create(&row).Error)

	require.NoError(t, UpdateVersioned(db, &testModel{}, row.ID, 1, map[string]any{"name": "after"}))

	var got testModel
	require.NoError(t, db.First(&got, "id = ?", row.ID).Error)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, int64(2), got.Version)

	err := UpdateVersioned(db, &testModel{}, row.ID, 1, map[string]any{"name": "stale"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	require.NoError(t, db.First(&got, "id = ?", row.ID).Error)
	assert.Equal(t, "after", got.Name)
}

func TestForUpdateIsIgnoredBySQLite(t *testing.T) {
	db := newTestDB(t)
	row := testModel{ID: uuid.New(), Name: "locked"}
	require.NoError(t, db.Create(&row).Error)

	var got testModel
	require.NoError(t, ForUpdate(db).First(&got, "id = ?", row.ID).Error)
	assert.Equal(t, "locked", got.Name)
}

func TestMapNotFound(t *testing.T) {
	err := MapNotFound(gorm.ErrRecordNotFound, "credit")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, "NOT_FOUND: credit not found", err.Error())

	err = MapNotFound(errors.New("disk"), "credit")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))

	typed := pkgerrors.New(pkgerrors.CodeConflict, "busy")
	assert.Same(t, typed, MapNotFound(typed, "credit"))
	assert.NoError(t, MapNotFound(nil, "credit"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(errors.New("ERROR: duplicate key value violates unique constraint"), ""))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: carbon_credits.project_id"), ""))
	assert.True(t, IsUniqueViolation(errors.New("violates idx_carbon_credits_project_year"), "idx_carbon_credits_project_year"))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "x", Driver: "oracle"}, nil)
	require.Error(t, err)
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		DSN:    "file:new_" + uuid.NewString() + "?mode=memory&cache=shared",
		Driver: DriverSQLite,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()))
}

func TestQueryLoggerReportsSlowAndFailedStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	ql := newQueryLogger(logger.New(logger.Options{ServiceName: "db-test", Output: buf}), 10*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT * FROM carbon_credits", 3 }

	ql.Trace(context.Background(), time.Now(), stmt, nil)
	assert.Zero(t, buf.Len(), "fast statements are not logged")

	ql.Trace(context.Background(), time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len(), "record not found is expected")

	ql.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), "db.slow_query")

	ql.Trace(context.Background(), time.Now(), stmt, errors.New("relation does not exist"))
	assert.Contains(t, buf.String(), "db.query_failed")
}
