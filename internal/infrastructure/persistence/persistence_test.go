package persistence

import (
	"testing"

	"github.com/evercore/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.EventModel{},
		&models.ScopeModel{},
		&models.ScopeStreamModel{},
		&models.CommandRecordModel{},
		&models.CommandEventLinkModel{},
		&models.ProcessManagerStateModel{},
		&models.DeadLetterModel{},
		&models.CommandOutboxModel{},
	))
	return db
}
