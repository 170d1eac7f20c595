package repository

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/nimasrn/whatsapp-simulator/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB opens a private in-memory sqlite database with the schema
// migrated. It is shared by repository, service and e2e tests.
func OpenTestDB(t testing.TB) *pg.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&MessageEntity{}, &WebhookEntity{}))

	return pg.NewFromGorm(db, db)
}
