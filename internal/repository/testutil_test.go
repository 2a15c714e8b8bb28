package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dan246/mtx-toolkit/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Node{},
		&models.Stream{},
		&models.StreamEvent{},
		&models.Recording{},
		&models.ConfigSnapshot{},
		&models.IPBlockEntry{},
		&models.Job{},
		&models.JobHistory{},
	)
	require.NoError(t, err)

	return db
}

// createTestNode creates a Node for use as a foreign key in tests.
func createTestNode(t *testing.T, db *gorm.DB, name string) *models.Node {
	t.Helper()
	node := &models.Node{
		Name:        name,
		APIURL:      "http://" + name + ".example.com:9997",
		Environment: "production",
		IsActive:    models.BoolPtr(true),
	}
	require.NoError(t, db.Create(node).Error)
	return node
}

// createTestStream creates a Stream on the given node.
func createTestStream(t *testing.T, db *gorm.DB, nodeID models.ULID, path string) *models.Stream {
	t.Helper()
	stream := &models.Stream{
		NodeID:   nodeID,
		Path:     path,
		Protocol: models.ProtocolRTSP,
		Status:   models.StreamStatusUnknown,
	}
	require.NoError(t, db.Create(stream).Error)
	return stream
}
