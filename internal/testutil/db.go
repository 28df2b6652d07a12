// Package testutil provides in-memory infrastructure for package tests.
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/config"
	"github.com/sisques-labs/project-starter-sub009/internal/database"
)

// NewDatabases opens a private in-memory SQLite database and migrates every
// model into it. Write and read share the connection.
func NewDatabases(t testing.TB) *database.Databases {
	t.Helper()

	cfg := config.DatabaseConfig{Driver: "sqlite", LogLevel: "silent", MaxOpenConns: 1}
	db, err := database.Open(cfg, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)

	dbs := &database.Databases{Write: db, Read: db}
	require.NoError(t, dbs.AutoMigrate())

	t.Cleanup(func() { _ = dbs.Close() })
	return dbs
}

// NewDB returns the write connection of NewDatabases.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	return NewDatabases(t).Write
}
