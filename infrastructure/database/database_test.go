package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eGGnogSC/qbbridge/config"
)

func TestDialect(t *testing.T) {
	d, err := Dialect(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = Dialect(config.DatabaseConfig{Driver: "postgres", DSN: "host=localhost user=qb dbname=qb sslmode=disable"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = Dialect(config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)

	_, err = Dialect(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

type widget struct {
	ID   uint
	Name string
}

func TestOpenMigratesAndPings(t *testing.T) {
	migrated := false
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file:opentest?mode=memory&cache=shared"}, nil, func(db *gorm.DB) error {
		migrated = true
		return db.AutoMigrate(&widget{})
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, migrated)
	assert.NoError(t, Ping(context.Background(), db, time.Second))
	assert.True(t, db.Migrator().HasTable(&widget{}))
}
