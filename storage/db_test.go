package storage_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"

	goerrors "github.com/goliatone/go-errors"
	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func testConfig(t *testing.T) storage.Config {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return storage.Config{
		Driver: storage.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}
}

func tableExists(t *testing.T, db *bun.DB, name string) bool {
	t.Helper()

	var count int
	err := db.NewRaw("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).
		Scan(context.Background(), &count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrateCreatesSchemaOnce(t *testing.T) {
	ctx := context.Background()

	client, err := storage.Open(ctx, testConfig(t), storage.WithMigrations(portal.GetMigrationsFS()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.DB().Close() })

	require.NoError(t, client.Migrate(ctx))
	require.NoError(t, client.Migrate(ctx))

	for _, table := range []string{"users", "profiles", "device_sessions", "subscriptions", "services", "invoices", "support_tickets"} {
		assert.True(t, tableExists(t, client.DB(), table), table)
	}
}

func TestOpenRejectsDialectDrift(t *testing.T) {
	fsys := fstest.MapFS{
		"sqlite/0001_accounts.up.sql":   {Data: []byte("CREATE TABLE accounts (id INTEGER PRIMARY KEY);")},
		"postgres/0001_accounts.up.sql": {Data: []byte("CREATE TABLE accounts (id SERIAL PRIMARY KEY);")},
		"sqlite/0002_notes.up.sql":      {Data: []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY);")},
	}

	_, err := storage.Open(context.Background(), testConfig(t), storage.WithMigrations(fsys))
	require.Error(t, err)
}

func TestOpenEnablesForeignKeys(t *testing.T) {
	ctx := context.Background()

	client, err := storage.Open(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.DB().Close() })

	var enabled int
	require.NoError(t, client.DB().NewRaw("PRAGMA foreign_keys").Scan(ctx, &enabled))
	assert.Equal(t, 1, enabled)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := storage.Open(context.Background(), storage.Config{Driver: "oracle"})
	require.Error(t, err)
	assert.True(t, goerrors.IsValidation(err))
}

func TestConfigDefaults(t *testing.T) {
	cfg := storage.Config{}

	assert.Equal(t, storage.DriverSQLite, cfg.GetDriver())
	assert.Equal(t, storage.DefaultPingTimeout, cfg.GetPingTimeout())
	assert.Empty(t, cfg.GetOtelIdentifier())

	cfg.Tracing = true
	assert.Equal(t, "portal", cfg.GetOtelIdentifier())

	cfg.Driver = "Postgres"
	assert.Equal(t, storage.DriverPostgres, cfg.GetDriver())
}
