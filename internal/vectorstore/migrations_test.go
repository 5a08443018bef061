package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)

	require.NoError(t, ApplyMigrations(ctx, db))
	// second run is a no-op
	require.NoError(t, ApplyMigrations(ctx, db))

	version, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestRollbackMigration(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(ctx, db))
	require.NoError(t, RollbackMigration(ctx, db))

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='index_meta'").Scan(&name)
	assert.Error(t, err)

	// re-applying brings the schema back
	require.NoError(t, ApplyMigrations(ctx, db))
	version, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestMigrationBackfillsIndexMeta(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, migrationV1Up)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ('1.0.0')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO records (index_name, namespace, id, prefix, ordinal, vector, dimension)
		VALUES ('docs', 'ns', 'a-0', 'a', 0, ?, 2)`, serializeVector([]float32{1, 0}))
	require.NoError(t, err)

	require.NoError(t, ApplyMigrations(ctx, db))

	var dim int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT dimension FROM index_meta WHERE index_name = 'docs'").Scan(&dim))
	assert.Equal(t, 2, dim)
}
