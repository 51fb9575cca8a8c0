package deploy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/hostbus/internal/connection"
	"github.com/yanizio/hostbus/internal/database"
)

// sqliteConn declares a tenant SQLite file under t's temp dir.
func sqliteConn(t *testing.T) connection.Descriptor {
	t.Helper()
	return connection.Descriptor{Name: "site1_sqlite", Params: []connection.Param{
		{Name: "database", Value: filepath.Join(t.TempDir(), "site1.sqlite")},
		{Name: "driver", Value: "sqlite"},
	}}
}

func openTenant(t *testing.T, conn connection.Descriptor) *sqlx.DB {
	t.Helper()
	db, err := database.OpenDescriptor(context.Background(), conn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		writeTestFile(t, filepath.Join(dir, name), body)
	}
	return dir
}

const tagsMigration = `-- +migrate Up
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT NOT NULL);

-- +migrate StatementBegin
CREATE TRIGGER tags_upper AFTER INSERT ON tags
BEGIN
  UPDATE tags SET name = upper(name) WHERE id = NEW.id;
END;
-- +migrate StatementEnd

-- +migrate Down
DROP TABLE tags;
`

func TestMigrate_AppliesPendingInOrder(t *testing.T) {
	conn := sqliteConn(t)
	dir := writeMigrations(t, map[string]string{
		"002_seed.sql":  "-- seed data\nINSERT INTO posts (id, title) VALUES (1, 'semi;colon');\n",
		"001_posts.sql": "CREATE TABLE posts (\n  id INTEGER PRIMARY KEY,\n  title TEXT\n);\nCREATE INDEX posts_title ON posts (title);\n",
		"003_tags.sql":  tagsMigration,
		"README.md":     "not a migration",
	})
	ctx := context.Background()

	n, err := SQLMigrator{}.Migrate(ctx, dir, conn)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	db := openTenant(t, conn)
	var title string
	require.NoError(t, db.Get(&title, `SELECT title FROM posts WHERE id = 1`))
	assert.Equal(t, "semi;colon", title)

	_, err = db.Exec(`INSERT INTO tags (name) VALUES ('go')`)
	require.NoError(t, err)
	var tag string
	require.NoError(t, db.Get(&tag, `SELECT name FROM tags`))
	assert.Equal(t, "GO", tag)

	var applied []string
	require.NoError(t, db.Select(&applied, `SELECT id FROM `+MigrationsTable+` ORDER BY id`))
	assert.Equal(t, []string{"001_posts.sql", "002_seed.sql", "003_tags.sql"}, applied)

	n, err = SQLMigrator{}.Migrate(ctx, dir, conn)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrate_FailedFileIsNotRecorded(t *testing.T) {
	conn := sqliteConn(t)
	dir := writeMigrations(t, map[string]string{
		"001_posts.sql": "CREATE TABLE posts (id INTEGER PRIMARY KEY);\n",
		"002_bad.sql":   "INSERT INTO missing_table VALUES (1);\n",
	})

	n, err := SQLMigrator{}.Migrate(context.Background(), dir, conn)
	require.Error(t, err)
	assert.ErrorContains(t, err, "002_bad.sql")
	assert.Equal(t, 1, n)

	var count int
	require.NoError(t, openTenant(t, conn).Get(&count, `SELECT COUNT(*) FROM `+MigrationsTable))
	assert.Equal(t, 1, count)
}

func TestMigrate_UnterminatedStatementFailsToParse(t *testing.T) {
	dir := writeMigrations(t, map[string]string{"001_posts.sql": "CREATE TABLE posts (id INTEGER)"})
	m := SQLMigrator{Open: func(context.Context, connection.Descriptor) (*sqlx.DB, error) {
		t.Fatal("opened a connection for an unparsable file")
		return nil, nil
	}}

	_, err := m.Migrate(context.Background(), dir, sqliteConn(t))
	assert.ErrorContains(t, err, "parse 001_posts.sql")
}

func TestMigrate_NoFilesNeverConnects(t *testing.T) {
	m := SQLMigrator{Open: func(context.Context, connection.Descriptor) (*sqlx.DB, error) {
		t.Fatal("opened a connection with nothing to apply")
		return nil, nil
	}}
	n, err := m.Migrate(context.Background(), t.TempDir(), connection.Descriptor{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrationDialect(t *testing.T) {
	for driver, want := range map[string]string{"mysql": "mysql", "sqlite": "sqlite3", "sqlite3": "sqlite3"} {
		got, err := migrationDialect(driver)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := migrationDialect("postgres")
	assert.ErrorIs(t, err, connection.ErrUnsupportedDriver)
}
