package storage

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	statements []string
	failOn     int
}

func (e *recordingExecutor) Exec(ctx context.Context, query string, args ...interface{}) error {
	e.statements = append(e.statements, query)
	if e.failOn > 0 && len(e.statements) == e.failOn {
		return errors.New("syntax error")
	}
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "empty",
			content: "",
			want:    nil,
		},
		{
			name:    "comments only",
			content: "-- header\n\n-- another\n",
			want:    nil,
		},
		{
			name:    "two statements",
			content: "-- tables\nCREATE TABLE a (x UInt8);\n\nCREATE TABLE b (\n  y UInt8\n);\n",
			want:    []string{"CREATE TABLE a (x UInt8)", "CREATE TABLE b (\n  y UInt8\n)"},
		},
		{
			name:    "missing final semicolon",
			content: "SELECT 1;\nSELECT 2",
			want:    []string{"SELECT 1", "SELECT 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSQLStatements(tt.content))
		})
	}
}

func TestRunClickHouseMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte("CREATE TABLE c (z UInt8);\n")},
		"m/001_first.sql":  {Data: []byte("CREATE TABLE a (x UInt8);\nCREATE TABLE b (y UInt8);\n")},
		"m/README.md":      {Data: []byte("not sql")},
	}

	exec := &recordingExecutor{}
	require.NoError(t, runClickHouseMigrations(testContext(t), exec, fsys, "m"))
	assert.Equal(t, []string{
		"CREATE TABLE a (x UInt8)",
		"CREATE TABLE b (y UInt8)",
		"CREATE TABLE c (z UInt8)",
	}, exec.statements, "files apply in name order")
}

func TestRunClickHouseMigrationsStopsOnError(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_first.sql": {Data: []byte("CREATE TABLE a (x UInt8);\nBROKEN;\nCREATE TABLE c (z UInt8);\n")},
	}

	exec := &recordingExecutor{failOn: 2}
	err := runClickHouseMigrations(testContext(t), exec, fsys, "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2 in 001_first.sql")
	assert.Len(t, exec.statements, 2)
}

func TestRunClickHouseMigrationsEmptyDir(t *testing.T) {
	fsys := fstest.MapFS{"m/.keep": {Data: nil}}
	exec := &recordingExecutor{}
	require.NoError(t, runClickHouseMigrations(testContext(t), exec, fsys, "m"))
	assert.Empty(t, exec.statements)
}

func TestEmbeddedMigrations(t *testing.T) {
	chFiles, err := fs.Glob(clickhouseMigrations, "migrations/clickhouse/*.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, chFiles)

	exec := &recordingExecutor{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), exec))
	joined := ""
	for _, s := range exec.statements {
		joined += s + "\n"
	}
	assert.Contains(t, joined, "balance_history")
	assert.Contains(t, joined, "balance_history_totals")

	pgUp, err := fs.Glob(postgresMigrations, "migrations/postgres/*.up.sql")
	require.NoError(t, err)
	pgDown, err := fs.Glob(postgresMigrations, "migrations/postgres/*.down.sql")
	require.NoError(t, err)
	assert.Equal(t, len(pgUp), len(pgDown), "every up migration has a down")
}
