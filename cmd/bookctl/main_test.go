package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"bookshare/pkg/auth"
	"bookshare/pkg/database"
	"bookshare/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func useTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "bookctl.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	prev := openDB
	openDB = func() (*gorm.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = prev })
	return db
}

func run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedAndAudit(t *testing.T) {
	useTestDB(t)

	out, err := run("seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 3 book(s)")

	out, err = run("audit")
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
}

func TestAuditFailsOnDrift(t *testing.T) {
	db := useTestDB(t)
	_, err := run("seed")
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Book{}).
		Where("book_uid = ?", "3c1d6c7a-9b1e-4d55-8a31-6f2f1c0e9a42").
		Update("stock", 1).Error)

	out, err := run("audit")
	require.Error(t, err)
	assert.IsType(t, errDiscrepancy{}, err)
	assert.Contains(t, out, "3c1d6c7a-9b1e-4d55-8a31-6f2f1c0e9a42")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := run("token", "--user", "alice", "--admin")
	require.NoError(t, err)

	id, err := auth.ParseToken([]byte("cli-secret"), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.True(t, id.IsAdmin)
}

func TestTokenRequiresUser(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	_, err := run("token")
	assert.Error(t, err)
}
