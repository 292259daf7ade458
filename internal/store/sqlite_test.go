// ABOUTME: Tests for SQLite store construction and driver selection
// ABOUTME: Covers file creation, nested directories and persistence across reopen

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "inbox.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	seedUsers(t, store, "alice", "bob")
	connect(t, store, "c1", "alice", "bob")
	store.Close()

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetConversationByPair(ctx, "alice", "bob"); err != nil {
		t.Errorf("conversation lost after reopen: %v", err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open("postgres", ":memory:"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpen_CgoDriver(t *testing.T) {
	store, err := Open(DriverCgo, ":memory:")
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED=0") || strings.Contains(err.Error(), "cgo") {
			t.Skip("go-sqlite3 needs cgo")
		}
		t.Fatalf("Open(sqlite3) failed: %v", err)
	}
	defer store.Close()

	seedUsers(t, store, "alice")
	if _, err := store.GetUser(context.Background(), "alice"); err != nil {
		t.Errorf("GetUser failed: %v", err)
	}
}
