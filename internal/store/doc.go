// Package store provides persistent storage for the inbox server using SQLite.
//
// # Data Models
//
//   - User: account with display name and avatar
//   - Conversation: the one direct conversation of a user pair
//   - Message: chat message within a conversation
//   - chat.ConnectionRequest: request to open a conversation
//
// Read state is kept per (conversation, user) as a last-read timestamp;
// unread counts are the partner's messages after it.
//
// # SQLite Configuration
//
// Two drivers are supported and selected by name:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// The store runs with WAL mode and foreign keys on:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// At most one pending request may exist per user pair; a partial unique
// index enforces it.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
