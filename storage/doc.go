// Package storage defines the repository interfaces the authorization server
// persists its state through: registered clients, single-use authorization
// codes, access and refresh tokens, and the end users they are issued for.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-process storage for development and testing
//   - storage/sqlstore: relational storage (SQLite, PostgreSQL, MySQL)
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//
// Every backend is exercised by the shared suite in storage/storagetest.
package storage
