// Package sqlstore implements the storage interfaces on a relational
// database through database/sql. Three dialects are supported:
//
//   - sqlite, using the pure-Go modernc.org/sqlite driver
//   - postgres, using github.com/jackc/pgx/v5 through its stdlib adapter
//   - mysql, using github.com/go-sql-driver/mysql
//
// Every entity has an explicit column list and scan function in mapping.go;
// nothing is derived from struct field names at runtime. Timestamps are
// stored as BIGINT unix milliseconds so expiry comparisons behave the same
// on every dialect.
//
// Codes and refresh tokens are consumed with a single
// DELETE ... RETURNING on sqlite and postgres. MySQL has no RETURNING, so
// there the row is locked with SELECT ... FOR UPDATE and deleted in the same
// transaction.
package sqlstore
