// Package valkey provides a Valkey storage backend.
//
// Valkey is wire-compatible with Redis. The Store type implements
// [storage.ClientStore], [storage.CodeStore], [storage.TokenStore],
// [storage.UserStore] and [storage.UserWriter], which makes it suitable for
// deployments that run several authorization server replicas.
//
// # Key Schema
//
// All keys use a configurable prefix (default "authserver:"):
//
//	{prefix}client:{clientID}   -> JSON(Client)
//	{prefix}clients             -> ZSET of client IDs scored by creation time
//	{prefix}code:{code}         -> JSON(AuthorizationCode) with TTL
//	{prefix}access:{token}      -> JSON(AccessToken) with TTL
//	{prefix}refresh:{token}     -> JSON(RefreshToken) with TTL
//	{prefix}user:{userID}       -> JSON(User)
//
// # Expiry
//
// Keys carry a TTL derived from their expiry so Valkey removes them without a
// sweeper. Validity is still decided by comparing the stored expiry against
// the caller's clock, so a key that has not been evicted yet is never
// accepted late. Saving a refresh token extends the TTL of its sibling access
// token so rotation can find it after the access token itself has expired.
//
// # Atomic Operations
//
// ConsumeAuthorizationCode and ConsumeRefreshToken run as Lua scripts that
// check the binding and expiry and delete the key in one step. Of any number
// of concurrent callers at most one receives the row.
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "authserver:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// The Lua scripts touch more than one key, so in a cluster all keys of a
// store must hash to the same slot. Use a hash-tagged prefix such as
// "{authserver}:" in that case.
package valkey
