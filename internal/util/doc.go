// Package util holds small helpers shared across packages: log-safe
// truncation of credentials and hostname classification for redirect URI
// checks.
package util
