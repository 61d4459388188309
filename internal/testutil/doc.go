// Package testutil provides fixtures shared by the package tests: a
// controllable clock, PKCE verifier/challenge pairs, and canned clients and
// users.
package testutil
