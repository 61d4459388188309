// Package server implements the authorization server protocol engine.
//
// The Server type validates clients, redirect URIs and scopes, issues
// single-use authorization codes, verifies PKCE, issues opaque access and
// refresh tokens, validates access tokens, rotates refresh tokens and
// projects user claims by scope. All state lives in the storage interfaces
// passed to New; the engine itself keeps nothing between requests.
//
// Key properties:
//   - An authorization code is redeemed at most once, even under concurrent
//     exchange attempts, because consumption is a single atomic store step
//   - A refresh token is usable exactly once; rotation deletes the old pair
//   - Expired codes and tokens never validate, whether or not a sweep ran
//   - Client secrets are stored as bcrypt hashes and compared in constant time
//
// Validation failures are reported as sentinel errors (ErrInvalidClient,
// ErrInvalidGrant, ...) that do not reveal which check failed. Any other
// error is a store failure and is returned wrapped, without retries.
//
// Example usage:
//
//	store := memory.New()
//	srv, err := server.New(store, store, store, store, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	token, err := srv.ExchangeAuthorizationCode(ctx, clientID, secret, code, redirectURI, verifier)
package server
