// Package state encodes the opaque state parameter carried through the
// browser across the login redirect.
//
// A state blob binds the login callback to the request that started it. It
// embeds a CSRF token that the caller also keeps in a cookie, the client the
// authorization request came from, and where to send the browser afterwards:
//
//	codec := state.NewCodec(key, logger)
//	blob, err := codec.Encode(csrf, clientID, returnTo)
//	...
//	st, err := codec.Decode(r.URL.Query().Get("state"))
//	if err != nil {
//	    // reject, never continue with defaults
//	}
//
// The encoding is authenticated with HMAC-SHA256, so a blob cannot be built
// or edited without the key. It is not encrypted. CSRF protection comes from
// comparing State.CSRFToken with the value the caller tracked independently.
package state
