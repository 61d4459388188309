// Command authserver runs the OAuth 2.0 authorization server and its
// administrative commands.
package main

import "github.com/giantswarm/oauth-authserver/internal/cli"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cli.Execute(version)
}
