/*
Package client is a Go client for the registry's cargo-compatible HTTP API.

It speaks the same wire formats the server defines in pkg/types: the binary
publish envelope, the JSON index records, and the {errors:[{detail}]} error
envelope, which it maps back to the typed error kinds in pkg/apierr so
callers can test with errors.Is.

The internal documentation builder authenticates with the self-service
credential injected at startup; external tooling passes a regular API token.

# Usage

	c := client.New("https://crates.example.com", token)
	result, err := c.Publish(ctx, metadata, archive)
	if errors.Is(err, apierr.Conflict("")) {
		// version already exists
	}
*/
package client
