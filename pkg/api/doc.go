/*
Package api exposes the registry over the cargo-compatible HTTP protocol.

The router is a chi tree with three surfaces:

  - Unauthenticated: /health, /ready, /live, /metrics, and the browser OAuth
    endpoints /login and /callback.
  - The cargo API under /api/v1: publish, search, crate info, versions,
    download redirect, yank/unyank, owners. Every route resolves a principal
    first, matching the auth-required flag advertised in the index.
  - Account and admin extras under /api/v1: /me, token management, and the
    admin-only user listing and patching.

Errors leave the server exclusively as the upstream-compatible envelope
{"errors":[{"detail":...}]} with the status mapped from the error kind.
Request bodies are capped at the configured body limit, and every request is
logged and measured through the shared middleware.

# See Also

  - pkg/registry for the operations behind each handler
  - pkg/auth for principal resolution
  - pkg/apierr for the status mapping
*/
package api
