/*
Package security provides the credential primitives for the registry.

Three concerns live here:

  - Token generation: random alphanumeric secrets for API tokens and the
    process-lifetime self-service principal.
  - Secret verification: secrets are persisted only as SHA-256 digests and
    compared in constant time.
  - Content hashing: the lowercase hex SHA-256 used for crate checksums and
    S3 payload hashes.

# Design Patterns

Digest-only storage:
  - The secret value leaves the process exactly once, in the response to the
    token creation call.
  - Lookups digest the presented secret and compare with crypto/subtle.

# See Also

  - pkg/auth for principal resolution on top of these primitives
  - pkg/storage for digest persistence
*/
package security
