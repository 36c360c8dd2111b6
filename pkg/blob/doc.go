/*
Package blob provides the S3-compatible object store client used for crate
archives and documentation artifacts.

Requests are signed with AWS Signature Version 4; no AWS SDK is involved
because the registry must control the canonicalization byte-for-byte (the
signing pipeline is validated against the published AWS test vectors).

# Object Layout

	crates/{name}/{name}-{vers}.crate    crate archives
	docs/{name}/{vers}/...               documentation trees

Keys are content-addressed per version, so a retried upload overwrites the
same bytes and is idempotent.

# Failure Classification

Transient failures (5xx, 408, 429, connection errors) are retried with
exponential backoff up to a small bounded number of attempts. Everything else
surfaces immediately: 404 as a typed not-found, other 4xx as upstream
failures carrying the response body.

# Signing

The canonical request is

	METHOD \n URI \n QUERY \n HEADERS \n \n SIGNED_HEADERS \n PAYLOAD_HASH

with the URI encoded over the passthrough set A-Za-z0-9/-_.~ (uppercase %XX
otherwise), query parameters sorted by encoded key then value, and headers
lowercased and sorted. PresignGet implements the query-string variant used by
the download redirect.

# See Also

  - pkg/registry for the publish pipeline calling Put/Delete
  - pkg/api for the download redirect built on PresignGet
*/
package blob
