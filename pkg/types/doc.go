/*
Package types defines the core entities shared across the granary registry.

The package has no behavior beyond small conversion helpers; it exists so that
storage, index, auth, and API layers agree on a single definition of users,
tokens, crates, versions, index records, and the cargo-protocol response
shapes.

# Entity Relationships

	User ──< Token
	User ──< Owner edge >── Crate ──< CrateVersion
	CrateVersion ── IndexRecord (one JSON line in the index repository)
	CrateVersion ── DocsJob (idempotent by crate+version)

IndexRecord is the wire contract consumed by package-manager clients; its
field order and JSON names must not change. CrateMetadata is the publish-side
counterpart with the richer manifest surface (authors, readme, badges, ...)
that is persisted for crate info but never written to the index.

# See Also

  - pkg/storage for persistence of these entities
  - pkg/index for the on-disk index file format
  - pkg/registry for the operations that tie them together
*/
package types
