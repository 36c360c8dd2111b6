/*
Package registry implements the registry operations: the publish pipeline,
yank/unyank, the query surface, owner management, and the user and token
administration.

# Publish Pipeline

Publish runs in a fixed order, all stages after archive hashing under the
index mutex so that the blob upload, the index commit, and the metadata
store transaction are serialized with every other publish and yank:

 1. capability check and principal resolution
 2. envelope decode and metadata validation (warnings accumulate)
 3. ownership check (a new crate records the caller as first owner)
 4. uniqueness check on (name, version), yanked versions included
 5. archive hashing (SHA-256)
 6. blob upload to the canonical key
 7. index append, commit, and push when configured
 8. metadata store transaction (version row, owner edge, docs job)

Compensation runs in reverse order of the forward path: a failed index
append deletes the uploaded blob; a failed store transaction rolls the index
commit back (force-pushing the reset when a push already happened) and then
deletes the blob. Stages one through five have no external side effects and
simply fail.

# Authorization Model

Reading requires any authenticated principal. Publishing requires the write
capability plus ownership (or a new crate). Yank and owner changes accept
owner or admin, where admin means the credential carries can_admin and the
user holds the admin role; the self-service principal is always an admin but
owns no crates and cannot publish.

# See Also

  - pkg/index for the mutex and rollback semantics
  - pkg/storage for the single-transaction write set
  - pkg/blob for the archive keys
*/
package registry
