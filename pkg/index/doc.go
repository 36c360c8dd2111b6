/*
Package index maintains the git-backed index repository consumed by
package-manager clients.

Each crate has one file whose lines are JSON records, one per published
version, in publish order. Files live at the sharded path computed by
CratePath, and config.json at the repository root advertises the download and
API endpoints.

# Concurrency

The registry process is the only writer. Mutations are serialized through the
repository mutex: the publish pipeline acquires it with Lock before hashing
the archive and releases it after the metadata store commits, so at most one
publish or yank touches the working tree at a time and the per-crate file
order matches the database commit order. Readers take the mutex in shared
mode and observe either the pre- or post-commit state atomically.

# Push and Rollback

When a remote is configured with push enabled, every commit is pushed over
SSH before the publish continues. Push failure is fatal for the publish: the
local commit is rolled back (reset --hard HEAD~1) before the error surfaces.
If the database transaction fails after a successful push, Rollback
force-pushes the reset; an impossible force-push is logged prominently.

# See Also

  - pkg/registry for the pipeline holding the mutex across commit and
    database transaction
  - pkg/types for the IndexRecord wire format
*/
package index
