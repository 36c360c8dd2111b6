/*
Package docs drains the documentation job queue.

Each published version enqueues one idempotent job keyed by (crate, version).
The worker claims jobs with a compare-and-set (queued → running), runs a
Generator, and uploads the resulting artifact tree to the blob store under

	docs/{name}/{vers}/...

which is the layout contract the documentation front end reads from.

The in-process Generator is a placeholder landing page; the real builder is
an external worker that publishes through the same API surface using the
self-service credential. Failed jobs retry up to a small bounded number of
attempts before landing in the failed state.

# See Also

  - pkg/storage for the queue semantics
  - pkg/events for the publish events that wake the worker
*/
package docs
