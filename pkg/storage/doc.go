/*
Package storage provides BoltDB-backed persistence for the registry metadata.

The storage package implements the Store interface using BoltDB, providing
ACID transactions for users, API tokens, crates, versions, owner edges, and
the documentation job queue. All data is serialized as JSON and stored in
separate buckets, with small secondary-index buckets for the unique lookups
(email, login, token digest, docs-job reference).

# Architecture

	┌────────────────── BOLTDB STORAGE ────────────────────┐
	│                                                       │
	│  BoltStore                                            │
	│  - File: <dataDir>/registry.db                        │
	│  - Transactions: ACID with fsync                      │
	│                                                       │
	│  Buckets                                              │
	│  ┌──────────────────────────────────────────┐        │
	│  │ users            (big-endian id)          │        │
	│  │ users_by_email   (lowercased email → id)  │        │
	│  │ users_by_login   (login → id)             │        │
	│  │ tokens           (user id / token id)     │        │
	│  │ tokens_by_digest (sha256 hex → token key) │        │
	│  │ crates           (crate name)             │        │
	│  │ crate_metadata   (crate name)             │        │
	│  │ versions         (name@vers)              │        │
	│  │ owners           (crate name → []user id) │        │
	│  │ docs_jobs        (uuid)                   │        │
	│  │ docs_jobs_by_ref (name@vers → uuid)       │        │
	│  └──────────────────────────────────────────┘        │
	└───────────────────────────────────────────────────────┘

# Transaction Model

Read operations use db.View (concurrent, snapshot-isolated); every mutation
uses one db.Update. ApplyPublish is the important case: crate creation,
version insert, latest-metadata replacement, the first owner edge and the
docs job land in a single transaction, so the publish pipeline can treat the
metadata store write-set as atomic. The caller (pkg/registry) holds the index
mutex across the index commit and this transaction, which is what keeps the
index and database in lock-step.

# Error Mapping

Lookups that miss return apierr not-found; unique violations (duplicate
version, duplicate token name, duplicate owner) return apierr conflict;
token checks that fail for any reason return apierr unauthorized without
distinguishing the cause.

# See Also

  - pkg/registry for the orchestration on top of this store
  - pkg/types for the entity definitions
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
