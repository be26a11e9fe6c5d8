/*
Package store provides BoltDB-backed persistence for the job engine: queues,
primary and ancillary jobs, workers, and discovery results.

# Architecture

The job engine uses BoltDB (bbolt) for embedded, transactional storage with
zero external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/reconjob.db               │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  queues            (Queue name)              │          │
	│  │  primary_jobs      (PrimaryJob UUID)         │          │
	│  │  ancillary_jobs    (AncillaryJob UUID)       │          │
	│  │  workers           (Worker ID)               │          │
	│  │  scans             (Scan UUID)                │          │
	│  │  hosts             (Host IP)                  │          │
	│  │  ports             (host/port/proto)          │          │
	│  │  domains           (host|name)                │          │
	│  │  ssl_certificates  (fingerprint)               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Claim semantics

ClaimPrimary and ClaimAncillaryBatch run entirely inside one db.Update
transaction: they scan for pending rows, sort by priority and age, flip the
winner(s) to queued with the calling worker's ID, and commit. Because BoltDB
serializes writers, two workers racing the same tick can never observe and
claim the same row: the loser's transaction runs after the winner's has
committed and simply sees the already-updated status.

UpsertPort similarly creates the host (if this is its first sighting) and the
port row (or refreshes an existing one) inside a single transaction, matching
the "upsert, don't branch on exists" pattern used throughout this store.

# Design Patterns

Upsert Pattern:
  - Create and Update use the same method (db.Put) for most entities
  - No separate "exists" check needed for the common case
  - Claim and Upsert operations are the two places uniqueness matters, and
    both resolve it inside one transaction rather than check-then-write

Filter Pattern:
  - List all, filter in memory (ListPrimaryJobsByQueue, ListPortsByHost)
  - Fine at the scale this engine runs at; a secondary index is future work

# See Also

  - pkg/types for entity definitions
  - pkg/scheduler for ClaimPrimary and ClaimAncillaryBatch callers
  - pkg/worker for the dispatch loop that drives the scheduler
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package store
