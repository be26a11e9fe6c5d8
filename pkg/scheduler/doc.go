/*
Package scheduler claims pending work from the Store on behalf of polling
workers.

This scheduler never decides where work runs ahead of time: workers pull.
Each call to ClaimForWorker runs one claim cycle for a single worker:

	┌────────────────────────────────────────────────────────────┐
	│  ClaimForWorker(workerID, supportedTypes)                  │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Try Store.ClaimPrimary(workerID, supportedTypes)       │
	│     - walks enabled queues in descending priority          │
	│     - found  -> return it, skip ancillary claim this tick  │
	│     - none   -> fall through                               │
	│  2. Store.ClaimAncillaryBatch(workerID, batchSize, prio)   │
	└────────────────────────────────────────────────────────────┘

Preferring one primary job per tick over filling ancillary slots keeps
ancillary traffic from starving scan execution; ancillary work is only
considered when no primary job is pending.

# Claim safety

All claim logic lives in the Store implementation (pkg/store), inside a
single BoltDB write transaction per call. The scheduler itself is stateless
and safe to call concurrently from any number of worker goroutines or
processes sharing the same Store.

# See Also

  - pkg/store for ClaimPrimary/ClaimAncillaryBatch
  - pkg/worker for the dispatcher loop that calls ClaimForWorker
  - pkg/reconciler for recovering claims abandoned by crashed workers
*/
package scheduler
