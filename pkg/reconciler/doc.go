// Package reconciler implements the crash-recovery sweeper: a background
// loop that finds jobs whose assigned worker has gone stale (heartbeat
// older than HeartbeatInterval * StaleWorkerMultiple) and makes them
// schedulable again.
//
// Each cycle first marks stale workers offline, then walks primary and
// ancillary jobs: a job whose AssignedWorker is one of those stale IDs and
// whose status is still queued or running is reverted to pending with its
// AssignedWorker cleared. retry_count is only incremented when the job was
// actually running (a merely queued job never started, so it hasn't
// consumed a retry); once retry_count exceeds MaxRetries the job is marked
// failed with "exhausted retries" instead of being requeued.
package reconciler
