// Package worker implements the process that claims jobs from the
// Scheduler and executes them.
//
// A Worker registers itself in the Store, then runs two independent
// loops for the lifetime of the process:
//
//   - heartbeatLoop refreshes its last_heartbeat row every
//     HeartbeatInterval so the reconciler sweeper can detect a crashed
//     process.
//   - dispatchLoop ticks every DispatchInterval, asks the Scheduler to
//     claim one primary job or a batch of ancillary jobs, and runs them
//     concurrently up to MaxConcurrent.
//
// Primary jobs (masscan) are handed to the discovery package; ancillary
// jobs (banner_grab, ssl_cert, domain_enum, geolocation) are handed to the
// analyzer package. A banner_grab result that looks like HTTP(S) or a
// TLS-wrapped mail service enqueues its own ssl_cert/domain_enum
// follow-ups, so service detection keeps widening the picture of a host
// without rescanning it.
//
// Stop requests a graceful shutdown: the dispatch loop stops claiming new
// work, in-flight jobs are given ShutdownDrain to finish, and any job of
// this worker still queued or running past that deadline is marked failed
// with "Worker shutdown". The reconciler sweeper only reverts queued and
// running jobs, so these failed jobs are not requeued.
package worker
