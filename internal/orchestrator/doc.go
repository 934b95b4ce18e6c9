// Package orchestrator schedules the ETL work unit.
//
// The orchestrator runs the work unit once as soon as it is started, then
// waits a fixed delay measured from the end of the previous run and runs it
// again, until it is stopped. Operators can also run the work unit on demand
// through RunNow, which is what the manual trigger endpoint uses.
//
// # Lifecycle
//
// The schedule moves through the following states:
//
//	Idle -> Starting -> (Invoking <-> Waiting) -> Stopping -> Stopped
//
// Start returns once the background loop is running. Stop cancels the loop and
// waits, up to a bound, for the loop to exit. Cancellation is only observed
// while the loop is waiting: a run that is already executing is never
// interrupted, it runs on a context detached from the loop's cancellation and
// keeps the caller's values and trace.
//
// # Failures
//
// A failing run is logged, counted in the status snapshot and recorded in
// metrics. The loop keeps going and the next run happens one interval later.
// There is no retry within a tick.
//
// # Concurrency
//
// Scheduled runs are strictly serialized. How manual runs interact with them
// is chosen with WithConcurrencyPolicy:
//
//   - PolicyConcurrent lets manual and scheduled runs overlap
//   - PolicySingleFlight makes callers that arrive during a run share its result
//   - PolicyReject refuses a run with ErrInFlight while another one executes
package orchestrator
