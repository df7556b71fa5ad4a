// Package scanning holds the state shared by the scan engines and the
// coordinator that drives them.
//
// # Overview
//
// Every long-running command executes inside a Session. The session carries
// a unique ID for log correlation, the cooperative cancellation flag, and the
// latest progress percentage so that a status request can report what the
// device is doing without touching the engine.
//
// # Main Components
//
// ## Sessions
//
//   - Session: one running scan; Cancel sets the flag, Cancelled samples it
//   - SessionManager: hands out scan slots; the coordinator uses one slot so
//     engine invocations never overlap
//
// ## Progress
//
// Engines report advancement through a Tracker. The tracker converts "items
// done out of total" into a percentage and forwards a report only when the
// integer percentage changes. Finish always leaves a 100% report as the last
// one, including after cancellation or an early return.
//
// ## Result sinks
//
// Engines never build wire messages. They push results through small
// capability interfaces that the coordinator implements:
//
//   - HostSink: one call per discovered host
//   - PortSink: one call per open port
//   - ProgressSink: one call per de-duplicated progress report
//
// Tests substitute recording implementations of the same interfaces.
//
// # Cancellation
//
// Cancellation is sampled between probes. A probe already in flight (a
// connection attempt, an address resolution, a banner read) runs to its own
// timeout before the engine notices the flag. Engines return whatever they
// collected so far and the coordinator still reports the true count.
package scanning
