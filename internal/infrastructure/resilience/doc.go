// Package resilience provides the in-process circuit breaker that
// guards calls to upstream release hosts.
//
// The breaker is a three-state machine:
//
//   - Closed: requests flow through while outcomes accumulate. When the
//     trip predicate fires after a failure, the breaker opens.
//   - Open: requests are rejected immediately with ErrCircuitOpen. After
//     the configured timeout the breaker moves to half-open.
//   - Half-open: up to MaxRequests probe requests are admitted, beyond
//     that ErrTooManyProbes. That many consecutive successes close the
//     breaker; any probe failure reopens it.
//
// Counts are scoped to a generation. Every transition, and every
// closed-state interval rollover, starts a new generation and clears
// the counts; a request that settles after its generation has been
// superseded is dropped. A download that stalls and fails long after
// the breaker has recovered cannot reopen it.
//
// The release client configures a lenient trip predicate (a long run of
// consecutive failures, or a sustained failure rate) so a brief API
// hiccup does not lock plugin installs out.
package resilience
