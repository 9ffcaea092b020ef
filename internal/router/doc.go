// Package router dispatches envelopes between sessions and feeds the AI
// pipeline.
//
// Client traffic enters through Join, Dispatch and Leave, each called from
// the connection's own read goroutine, so one session's envelopes are always
// handled in order and its trigger counters have a single writer. AI outcomes
// enter through Deliver (or Run, which drains the orchestrator's results)
// from a separate goroutine. Both paths only touch shared state through the
// session registry, which snapshots recipients and enqueues outside its lock.
//
// Delivery rules:
//
//	chat        broadcast to every other session, counted, may fire triggers
//	private     the named recipient only; unknown recipient is reported back
//	typing      broadcast to every other session, not counted
//	ping        answered with pong to the sender
//	emotion     broadcast to everyone (AI outcome)
//	memory      broadcast to everyone, repeats suppressed (AI outcome)
//	suggestion  the session whose message fired it (AI outcome)
//
// Persistence is best effort: store failures are logged and never change
// what gets delivered.
package router
