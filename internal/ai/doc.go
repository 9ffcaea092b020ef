// Package ai runs triggered analysis tasks against a language-model provider.
//
// Tasks are queued without blocking and executed by a fixed pool of workers,
// which bounds concurrent provider calls. Each attempt that fails with a
// transient error is retried after an exponential backoff (base, 2*base, ...
// capped at a maximum) until the attempt ceiling or the task deadline is
// reached. A call already in flight when the deadline passes runs to
// completion and its result is discarded.
//
// Provider replies are free text. The first well-formed JSON value in the
// reply is extracted and decoded into an Outcome. Replies that contain no
// usable JSON are dropped; clients never see AI failures.
//
// Submit returns a Handle per task. Successful outcomes are also pushed onto
// the Results channel, which the router consumes to deliver synthetic
// envelopes.
package ai
