// Package session owns chat sockets and the registry of live sessions.
//
// A Connection wraps one accepted socket. The caller reads frames on its own
// goroutine with ReadEnvelope; outbound frames go through a bounded FIFO queue
// drained by a writer goroutine, so a stalled peer never blocks delivery to
// anyone else. A peer whose queue fills up is treated as a slow consumer and
// disconnected.
//
// The Registry maps identity to Session under a single RWMutex. Register and
// Unregister take the write lock; Broadcast copies the recipients under the
// read lock and enqueues outside it. The lock is never held across a socket
// write.
package session
