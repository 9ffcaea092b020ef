// Package gateway runs the petchat server process.
//
// # Overview
//
// New wires the long-lived components from a config.Config:
//
//   - store.Store (SQLite unless injected with WithStore)
//   - session.Registry of live sessions
//   - trigger.Scheduler deciding when AI tasks fire
//   - ai.Orchestrator with the provider adapter chosen by model name
//   - router.Router dispatching envelopes and delivering AI outcomes
//   - dedupe.Cache suppressing repeated memories
//
// Run binds the listeners and runs everything in one errgroup until the
// context is canceled or a server fails:
//
//	chat     framed TCP protocol        server.listen_addr (tailnet: tailscale.port)
//	http     admin API                  server.http_addr   (tailnet: :80)
//	grpc     grpc.health.v1 only        server.grpc_addr   (tailnet: :50051)
//
// # Connection Lifecycle
//
// Each accepted socket becomes a session.Connection with its own writer
// goroutine. The handler goroutine reads:
//
//  1. The first envelope must be a JOIN within server.handshake_timeout,
//     otherwise the peer gets a SYSTEM notice and is disconnected.
//  2. Every later envelope goes through router.Dispatch. Client-caused
//     failures come back as SYSTEM notices and the connection stays open.
//  3. A protocol error (bad checksum, oversize frame, malformed payload) is
//     reported and the connection closed.
//  4. On LEAVE, disconnect or shutdown the session is removed and the room
//     is told.
//
// # HTTP API
//
//	GET    /health            liveness
//	GET    /health/ready      503 until the chat listener is up
//	GET    /api/sessions      live sessions
//	GET    /api/stats         router and AI counters
//	GET    /api/messages      ?session=&since=&limit=
//	GET    /api/memories      ?category=
//	DELETE /api/memories      ?category=
//	GET    /api/emotions      ?since=&limit=
//
// The API has no authentication; bind it to loopback or the tailnet.
//
// # Shutdown
//
// Shutdown closes the chat listener, disconnects every session, waits for
// the handlers to finish, then stops the HTTP and gRPC servers, leaves the
// tailnet and closes the store.
package gateway
