// Package protocol defines the petchat wire format.
//
// # Frames
//
// Every message on a chat socket is one frame:
//
//	+----------------+------------------+-----------------+
//	| length (4, BE) | checksum (4, BE) | payload (length)|
//	+----------------+------------------+-----------------+
//
// The checksum is CRC-32 (IEEE polynomial) over the payload bytes, the same
// value zlib.crc32 produces. ReadFrame rejects frames whose checksum does not
// match and frames longer than the configured maximum, both as ErrProtocol.
// A stream that ends or resets mid-read is reported as ErrConnectionClosed so
// callers can tell a departed peer from a misbehaving one.
//
// # Envelopes
//
// The payload is a UTF-8 JSON object decoded into an Envelope. The kind field
// selects the delivery policy applied by the router:
//
//	chat        broadcast to every session except the sender
//	private     delivered to the named recipient only
//	join/leave  session lifecycle, announced to everyone
//	typing      broadcast except sender, not counted
//	ping/pong   heartbeat between one client and the server
//	system      server notices (errors, announcements)
//	roster      list of online identities sent after join
//	emotion     mood analysis outcome
//	memory      extracted memories
//	suggestion  proactive suggestion for one session
//
// Clients may only originate chat, private, join, leave, typing and ping.
package protocol
