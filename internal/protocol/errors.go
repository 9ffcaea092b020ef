// ABOUTME: Error taxonomy shared by the codec, the session registry and the router
// ABOUTME: Client-caused errors carry a stable code reported in SYSTEM envelopes

package protocol

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed means the peer went away. It triggers session teardown.
var ErrConnectionClosed = errors.New("connection closed")

// ErrProtocol is the parent of every framing or payload violation.
// The offending connection is closed.
var ErrProtocol = errors.New("protocol error")

var (
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrProtocol)
	ErrOversize         = fmt.Errorf("%w: frame exceeds maximum size", ErrProtocol)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrProtocol)
)

// Client-caused errors. These are reported back to the client and the
// connection stays open, except for ErrDuplicateIdentity and ErrNotJoined
// which happen before a session exists.
var (
	ErrDuplicateIdentity = errors.New("identity already in use")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrForbiddenKind     = errors.New("forbidden message kind")
	ErrInvalidEnvelope   = errors.New("invalid envelope")
	ErrNotJoined         = errors.New("first message must be a join")
)

// Notice codes carried in the data of SYSTEM envelopes.
const (
	CodeDuplicateIdentity = "duplicate_identity"
	CodeRecipientNotFound = "recipient_not_found"
	CodeForbiddenKind     = "forbidden_kind"
	CodeInvalidEnvelope   = "invalid_envelope"
	CodeNotJoined         = "not_joined"
	CodeProtocolError     = "protocol_error"
	CodeInternal          = "internal"
)

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateIdentity):
		return CodeDuplicateIdentity
	case errors.Is(err, ErrRecipientNotFound):
		return CodeRecipientNotFound
	case errors.Is(err, ErrForbiddenKind):
		return CodeForbiddenKind
	case errors.Is(err, ErrInvalidEnvelope):
		return CodeInvalidEnvelope
	case errors.Is(err, ErrNotJoined):
		return CodeNotJoined
	case errors.Is(err, ErrProtocol):
		return CodeProtocolError
	default:
		return CodeInternal
	}
}

// IsClientError reports whether err was caused by a well-framed but
// unacceptable client request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRecipientNotFound) ||
		errors.Is(err, ErrForbiddenKind) ||
		errors.Is(err, ErrInvalidEnvelope)
}
