// ABOUTME: Sentinel errors surfaced by the inbox engine and the reference server
// ABOUTME: Callers classify with errors.Is; Retryable marks the ones worth repeating

package chat

import "errors"

var (
	// ErrAlreadyConnected is returned when a conversation already exists between the pair.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrRequestPending is returned when a request is outstanding between the pair in either direction.
	ErrRequestPending = errors.New("request pending")
	// ErrRequestAlreadyResolved is the conflict reported when resolving a non-pending request.
	ErrRequestAlreadyResolved = errors.New("request already resolved")
	// ErrSendFailed wraps network and transport failures on the send path.
	ErrSendFailed = errors.New("send failed")
	// ErrStaleSessionResult marks an async result for a session that is no longer open.
	ErrStaleSessionResult = errors.New("stale session result")
	// ErrChannelUnavailable means push updates are paused until the channel reconnects.
	ErrChannelUnavailable = errors.New("channel unavailable")

	ErrNotFound        = errors.New("not found")
	ErrNotReceiver     = errors.New("only the receiver can resolve a request")
	ErrNotParticipant  = errors.New("not a participant of the conversation")
	ErrInvalidDecision = errors.New("invalid decision")
	ErrEmptyContent    = errors.New("message content is empty")
	ErrSelfRequest     = errors.New("cannot send a request to yourself")
	ErrNoIdentity      = errors.New("no active identity")
)

// Retryable reports whether the caller may retry the failed action.
func Retryable(err error) bool {
	return errors.Is(err, ErrSendFailed) ||
		errors.Is(err, ErrRequestPending) ||
		errors.Is(err, ErrAlreadyConnected)
}
