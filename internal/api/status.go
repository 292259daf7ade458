// ABOUTME: Maps domain sentinel errors to gRPC status codes and back
// ABOUTME: Servers report with ToStatus, clients classify with FromStatus

package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/coven-inbox/internal/chat"
)

// ToStatus converts a domain error into a status error. Errors that already
// carry a status pass through; anything unrecognised becomes Internal.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, chat.ErrAlreadyConnected):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, chat.ErrRequestPending):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, chat.ErrRequestAlreadyResolved):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, chat.ErrNotReceiver), errors.Is(err, chat.ErrNotParticipant):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, chat.ErrInvalidDecision),
		errors.Is(err, chat.ErrEmptyContent),
		errors.Is(err, chat.ErrSelfRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrNoIdentity):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus converts a status error back into an error matching the domain
// sentinel, keeping the server's message. Transport-level codes become
// chat.ErrSendFailed. Non-status errors are treated as transport failures.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", chat.ErrSendFailed, err)
	}

	var sentinel error
	switch st.Code() {
	case codes.AlreadyExists:
		sentinel = chat.ErrAlreadyConnected
	case codes.FailedPrecondition:
		sentinel = chat.ErrRequestPending
	case codes.Aborted:
		sentinel = chat.ErrRequestAlreadyResolved
	case codes.NotFound:
		sentinel = chat.ErrNotFound
	case codes.PermissionDenied:
		sentinel = chat.ErrNotParticipant
		if strings.Contains(st.Message(), chat.ErrNotReceiver.Error()) {
			sentinel = chat.ErrNotReceiver
		}
	case codes.InvalidArgument:
		sentinel = invalidArgument(st.Message())
	case codes.Unauthenticated:
		sentinel = chat.ErrNoIdentity
	default:
		sentinel = chat.ErrSendFailed
	}
	return &Error{Code: st.Code(), Message: st.Message(), sentinel: sentinel}
}

// Error is a decoded status error. errors.Is matches its domain sentinel.
type Error struct {
	Code     codes.Code
	Message  string
	sentinel error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.sentinel }

// Transient reports whether the call may succeed if repeated unchanged.
func Transient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			return true
		}
		return false
	}
	return errors.Is(err, chat.ErrSendFailed)
}

func invalidArgument(msg string) error {
	for _, s := range []error{chat.ErrEmptyContent, chat.ErrSelfRequest, chat.ErrInvalidDecision} {
		if strings.Contains(msg, s.Error()) {
			return s
		}
	}
	return chat.ErrInvalidDecision
}
