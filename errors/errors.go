package mailsync_errors

import "github.com/pkg/errors"

var (
	// pool errors
	ErrPoolClosed    = errors.New("connection pool is closed")
	ErrPoolExhausted = errors.New("no session available within the wait bound")

	// replica errors
	ErrEmailNotFound      = errors.New("email not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrOperationNotFound  = errors.New("operation not found")
	ErrUIDNotMapped       = errors.New("message has no uid under the current mailbox identity")

	// event bus errors
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// mutation errors
	ErrUnknownOperationKind = errors.New("unknown operation kind")
)
