package common

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTooLarge         = errors.New("too large")
	ErrRejected         = errors.New("rejected")
)

// ReplyError is a negative server reply. Kind is one of the sentinels
// above; Reply is the text the server sent.
type ReplyError struct {
	Kind  error
	Reply string
}

func (e *ReplyError) Error() string { return e.Reply }

func (e *ReplyError) Unwrap() error { return e.Kind }

// Classify turns a server reply line into an error, or nil when the reply
// is not a failure.
func Classify(reply string) error {
	switch {
	case strings.HasPrefix(reply, permissionDeniedPrefix):
		return &ReplyError{Kind: ErrPermissionDenied, Reply: reply}
	case strings.HasPrefix(reply, "Error: File '") && strings.HasSuffix(reply, "' not found."):
		return &ReplyError{Kind: ErrNotFound, Reply: reply}
	case strings.HasPrefix(reply, tooLargePrefix):
		return &ReplyError{Kind: ErrTooLarge, Reply: reply}
	case strings.HasPrefix(reply, errorPrefix):
		return &ReplyError{Kind: ErrRejected, Reply: reply}
	}
	return nil
}
