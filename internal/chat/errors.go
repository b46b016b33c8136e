package chat

import "errors"

var (
	// ErrNotParticipant is returned when the acting user has no rights on
	// the conversation.
	ErrNotParticipant = errors.New("not a participant")

	// ErrForbidden is returned for operations the acting user may never
	// perform, like editing someone else's message.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidMessage is returned for malformed send/edit requests.
	ErrInvalidMessage = errors.New("invalid message")
)
