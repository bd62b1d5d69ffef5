package presence

import "errors"

var (
	// ErrNotFound means the referenced connection was already evicted; a
	// race between the sweeper and an in-flight message, treated as a no-op
	// by callers.
	ErrNotFound = errors.New("presence: connection not found")

	// ErrInvalidState means the message type was legal but arrived in the
	// wrong lifecycle state (e.g. PING before JOIN). The message is dropped
	// and the connection stays open.
	ErrInvalidState = errors.New("presence: invalid connection state")

	// ErrRoomLimit means a join would create a room past the configured cap.
	ErrRoomLimit = errors.New("presence: room limit reached")
)
