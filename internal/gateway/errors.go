package gateway

import "errors"

var (
	errUnauthorized   = errors.New("unauthorized: bad token")
	errNotOwner       = errors.New("restricted to owner")
	errNoDispatcher   = errors.New("gateway: no dispatch function configured")
	errMessageTooLong = errors.New("message exceeds configured max_message_chars")
)
