package session

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionEnded is returned by a refresh whose session was logged out
	// while the request was in flight.
	ErrSessionEnded = errors.New("session ended during refresh")
)
