package session

import "errors"

var (
	// ErrAllocationExhausted means every pin drawn collided with a live session.
	ErrAllocationExhausted = errors.New("could not allocate a session pin, try again")
	// ErrExpired is returned for lobbies that outlived their TTL.
	ErrExpired = errors.New("session expired")
	// ErrSessionClosed is returned once a session has finished.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidTransition is returned when a command does not apply to the current state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrNotHost is returned when someone other than the host issues a host command.
	ErrNotHost = errors.New("only the host may control this session")
	// ErrInvalidQuiz is returned when the quiz for a new session does not validate.
	ErrInvalidQuiz = errors.New("invalid quiz")
)
