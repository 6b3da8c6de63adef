package player

import "errors"

var (
	// ErrIdentityRequired is returned when a call carries no verified identity.
	ErrIdentityRequired = errors.New("an identity is required")
	// ErrInvalidName is returned for blank or overlong display names.
	ErrInvalidName = errors.New("invalid display name")
	// ErrNotJoined is returned when answering a session the caller never joined.
	ErrNotJoined = errors.New("player has not joined this session")
	// ErrQuestionClosed is returned when the question is not open for answers.
	ErrQuestionClosed = errors.New("question is not accepting answers")
	// ErrInvalidAnswer is returned for answer indexes outside the options.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrAlreadyAnswered marks a duplicate submission. It never reaches callers
	// of SubmitAnswer, which report it through SubmitResult.AlreadyAnswered.
	ErrAlreadyAnswered = errors.New("question already answered")
)
