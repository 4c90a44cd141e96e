package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no active session matches the code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrGameAlreadyStarted is returned when a join or start targets a session past WAITING.
	ErrGameAlreadyStarted = errors.New("game already started")
	// ErrNotAuthorized is returned when a caller other than the owning teacher invokes a teacher operation.
	ErrNotAuthorized = errors.New("caller is not the session teacher")
	// ErrPlayerNotFound is returned when a player id is unknown to the session.
	ErrPlayerNotFound = errors.New("player not found in session")
	// ErrInvalidTarget is returned when a hack names the attacker as its own target.
	ErrInvalidTarget = errors.New("cannot hack yourself")
	// ErrAlreadyJoined is returned when the same student identity joins a session twice.
	ErrAlreadyJoined = errors.New("student already joined this session")
	// ErrQuestionSetNotFound indicates the question set could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
)
