package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrNoSession is returned for control commands that need an active quiz.
	ErrNoSession = errors.New("no active quiz session")
	// ErrRoundOpen is returned when a round is opened while one is in flight.
	ErrRoundOpen = errors.New("a question round is already open")
	// ErrNoRound is returned for commands that need an open round.
	ErrNoRound = errors.New("no open question round")
	// ErrUserNotFound indicates an identity lookup against the store failed.
	ErrUserNotFound = errors.New("user not found")
	// ErrDegradedClose marks a round that closed in memory but failed to
	// persist its responses. Callers must not treat it as a clean close.
	ErrDegradedClose = errors.New("round closed without persisting responses")
)
