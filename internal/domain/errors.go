package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned when no caller identity was presented.
	ErrAuthRequired = errors.New("auth required")
	// ErrInsufficientCredit is returned when credits minus pending sessions leaves no headroom.
	ErrInsufficientCredit = errors.New("no available credit")
	// ErrNoQuestions indicates the active question bank is empty.
	ErrNoQuestions = errors.New("no questions available")
	// ErrSessionNotFound is returned for unknown or not-owned sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidState is returned when the operation is not valid for the session state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrSessionExpired is returned for submissions past the deadline.
	ErrSessionExpired = errors.New("session expired")

	// ErrTournamentNotFound indicates an unknown tournament id.
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrTournamentNotStarted is returned before the play window opens.
	ErrTournamentNotStarted = errors.New("tournament has not started yet")
	// ErrTournamentEnded is returned after the play window closes.
	ErrTournamentEnded = errors.New("tournament has ended")
	// ErrTournamentSettled is returned once prizes have been distributed.
	ErrTournamentSettled = errors.New("tournament is already settled")
	// ErrNotRegistered is returned when the player never registered for the tournament.
	ErrNotRegistered = errors.New("not registered for this tournament")
	// ErrNoPassesRemaining is returned when the player has no play passes left.
	ErrNoPassesRemaining = errors.New("no passes remaining")

	// ErrInsufficientPoolFunds is a recoverable settlement failure: the
	// funding pool cannot cover the payout right now.
	ErrInsufficientPoolFunds = errors.New("insufficient pool funds")
	// ErrTransactionReverted is a recoverable settlement failure: the
	// submitted transaction was mined but reverted.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrOwnerMismatch is fatal: the configured signing identity does not
	// match the on-chain settlement authority.
	ErrOwnerMismatch = errors.New("signer does not match contract owner")
)

// QuotaExceededError carries the current daily play count alongside the limit.
type QuotaExceededError struct {
	PlaysToday    int
	MaxDailyPlays int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily tournament limit reached (%d/%d)", e.PlaysToday, e.MaxDailyPlays)
}

// UnprocessableOptionError reports an option id outside the session's
// persisted snapshot for a question.
type UnprocessableOptionError struct {
	QuestionID int64
	OptionID   int64
}

func (e *UnprocessableOptionError) Error() string {
	return fmt.Sprintf("option %d not in session for question %d", e.OptionID, e.QuestionID)
}
