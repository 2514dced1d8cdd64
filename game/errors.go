package game

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the transport layer.
type Kind string

const (
	KindValidation Kind = "validation"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Error is the failure half of every game operation. Message is safe to show
// to players; Cause is for the server log only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so sentinels still match after WithMessage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	clone := *e
	clone.Message = fmt.Sprintf(format, args...)
	return &clone
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func internalError(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: message, Cause: cause}
}

// KindOf reports the kind of err. Anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

var (
	ErrInvalidGameName    = newError(KindValidation, "INVALID_GAME_NAME", fmt.Sprintf("Game name must be %d-%d characters", MinNameLength, MaxNameLength))
	ErrInvalidMaxPlayers  = newError(KindValidation, "INVALID_MAX_PLAYERS", fmt.Sprintf("Max players must be between %d-%d", MinPlayers, MaxPlayersLimit))
	ErrInvalidJoinCode    = newError(KindValidation, "INVALID_JOIN_CODE", fmt.Sprintf("Game code must be %d alphanumeric characters", JoinCodeLength))
	ErrInvalidQRCode      = newError(KindValidation, "INVALID_QR_CODE", "Invalid QR code format. Expected ROOM_X (e.g., ROOM_15)")
	ErrInvalidRoom        = newError(KindValidation, "INVALID_ROOM", fmt.Sprintf("Invalid room number. Must be between %d and %d", FirstRoom, TerminalRoom))
	ErrEmptyAnswer        = newError(KindValidation, "EMPTY_ANSWER", "Answer is required")
	ErrNotEnoughPlayers   = newError(KindValidation, "NOT_ENOUGH_PLAYERS", fmt.Sprintf("Need at least %d players to start game", MinPlayers))
	ErrCreatorCannotLeave = newError(KindValidation, "CREATOR_CANNOT_LEAVE", "Game creators cannot leave. Delete the game instead.")

	ErrGameNotFound      = newError(KindNotFound, "GAME_NOT_FOUND", "Game not found")
	ErrGameNotJoinable   = newError(KindNotFound, "GAME_NOT_JOINABLE", "Game not found or already started")
	ErrGameNotActive     = newError(KindNotFound, "GAME_NOT_ACTIVE", "Game not found or not active")
	ErrPlayerNotFound    = newError(KindNotFound, "PLAYER_NOT_FOUND", "Player not found in game")
	ErrQuestionNotFound  = newError(KindNotFound, "QUESTION_NOT_FOUND", "Question not found")
	ErrNoQuestionForRoom = newError(KindNotFound, "NO_QUESTION_FOR_ROOM", "No question found for this room")

	ErrNotYourTurn    = newError(KindForbidden, "NOT_YOUR_TURN", "Not your turn")
	ErrNotCreator     = newError(KindForbidden, "NOT_CREATOR", "Not authorized to manage this game or game already started")
	ErrGameInProgress = newError(KindForbidden, "GAME_IN_PROGRESS", "Players can only leave a game that has not started")

	ErrAlreadyInGame    = newError(KindConflict, "ALREADY_IN_GAME", "You are already in this game")
	ErrGameFull         = newError(KindConflict, "GAME_FULL", "Game is full")
	ErrWrongRoom        = newError(KindConflict, "WRONG_ROOM", "You must be in this room to scan its QR code")
	ErrAnswerPending    = newError(KindConflict, "ANSWER_PENDING", "Answer the question for your current room before rolling again")
	ErrNoPendingTurn    = newError(KindConflict, "NO_PENDING_TURN", "Roll the dice before scanning a room")
	ErrQuestionMismatch = newError(KindConflict, "QUESTION_MISMATCH", "This question was not issued for your current room")
	ErrStateChanged     = newError(KindConflict, "STATE_CHANGED", "The game changed while your action was processed, please refresh")
)
