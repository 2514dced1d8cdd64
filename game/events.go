package game

import "time"

// Scope selects who in a game's group receives an event.
type Scope int

const (
	// ScopeAll reaches every connection in the game, the actor included.
	ScopeAll Scope = iota
	// ScopeOthers skips the actor's connections.
	ScopeOthers
)

func (s Scope) String() string {
	if s == ScopeOthers {
		return "others"
	}
	return "all"
}

// Base is the envelope every event carries.
type Base struct {
	GameID    int64     `json:"gameId"`
	ActorID   int64     `json:"userId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (b Base) Envelope() Base { return b }

// NewBase stamps an envelope with the current time.
func NewBase(gameID, actorID int64, message string) Base {
	return Base{GameID: gameID, ActorID: actorID, Message: message, Timestamp: time.Now().UTC()}
}

// Event is one of the realtime notifications below. The set is closed: only
// types in this package satisfy it.
type Event interface {
	Name() string
	Envelope() Base
	sealed()
}

// Notifier fans events out to connected clients. Publish must not block on
// slow clients and never reports delivery failures.
type Notifier interface {
	Publish(scope Scope, ev Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Publish(Scope, Event) {}

type PlayerJoined struct {
	Base
	Username    string `json:"username"`
	TurnOrder   int    `json:"turnOrder,omitempty"`
	PlayerCount int    `json:"playerCount,omitempty"`
}

type PlayerLeft struct {
	Base
	Username string `json:"username"`
}

type PlayerDisconnected struct {
	Base
	Username string `json:"username"`
}

// RoomInfo is sent back to a connection once it has joined a game's group.
type RoomInfo struct {
	Base
	PlayerCount int `json:"playerCount"`
}

// UpdatePlayerList tells clients to refetch the player list.
type UpdatePlayerList struct {
	Base
}

type GameStarted struct {
	Base
	CurrentTurnPlayerID   int64  `json:"currentTurnPlayerId"`
	CurrentTurnPlayerName string `json:"currentTurnPlayerName"`
}

type GameDeleted struct {
	Base
}

type PlayerMoved struct {
	Base
	Username     string `json:"username,omitempty"`
	DiceRoll     int    `json:"diceRoll"`
	FromPosition int    `json:"fromPosition,omitempty"`
	Position     int    `json:"position"`
}

// PlayerPosition is a client-reported move relayed to the other connections.
// Server-side rolls are announced as PlayerMoved.
type PlayerPosition struct {
	Base
	Username string `json:"username"`
	DiceRoll int    `json:"diceRoll"`
	Position int    `json:"position"`
}

type QRScanned struct {
	Base
	QRCode     string `json:"qrCode"`
	Room       int    `json:"room,omitempty"`
	QuestionID int64  `json:"questionId,omitempty"`
}

// AnswerResult relays a client's own view of its answer to the other clients.
type AnswerResult struct {
	Base
	QuestionID int64 `json:"questionId"`
	IsCorrect  bool  `json:"isCorrect"`
}

// AnswerSubmitted is the authoritative grading of an answer.
type AnswerSubmitted struct {
	Base
	PlayerName  string `json:"playerName"`
	QuestionID  int64  `json:"questionId"`
	IsCorrect   bool   `json:"isCorrect"`
	ScoreChange int    `json:"scoreChange"`
	NewScore    int    `json:"newScore"`
	NewPosition int    `json:"newPosition"`
}

type TurnChanged struct {
	Base
	PreviousTurnPlayerID  int64  `json:"previousTurnPlayerId"`
	CurrentTurnPlayerID   int64  `json:"currentTurnPlayerId"`
	CurrentTurnPlayerName string `json:"currentTurnPlayerName"`
}

type GameWinner struct {
	Base
	WinnerID      int64  `json:"winnerId"`
	WinnerName    string `json:"winnerName"`
	FinalPosition int    `json:"finalPosition"`
}

type ShowWinnerModal struct {
	Base
}

type PlayerReturnedDashboard struct {
	Base
}

// ErrorNotice reports a rejected client message back to its sender.
type ErrorNotice struct {
	Base
}

func (PlayerJoined) Name() string { return "player-joined" }
func (PlayerLeft) Name() string { return "player-left" }
func (PlayerDisconnected) Name() string { return "player-disconnected" }
func (RoomInfo) Name() string { return "room-info" }
func (UpdatePlayerList) Name() string { return "update-player-list" }
func (GameStarted) Name() string { return "game-started" }
func (GameDeleted) Name() string { return "game-deleted" }
func (PlayerMoved) Name() string { return "player-moved" }
func (PlayerPosition) Name() string { return "player-position" }
func (QRScanned) Name() string { return "qr-scan-event" }
func (AnswerResult) Name() string { return "answer-result" }
func (AnswerSubmitted) Name() string { return "answer-submitted" }
func (TurnChanged) Name() string { return "turn-changed" }
func (GameWinner) Name() string { return "game-winner" }
func (ShowWinnerModal) Name() string { return "show-winner-modal" }
func (PlayerReturnedDashboard) Name() string { return "player-returned-dashboard" }
func (ErrorNotice) Name() string { return "error" }

func (PlayerJoined) sealed() {}
func (PlayerLeft) sealed() {}
func (PlayerDisconnected) sealed() {}
func (RoomInfo) sealed() {}
func (UpdatePlayerList) sealed() {}
func (GameStarted) sealed() {}
func (GameDeleted) sealed() {}
func (PlayerMoved) sealed() {}
func (PlayerPosition) sealed() {}
func (QRScanned) sealed() {}
func (AnswerResult) sealed() {}
func (AnswerSubmitted) sealed() {}
func (TurnChanged) sealed() {}
func (GameWinner) sealed() {}
func (ShowWinnerModal) sealed() {}
func (PlayerReturnedDashboard) sealed() {}
func (ErrorNotice) sealed() {}
