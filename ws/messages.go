package ws

import (
	"encoding/json"

	"pythonquest/game"
)

// Client message types.
const (
	MsgJoinGame           = "join-game"
	MsgLeaveGame          = "leave-game"
	MsgPlayerMove         = "player-move"
	MsgQRScanned          = "qr-scanned"
	MsgAnswerSubmitted    = "answer-submitted"
	MsgRequestWinnerStats = "request-winner-stats"
	MsgReturnToDashboard  = "return-to-dashboard"
)

type IncomingMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type OutgoingMessage struct {
	Type    string     `json:"type"`
	Payload game.Event `json:"payload"`
}

type joinPayload struct {
	GameID int64 `json:"gameId"`
}

type movePayload struct {
	Position int `json:"position"`
	DiceRoll int `json:"diceRoll"`
}

type scanPayload struct {
	QRCode     string `json:"qrCode"`
	QuestionID int64  `json:"questionId"`
}

type answerPayload struct {
	QuestionID int64 `json:"questionId"`
	IsCorrect  bool  `json:"isCorrect"`
}

func encode(ev game.Event) ([]byte, error) {
	return json.Marshal(OutgoingMessage{Type: ev.Name(), Payload: ev})
}

// decodePayload fills v from raw. A missing payload leaves v untouched.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
