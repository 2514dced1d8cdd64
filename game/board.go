package game

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"pythonquest/store"
)

const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
)

const (
	FirstRoom    = 1
	TerminalRoom = 49
	DiceFaces    = 6

	CorrectPoints      = 100
	WrongPenaltyPoints = 100
	WrongPenaltyRooms  = 2

	MinPlayers        = 2
	MaxPlayersLimit   = 4
	DefaultMaxPlayers = 4

	MinNameLength  = 3
	MaxNameLength  = 50
	JoinCodeLength = 6

	RecentMovesLimit = 10
)

var roomToken = regexp.MustCompile(`ROOM_(\d+)`)

// ParseRoomToken extracts the room number from a scanned QR payload.
func ParseRoomToken(text string) (int, error) {
	match := roomToken.FindStringSubmatch(text)
	if match == nil {
		return 0, ErrInvalidQRCode
	}
	room, err := strconv.Atoi(match[1])
	if err != nil || room < FirstRoom || room > TerminalRoom {
		return 0, ErrInvalidRoom
	}
	return room, nil
}

// RoomToken is the QR payload printed for a room.
func RoomToken(room int) string {
	return "ROOM_" + strconv.Itoa(room)
}

// Advance moves a piece forward, stopping at the terminal room.
func Advance(from, roll int) int {
	return min(from+roll, TerminalRoom)
}

var fold = cases.Fold()

// Grade compares a submitted answer with the stored one after trimming and
// case folding. No fuzzy matching.
func Grade(submitted, correct string) bool {
	return fold.String(strings.TrimSpace(submitted)) == fold.String(strings.TrimSpace(correct))
}

// Outcome is the board effect of a graded answer.
type Outcome struct {
	ScoreChange int
	NewScore    int
	NewPosition int
}

func Score(correct bool, score, position int) Outcome {
	if correct {
		return Outcome{ScoreChange: CorrectPoints, NewScore: score + CorrectPoints, NewPosition: position}
	}
	return Outcome{
		ScoreChange: -WrongPenaltyPoints,
		NewScore:    max(0, score-WrongPenaltyPoints),
		NewPosition: max(FirstRoom, position-WrongPenaltyRooms),
	}
}

// NextPlayer picks the active player with the smallest turn order above the
// current one, wrapping to the smallest overall. It returns nil when no
// active player is seated.
func NextPlayer(players []*store.GamePlayer, currentUserID int64) *store.GamePlayer {
	currentOrder := 0
	for _, p := range players {
		if p.UserID == currentUserID {
			currentOrder = p.TurnOrder
			break
		}
	}

	var next, first *store.GamePlayer
	for _, p := range players {
		if !p.IsActive {
			continue
		}
		if first == nil || p.TurnOrder < first.TurnOrder {
			first = p
		}
		if p.TurnOrder > currentOrder && (next == nil || p.TurnOrder < next.TurnOrder) {
			next = p
		}
	}
	if next != nil {
		return next
	}
	return first
}

// Roller returns a die face in [1, DiceFaces].
type Roller func() int

func RollDie() int {
	return rand.IntN(DiceFaces) + 1
}
