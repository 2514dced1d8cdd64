package game

import (
	"time"

	"pythonquest/store"
)

type Player struct {
	UserID            int64  `json:"userId"`
	Username          string `json:"username"`
	TurnOrder         int    `json:"turnOrder"`
	Position          int    `json:"position"`
	Score             int    `json:"score"`
	QuestionsAnswered int    `json:"questionsAnswered"`
	CorrectAnswers    int    `json:"correctAnswers"`
	TotalMoves        int    `json:"totalMoves"`
	IsActive          bool   `json:"isActive"`
	IsCurrentTurn     bool   `json:"isCurrentTurn"`
	Rank              int    `json:"rank,omitempty"`
}

type GameInfo struct {
	ID                  int64      `json:"id"`
	JoinCode            string     `json:"joinCode"`
	Name                string     `json:"name"`
	CreatedBy           int64      `json:"createdBy"`
	CreatorName         string     `json:"creatorName"`
	MaxPlayers          int        `json:"maxPlayers"`
	Status              string     `json:"status"`
	CurrentTurnPlayerID *int64     `json:"currentTurnPlayerId"`
	CurrentPlayerName   string     `json:"currentPlayerName,omitempty"`
	WinnerID            *int64     `json:"winnerId"`
	WinnerName          string     `json:"winnerName,omitempty"`
	PlayerCount         int        `json:"playerCount"`
	CreatedAt           time.Time  `json:"createdAt"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

type MoveView struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Username      string    `json:"username"`
	DiceRoll      int       `json:"diceRoll"`
	FromPosition  int       `json:"fromPosition"`
	ToPosition    int       `json:"toPosition"`
	Status        string    `json:"status"`
	AnswerCorrect *bool     `json:"answerCorrect"`
	ScoreChange   int       `json:"scoreChange"`
	CreatedAt     time.Time `json:"createdAt"`
}

type GameState struct {
	Game        *GameInfo   `json:"game"`
	Players     []*Player   `json:"players"`
	RecentMoves []*MoveView `json:"recentMoves"`
}

type StatsGame struct {
	GameInfo
	DurationMinutes int    `json:"durationMinutes"`
	Duration        string `json:"duration"`
	TotalMoves      int    `json:"totalMoves"`
	TotalQuestions  int    `json:"totalQuestions"`
}

type GameStats struct {
	Game          *StatsGame `json:"game"`
	Players       []*Player  `json:"players"`
	CurrentPlayer *Player    `json:"currentPlayer"`
}

type CreateResult struct {
	GameID   int64  `json:"gameId"`
	JoinCode string `json:"joinCode"`
	Status   string `json:"status"`
}

type JoinResult struct {
	GameID    int64  `json:"gameId"`
	JoinCode  string `json:"joinCode"`
	Name      string `json:"name"`
	TurnOrder int    `json:"turnOrder"`
}

type StartResult struct {
	CurrentTurnPlayerID int64 `json:"currentTurnPlayerId"`
}

type RollResult struct {
	DiceRoll    int    `json:"diceRoll"`
	OldPosition int    `json:"oldPosition"`
	NewPosition int    `json:"newPosition"`
	Winner      bool   `json:"winner"`
	Message     string `json:"message"`
}

// QuestionView is a question as shown to players. It never carries the answer.
type QuestionView struct {
	ID           int64  `json:"id"`
	Text         string `json:"text"`
	Difficulty   string `json:"difficulty"`
	Topic        string `json:"topic"`
	RoomPosition int    `json:"roomPosition"`
}

type ScanResult struct {
	Question QuestionView `json:"question"`
}

type AnswerOutcome struct {
	Correct       bool   `json:"correct"`
	ScoreChange   int    `json:"scoreChange"`
	NewScore      int    `json:"newScore"`
	NewPosition   int    `json:"newPosition"`
	CorrectAnswer string `json:"correctAnswer"`
	Explanation   string `json:"explanation"`
	Message       string `json:"message"`
	NextPlayerID  int64  `json:"nextPlayerId"`
}

type UserGame struct {
	GameInfo
	Score    *int `json:"score"`
	Position *int `json:"position"`
}

func toGameInfo(g *store.Game) *GameInfo {
	return &GameInfo{
		ID:                  g.ID,
		JoinCode:            g.JoinCode,
		Name:                g.Name,
		CreatedBy:           g.CreatedBy,
		CreatorName:         g.CreatorName,
		MaxPlayers:          g.MaxPlayers,
		Status:              g.Status,
		CurrentTurnPlayerID: g.CurrentTurnUserID,
		CurrentPlayerName:   g.CurrentPlayerName,
		WinnerID:            g.WinnerUserID,
		WinnerName:          g.WinnerName,
		PlayerCount:         g.PlayerCount,
		CreatedAt:           g.CreatedAt,
		StartedAt:           g.StartedAt,
		CompletedAt:         g.CompletedAt,
	}
}

func toPlayers(players []*store.GamePlayer, currentTurn *int64) []*Player {
	out := make([]*Player, len(players))
	for i, p := range players {
		out[i] = &Player{
			UserID:            p.UserID,
			Username:          p.Username,
			TurnOrder:         p.TurnOrder,
			Position:          p.Position,
			Score:             p.Score,
			QuestionsAnswered: p.QuestionsAnswered,
			CorrectAnswers:    p.CorrectAnswers,
			TotalMoves:        p.TotalMoves,
			IsActive:          p.IsActive,
			IsCurrentTurn:     currentTurn != nil && *currentTurn == p.UserID,
		}
	}
	return out
}

func toMoves(moves []*store.Move) []*MoveView {
	out := make([]*MoveView, len(moves))
	for i, m := range moves {
		out[i] = &MoveView{
			ID:            m.ID,
			UserID:        m.UserID,
			Username:      m.Username,
			DiceRoll:      m.DiceRoll,
			FromPosition:  m.FromPosition,
			ToPosition:    m.ToPosition,
			Status:        m.Status,
			AnswerCorrect: m.AnswerCorrect,
			ScoreChange:   m.ScoreChange,
			CreatedAt:     m.CreatedAt,
		}
	}
	return out
}

func toQuestionView(q *store.Question) QuestionView {
	return QuestionView{
		ID:           q.ID,
		Text:         q.Text,
		Difficulty:   q.Difficulty,
		Topic:        q.Topic,
		RoomPosition: q.RoomPosition,
	}
}
