package game

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"pythonquest/store"
)

// Engine runs a started game: turn order, dice, QR validation, grading and
// win detection. Every mutation is a guarded store update, so two requests
// racing on the same turn cannot both apply.
type Engine struct {
	store    store.Store
	notifier Notifier
	logger   *zap.Logger
	audit    recorder
	roll     Roller
	now      func() time.Time
}

type EngineOption func(*Engine)

// WithRoller replaces the die.
func WithRoller(r Roller) EngineOption {
	return func(e *Engine) { e.roll = r }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(st store.Store, notifier Notifier, logger *zap.Logger, opts ...EngineOption) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:    st,
		notifier: notifier,
		logger:   logger.Named("engine"),
		roll:     RollDie,
		now:      time.Now,
	}
	e.audit = recorder{store: st, logger: e.logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) StartGame(ctx context.Context, requesterID, gameID int64) (*StartResult, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to start game", err)
	}
	if g == nil {
		return nil, ErrGameNotFound
	}
	if g.CreatedBy != requesterID || g.Status != StatusWaiting {
		return nil, ErrNotCreator
	}

	players, err := e.store.GetGamePlayers(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to start game", err)
	}
	if len(players) < MinPlayers {
		return nil, ErrNotEnoughPlayers
	}
	first := NextPlayer(players, 0)

	err = e.store.StartGame(ctx, gameID, first.UserID)
	if errors.Is(err, store.ErrStaleState) {
		return nil, ErrNotCreator
	}
	if err != nil {
		return nil, internalError("Failed to start game", err)
	}

	e.logger.Info("game started",
		zap.Int64("game_id", gameID), zap.Int("players", len(players)), zap.Int64("first_user_id", first.UserID))
	e.audit.record(ctx, gameID, AuditGameStarted, map[string]any{"currentTurnPlayerId": first.UserID, "players": len(players)})

	publish(e.logger, e.notifier, ScopeAll, GameStarted{
		Base:                  NewBase(gameID, requesterID, "Quest is starting! Prepare for adventure!"),
		CurrentTurnPlayerID:   first.UserID,
		CurrentTurnPlayerName: first.Username,
	})
	return &StartResult{CurrentTurnPlayerID: first.UserID}, nil
}

// activeTurn loads the game and checks that userID holds the turn.
func (e *Engine) activeTurn(ctx context.Context, gameID, userID int64, op string) (*store.Game, *store.GamePlayer, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, nil, internalError(op, err)
	}
	if g == nil || g.Status != StatusActive {
		return nil, nil, ErrGameNotActive
	}

	p, err := e.store.GetGamePlayer(ctx, gameID, userID)
	if err != nil {
		return nil, nil, internalError(op, err)
	}
	if p == nil {
		return nil, nil, ErrPlayerNotFound
	}
	if g.CurrentTurnUserID == nil || *g.CurrentTurnUserID != userID {
		return nil, nil, ErrNotYourTurn
	}
	return g, p, nil
}

// RollDice moves the player on turn. The turn stays with them until they
// answer, unless the roll reaches the final room and ends the game.
func (e *Engine) RollDice(ctx context.Context, gameID, userID int64) (*RollResult, error) {
	_, p, err := e.activeTurn(ctx, gameID, userID, "Failed to roll dice")
	if err != nil {
		return nil, err
	}

	pending, err := e.store.GetPendingMove(ctx, gameID, userID)
	if err != nil {
		return nil, internalError("Failed to roll dice", err)
	}
	if pending != nil {
		return nil, ErrAnswerPending
	}

	roll := e.roll()
	to := Advance(p.Position, roll)
	winner := to >= TerminalRoom

	moveID, err := e.store.ApplyRoll(ctx, store.RollUpdate{
		GameID:       gameID,
		UserID:       userID,
		DiceRoll:     roll,
		FromPosition: p.Position,
		ToPosition:   to,
		Winner:       winner,
	})
	if errors.Is(err, store.ErrStaleState) {
		return nil, ErrStateChanged
	}
	if err != nil {
		return nil, internalError("Failed to roll dice", err)
	}

	log := e.logger.With(zap.Int64("game_id", gameID), zap.Int64("user_id", userID))
	result := &RollResult{DiceRoll: roll, OldPosition: p.Position, NewPosition: to, Winner: winner}

	if winner {
		result.Message = "Congratulations! You reached the final room!"
		log.Info("game won", zap.Int("dice_roll", roll), zap.Int("from", p.Position))
		e.audit.record(ctx, gameID, AuditGameWon, map[string]any{"winnerId": userID, "moveId": moveID, "diceRoll": roll, "finalPosition": to})
		publish(e.logger, e.notifier, ScopeAll, GameWinner{
			Base:          NewBase(gameID, userID, fmt.Sprintf("🏆 %s has won the quest!", p.Username)),
			WinnerID:      userID,
			WinnerName:    p.Username,
			FinalPosition: to,
		})
		return result, nil
	}

	result.Message = fmt.Sprintf("Rolled %d! Move to room %d.", roll, to)
	log.Debug("dice rolled", zap.Int("dice_roll", roll), zap.Int("from", p.Position), zap.Int("to", to))
	e.audit.record(ctx, gameID, AuditDiceRolled, map[string]any{"userId": userID, "moveId": moveID, "diceRoll": roll, "from": p.Position, "to": to})
	publish(e.logger, e.notifier, ScopeOthers, PlayerMoved{
		Base:         NewBase(gameID, userID, fmt.Sprintf("%s rolled %d and moved to room %d", p.Username, roll, to)),
		Username:     p.Username,
		DiceRoll:     roll,
		FromPosition: p.Position,
		Position:     to,
	})
	return result, nil
}

// skipRoom closes a turn record whose room has no question bound. The player
// keeps the turn and may roll again.
func (e *Engine) skipRoom(ctx context.Context, gameID, userID, moveID int64, room int) error {
	err := e.store.SkipMove(ctx, moveID)
	if errors.Is(err, store.ErrStaleState) {
		return ErrStateChanged
	}
	if err != nil {
		return internalError("Failed to process QR scan", err)
	}
	e.logger.Warn("no question bound to room",
		zap.Int64("game_id", gameID), zap.Int64("user_id", userID), zap.Int("room", room))
	e.audit.record(ctx, gameID, AuditRoomSkipped, map[string]any{"userId": userID, "moveId": moveID, "room": room})
	return ErrNoQuestionForRoom.WithMessage("No question found for room %d. Roll again.", room)
}

// ScanQR issues the question for the room the player rolled into. Scanning
// again before answering returns the same question.
func (e *Engine) ScanQR(ctx context.Context, gameID, userID int64, qrText string) (*ScanResult, error) {
	room, err := ParseRoomToken(qrText)
	if err != nil {
		return nil, err
	}

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to process QR scan", err)
	}
	if g == nil || g.Status != StatusActive {
		return nil, ErrGameNotActive
	}
	p, err := e.store.GetGamePlayer(ctx, gameID, userID)
	if err != nil {
		return nil, internalError("Failed to process QR scan", err)
	}
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	if p.Position != room {
		return nil, ErrWrongRoom.WithMessage(
			"You must be in room %d to scan this QR code. You are currently in room %d.", room, p.Position)
	}

	pending, err := e.store.GetPendingMove(ctx, gameID, userID)
	if err != nil {
		return nil, internalError("Failed to process QR scan", err)
	}
	if pending == nil {
		return nil, ErrNoPendingTurn
	}

	var q *store.Question
	if pending.QuestionID != nil {
		q, err = e.store.GetQuestion(ctx, *pending.QuestionID)
		if err != nil {
			return nil, internalError("Failed to process QR scan", err)
		}
		if q == nil {
			return nil, ErrQuestionNotFound
		}
	} else {
		q, err = e.store.RandomQuestionForRoom(ctx, room)
		if err != nil {
			return nil, internalError("Failed to process QR scan", err)
		}
		if q == nil {
			return nil, e.skipRoom(ctx, gameID, userID, pending.ID, room)
		}
		err = e.store.AssignQuestion(ctx, pending.ID, q.ID)
		if errors.Is(err, store.ErrStaleState) {
			return nil, ErrStateChanged
		}
		if err != nil {
			return nil, internalError("Failed to process QR scan", err)
		}
		e.audit.record(ctx, gameID, AuditQuestionIssued, map[string]any{"userId": userID, "moveId": pending.ID, "questionId": q.ID, "room": room})
	}

	publish(e.logger, e.notifier, ScopeOthers, QRScanned{
		Base:       NewBase(gameID, userID, fmt.Sprintf("%s scanned the QR code of room %d", p.Username, room)),
		QRCode:     RoomToken(room),
		Room:       room,
		QuestionID: q.ID,
	})
	return &ScanResult{Question: toQuestionView(q)}, nil
}

// SubmitAnswer grades the answer to the issued question, applies the score
// and position change, and passes the turn on.
func (e *Engine) SubmitAnswer(ctx context.Context, gameID, userID, questionID int64, answer string, roomPosition int) (*AnswerOutcome, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptyAnswer
	}

	q, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, internalError("Failed to submit answer", err)
	}
	if q == nil {
		return nil, ErrQuestionNotFound
	}

	_, p, err := e.activeTurn(ctx, gameID, userID, "Failed to submit answer")
	if err != nil {
		return nil, err
	}

	pending, err := e.store.GetPendingMove(ctx, gameID, userID)
	if err != nil {
		return nil, internalError("Failed to submit answer", err)
	}
	if pending == nil {
		return nil, ErrNoPendingTurn
	}
	if pending.QuestionID == nil || *pending.QuestionID != questionID {
		return nil, ErrQuestionMismatch
	}
	if roomPosition != p.Position {
		return nil, ErrWrongRoom.WithMessage(
			"You must be in room %d to answer this question. You are currently in room %d.", roomPosition, p.Position)
	}

	players, err := e.store.GetGamePlayers(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to submit answer", err)
	}
	next := NextPlayer(players, userID)
	if next == nil {
		return nil, internalError("Failed to submit answer", errors.New("no active player to pass the turn to"))
	}

	correct := Grade(answer, q.CorrectAnswer)
	outcome := Score(correct, p.Score, p.Position)

	err = e.store.ApplyAnswer(ctx, store.AnswerUpdate{
		GameID:      gameID,
		UserID:      userID,
		MoveID:      pending.ID,
		QuestionID:  questionID,
		NextUserID:  next.UserID,
		Correct:     correct,
		ScoreChange: outcome.ScoreChange,
		NewScore:    outcome.NewScore,
		NewPosition: outcome.NewPosition,
	})
	if errors.Is(err, store.ErrStaleState) {
		return nil, ErrStateChanged
	}
	if err != nil {
		return nil, internalError("Failed to submit answer", err)
	}

	result := &AnswerOutcome{
		Correct:       correct,
		ScoreChange:   outcome.ScoreChange,
		NewScore:      outcome.NewScore,
		NewPosition:   outcome.NewPosition,
		CorrectAnswer: q.CorrectAnswer,
		Explanation:   q.Explanation,
		NextPlayerID:  next.UserID,
	}
	if correct {
		result.Message = fmt.Sprintf("Correct! You earned %d points and stay in this room.", CorrectPoints)
	} else {
		result.Message = fmt.Sprintf("Wrong answer. Move back to room %d and lose %d points. Correct answer: %s",
			outcome.NewPosition, WrongPenaltyPoints, q.CorrectAnswer)
	}

	e.logger.Debug("answer graded",
		zap.Int64("game_id", gameID), zap.Int64("user_id", userID), zap.Int64("question_id", questionID),
		zap.Bool("correct", correct), zap.Int64("next_user_id", next.UserID))
	e.audit.record(ctx, gameID, AuditAnswerSubmitted, map[string]any{
		"userId": userID, "moveId": pending.ID, "questionId": questionID,
		"correct": correct, "scoreChange": outcome.ScoreChange, "newPosition": outcome.NewPosition,
	})
	e.audit.record(ctx, gameID, AuditTurnChanged, map[string]any{"previousTurnPlayerId": userID, "currentTurnPlayerId": next.UserID})

	verdict := "incorrectly"
	if correct {
		verdict = "correctly"
	}
	publish(e.logger, e.notifier, ScopeAll, AnswerSubmitted{
		Base:        NewBase(gameID, userID, fmt.Sprintf("%s answered %s", p.Username, verdict)),
		PlayerName:  p.Username,
		QuestionID:  questionID,
		IsCorrect:   correct,
		ScoreChange: outcome.ScoreChange,
		NewScore:    outcome.NewScore,
		NewPosition: outcome.NewPosition,
	})
	publish(e.logger, e.notifier, ScopeAll, TurnChanged{
		Base:                  NewBase(gameID, userID, fmt.Sprintf("It's %s's turn!", next.Username)),
		PreviousTurnPlayerID:  userID,
		CurrentTurnPlayerID:   next.UserID,
		CurrentTurnPlayerName: next.Username,
	})
	return result, nil
}

func (e *Engine) GetGameState(ctx context.Context, gameID int64) (*GameState, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to get game state", err)
	}
	if g == nil {
		return nil, ErrGameNotFound
	}
	players, err := e.store.GetGamePlayers(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to get game state", err)
	}
	moves, err := e.store.RecentMoves(ctx, gameID, RecentMovesLimit)
	if err != nil {
		return nil, internalError("Failed to get game state", err)
	}
	return &GameState{
		Game:        toGameInfo(g),
		Players:     toPlayers(players, g.CurrentTurnUserID),
		RecentMoves: toMoves(moves),
	}, nil
}

// GetGameStats ranks the players by score, then by how far they got.
func (e *Engine) GetGameStats(ctx context.Context, gameID, userID int64) (*GameStats, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to get game statistics", err)
	}
	if g == nil {
		return nil, ErrGameNotFound
	}
	players, err := e.store.GetGamePlayers(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to get game statistics", err)
	}
	totals, err := e.store.GameTotals(ctx, gameID)
	if err != nil {
		return nil, internalError("Failed to get game statistics", err)
	}

	end := e.now().UTC()
	if g.CompletedAt != nil {
		end = *g.CompletedAt
	}
	elapsed := max(end.Sub(g.CreatedAt), 0)

	ranked := toPlayers(players, g.CurrentTurnUserID)
	slices.SortStableFunc(ranked, func(a, b *Player) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.Position, a.Position)
	})

	var current *Player
	for i, p := range ranked {
		p.Rank = i + 1
		if p.UserID == userID {
			current = p
		}
	}

	return &GameStats{
		Game: &StatsGame{
			GameInfo:        *toGameInfo(g),
			DurationMinutes: int(elapsed / time.Minute),
			Duration:        strings.TrimSpace(humanize.RelTime(g.CreatedAt, g.CreatedAt.Add(elapsed), "", "")),
			TotalMoves:      totals.Moves,
			TotalQuestions:  totals.Questions,
		},
		Players:       ranked,
		CurrentPlayer: current,
	}, nil
}
