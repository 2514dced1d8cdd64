package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrFull is returned by AddPlayer when the game already holds maxPlayers.
var ErrFull = errors.New("game is full")

type NewGame struct {
	JoinCode   string
	Name       string
	CreatorID  int64
	MaxPlayers int
}

type Game struct {
	ID                int64
	JoinCode          string
	Name              string
	CreatedBy         int64
	CreatorName       string
	MaxPlayers        int
	Status            string
	CurrentTurnUserID *int64
	CurrentPlayerName string
	WinnerUserID      *int64
	WinnerName        string
	PlayerCount       int
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

type GamePlayer struct {
	GameID            int64
	UserID            int64
	Username          string
	TurnOrder         int
	Position          int
	Score             int
	QuestionsAnswered int
	CorrectAnswers    int
	TotalMoves        int
	IsActive          bool
	JoinedAt          time.Time
}

// UserGame is one row of a user's game list: the game plus the user's own seat, if any.
type UserGame struct {
	Game     *Game
	Score    *int
	Position *int
}

func (s *SQLiteStore) JoinCodeExists(ctx context.Context, code string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM games WHERE join_code = ?", code).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check join code: %w", err)
	}
	return true, nil
}

// CreateGame inserts the game in waiting status and seats the creator at turn order 1.
func (s *SQLiteStore) CreateGame(ctx context.Context, g NewGame) (int64, error) {
	var gameID int64
	now := s.stamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"INSERT INTO games (join_code, name, created_by, max_players, status, created_at) VALUES (?, ?, ?, ?, 'waiting', ?)",
			g.JoinCode, g.Name, g.CreatorID, g.MaxPlayers, now,
		)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to create game: %w", err)
		}
		gameID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read game id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO game_players (game_id, user_id, turn_order, joined_at) VALUES (?, ?, 1, ?)",
			gameID, g.CreatorID, now,
		); err != nil {
			return fmt.Errorf("failed to seat creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return gameID, nil
}

const (
	gameColumns = `
	g.id, g.join_code, g.name, g.created_by, COALESCE(c.username, ''), g.max_players, g.status,
	g.current_turn_user_id, COALESCE(t.username, ''), g.winner_user_id, COALESCE(w.username, ''),
	(SELECT COUNT(*) FROM game_players p WHERE p.game_id = g.id),
	g.created_at, g.started_at, g.completed_at`

	gameJoins = `
	FROM games g
	LEFT JOIN users c ON g.created_by = c.id
	LEFT JOIN users t ON g.current_turn_user_id = t.id
	LEFT JOIN users w ON g.winner_user_id = w.id`

	gameSelect = "SELECT" + gameColumns + gameJoins
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanGame reads the gameColumns prefix of a row. Columns selected after
// them land in extra.
func scanGame(row rowScanner, extra ...any) (*Game, error) {
	game := &Game{}
	var currentTurn, winner, startedAt, completedAt sql.NullInt64
	var createdAt int64
	dest := []any{
		&game.ID, &game.JoinCode, &game.Name, &game.CreatedBy, &game.CreatorName, &game.MaxPlayers, &game.Status,
		&currentTurn, &game.CurrentPlayerName, &winner, &game.WinnerName,
		&game.PlayerCount,
		&createdAt, &startedAt, &completedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if currentTurn.Valid {
		game.CurrentTurnUserID = &currentTurn.Int64
	}
	if winner.Valid {
		game.WinnerUserID = &winner.Int64
	}
	game.CreatedAt = fromUnix(createdAt)
	game.StartedAt = fromNullUnix(startedAt)
	game.CompletedAt = fromNullUnix(completedAt)
	return game, nil
}

func (s *SQLiteStore) GetGame(ctx context.Context, gameID int64) (*Game, error) {
	game, err := scanGame(s.db.QueryRowContext(ctx, gameSelect+" WHERE g.id = ?", gameID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return game, nil
}

func (s *SQLiteStore) GetWaitingGameByCode(ctx context.Context, code string) (*Game, error) {
	game, err := scanGame(s.db.QueryRowContext(ctx, gameSelect+" WHERE g.join_code = ? AND g.status = 'waiting'", code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game by code: %w", err)
	}
	return game, nil
}

func (s *SQLiteStore) ListUserGames(ctx context.Context, userID int64) ([]*UserGame, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT"+gameColumns+", me.score, me.position"+gameJoins+`
	LEFT JOIN game_players me ON me.game_id = g.id AND me.user_id = ?
	WHERE g.created_by = ? OR me.user_id IS NOT NULL
	ORDER BY g.created_at DESC, g.id DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user games: %w", err)
	}
	defer rows.Close()

	var games []*UserGame
	for rows.Next() {
		var score, position sql.NullInt64
		game, err := scanGame(rows, &score, &position)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, &UserGame{Game: game, Score: nullInt(score), Position: nullInt(position)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate games: %w", err)
	}
	return games, nil
}

// DeleteGame removes the game; players, moves and events go with it via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteGame(ctx context.Context, gameID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM games WHERE id = ? AND status = 'waiting'", gameID)
	if err != nil {
		return fmt.Errorf("failed to delete game: %w", err)
	}
	return expectOne(result)
}

// StartGame flips a waiting game to active with firstUserID on turn.
// It returns ErrStaleState if the game was no longer waiting.
func (s *SQLiteStore) StartGame(ctx context.Context, gameID, firstUserID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE games SET status = 'active', current_turn_user_id = ?, started_at = ? WHERE id = ? AND status = 'waiting'",
		firstUserID, s.stamp(), gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}
	return expectOne(result)
}

// AddPlayer seats userID at the next turn order. The capacity check and the
// insert run in one transaction that first takes the write lock on the game row.
func (s *SQLiteStore) AddPlayer(ctx context.Context, gameID, userID int64, maxPlayers int) (int, error) {
	var turnOrder int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "UPDATE games SET status = status WHERE id = ? AND status = 'waiting'", gameID)
		if err != nil {
			return fmt.Errorf("failed to lock game: %w", err)
		}
		if err := expectOne(result); err != nil {
			return err
		}

		var count, maxOrder int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*), COALESCE(MAX(turn_order), 0) FROM game_players WHERE game_id = ?", gameID,
		).Scan(&count, &maxOrder); err != nil {
			return fmt.Errorf("failed to count players: %w", err)
		}
		if count >= maxPlayers {
			return ErrFull
		}

		turnOrder = maxOrder + 1
		_, err = tx.ExecContext(ctx,
			"INSERT INTO game_players (game_id, user_id, turn_order, joined_at) VALUES (?, ?, ?, ?)",
			gameID, userID, turnOrder, s.stamp(),
		)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to join game: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return turnOrder, nil
}

func (s *SQLiteStore) RemovePlayer(ctx context.Context, gameID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM game_players
		WHERE game_id = ? AND user_id = ?
		  AND EXISTS (SELECT 1 FROM games WHERE id = ? AND status = 'waiting')
	`, gameID, userID, gameID)
	if err != nil {
		return fmt.Errorf("failed to remove player: %w", err)
	}
	return expectOne(result)
}

const playerSelect = `
	SELECT gp.game_id, gp.user_id, u.username, gp.turn_order, gp.position, gp.score,
	       gp.questions_answered, gp.correct_answers,
	       (SELECT COUNT(*) FROM game_moves m WHERE m.game_id = gp.game_id AND m.user_id = gp.user_id),
	       gp.is_active, gp.joined_at
	FROM game_players gp
	JOIN users u ON gp.user_id = u.id
`

func scanPlayer(row rowScanner) (*GamePlayer, error) {
	player := &GamePlayer{}
	var isActive int
	var joinedAt int64
	if err := row.Scan(
		&player.GameID, &player.UserID, &player.Username, &player.TurnOrder, &player.Position, &player.Score,
		&player.QuestionsAnswered, &player.CorrectAnswers, &player.TotalMoves, &isActive, &joinedAt,
	); err != nil {
		return nil, err
	}
	player.IsActive = isActive == 1
	player.JoinedAt = fromUnix(joinedAt)
	return player, nil
}

// GetGamePlayers returns the players of a game ordered by turn order.
func (s *SQLiteStore) GetGamePlayers(ctx context.Context, gameID int64) ([]*GamePlayer, error) {
	rows, err := s.db.QueryContext(ctx, playerSelect+" WHERE gp.game_id = ? ORDER BY gp.turn_order", gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get game players: %w", err)
	}
	defer rows.Close()

	var players []*GamePlayer
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, player)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return players, nil
}

func (s *SQLiteStore) GetGamePlayer(ctx context.Context, gameID, userID int64) (*GamePlayer, error) {
	player, err := scanPlayer(s.db.QueryRowContext(ctx, playerSelect+" WHERE gp.game_id = ? AND gp.user_id = ?", gameID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game player: %w", err)
	}
	return player, nil
}
