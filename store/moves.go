package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	MovePending  = "pending"
	MoveResolved = "resolved"
	MoveSkipped  = "skipped"
)

// Move is one turn record. A roll writes it pending; the answer that follows
// resolves the same row by id. A winning roll is written resolved.
type Move struct {
	ID            int64
	GameID        int64
	UserID        int64
	Username      string
	DiceRoll      int
	FromPosition  int
	ToPosition    int
	Status        string
	QuestionID    *int64
	AnswerCorrect *bool
	ScoreChange   int
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

type RollUpdate struct {
	GameID       int64
	UserID       int64
	DiceRoll     int
	FromPosition int
	ToPosition   int
	Winner       bool
}

type AnswerUpdate struct {
	GameID      int64
	UserID      int64
	MoveID      int64
	QuestionID  int64
	NextUserID  int64
	Correct     bool
	ScoreChange int
	NewScore    int
	NewPosition int
}

type Totals struct {
	Moves     int
	Questions int
}

const moveSelect = `
	SELECT m.id, m.game_id, m.user_id, u.username, m.dice_roll, m.from_position, m.to_position,
	       m.status, m.question_id, m.answer_correct, m.score_change, m.created_at, m.resolved_at
	FROM game_moves m
	JOIN users u ON m.user_id = u.id
`

func scanMove(row rowScanner) (*Move, error) {
	move := &Move{}
	var questionID, answerCorrect, resolvedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(
		&move.ID, &move.GameID, &move.UserID, &move.Username, &move.DiceRoll, &move.FromPosition, &move.ToPosition,
		&move.Status, &questionID, &answerCorrect, &move.ScoreChange, &createdAt, &resolvedAt,
	); err != nil {
		return nil, err
	}
	if questionID.Valid {
		move.QuestionID = &questionID.Int64
	}
	if answerCorrect.Valid {
		correct := answerCorrect.Int64 == 1
		move.AnswerCorrect = &correct
	}
	move.CreatedAt = fromUnix(createdAt)
	move.ResolvedAt = fromNullUnix(resolvedAt)
	return move, nil
}

func (s *SQLiteStore) GetPendingMove(ctx context.Context, gameID, userID int64) (*Move, error) {
	move, err := scanMove(s.db.QueryRowContext(ctx,
		moveSelect+" WHERE m.game_id = ? AND m.user_id = ? AND m.status = 'pending' ORDER BY m.id DESC LIMIT 1",
		gameID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending move: %w", err)
	}
	return move, nil
}

// ApplyRoll persists a dice roll atomically. Every write is guarded on the
// state the caller read: the game is active with r.UserID on turn, the player
// still stands on r.FromPosition and has no unresolved turn record. A winning
// roll completes the game in the same transaction. ErrStaleState is returned
// when any guard fails.
func (s *SQLiteStore) ApplyRoll(ctx context.Context, r RollUpdate) (int64, error) {
	var moveID int64
	now := s.stamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var result sql.Result
		var err error
		if r.Winner {
			result, err = tx.ExecContext(ctx, `
				UPDATE games SET status = 'completed', winner_user_id = ?, completed_at = ?
				WHERE id = ? AND status = 'active' AND current_turn_user_id = ?
			`, r.UserID, now, r.GameID, r.UserID)
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE games SET current_turn_user_id = current_turn_user_id
				WHERE id = ? AND status = 'active' AND current_turn_user_id = ?
			`, r.GameID, r.UserID)
		}
		if err != nil {
			return fmt.Errorf("failed to guard turn: %w", err)
		}
		if err := expectOne(result); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE game_players SET position = ?
			WHERE game_id = ? AND user_id = ? AND position = ?
			  AND NOT EXISTS (
			      SELECT 1 FROM game_moves
			      WHERE game_id = ? AND user_id = ? AND status = 'pending'
			  )
		`, r.ToPosition, r.GameID, r.UserID, r.FromPosition, r.GameID, r.UserID)
		if err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
		if err := expectOne(result); err != nil {
			return err
		}

		status := MovePending
		var resolvedAt any
		if r.Winner {
			status = MoveResolved
			resolvedAt = now
		}
		result, err = tx.ExecContext(ctx, `
			INSERT INTO game_moves (game_id, user_id, dice_roll, from_position, to_position, status, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.GameID, r.UserID, r.DiceRoll, r.FromPosition, r.ToPosition, status, now, resolvedAt)
		if err != nil {
			return fmt.Errorf("failed to log move: %w", err)
		}
		moveID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read move id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moveID, nil
}

// AssignQuestion records the question issued for a pending turn record.
// It fails with ErrStaleState if the record is resolved or already has one.
func (s *SQLiteStore) AssignQuestion(ctx context.Context, moveID, questionID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE game_moves SET question_id = ? WHERE id = ? AND status = 'pending' AND question_id IS NULL",
		questionID, moveID,
	)
	if err != nil {
		return fmt.Errorf("failed to assign question: %w", err)
	}
	return expectOne(result)
}

// SkipMove closes a pending turn record that never received a question, so
// the player on turn may roll again. The update only applies while the game
// is active, the record's owner holds the turn and no question was issued.
func (s *SQLiteStore) SkipMove(ctx context.Context, moveID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE game_moves SET status = 'skipped', resolved_at = ?
		WHERE id = ? AND status = 'pending' AND question_id IS NULL
		  AND EXISTS (
		    SELECT 1 FROM games g
		    WHERE g.id = game_moves.game_id AND g.status = 'active' AND g.current_turn_user_id = game_moves.user_id
		  )
	`, s.stamp(), moveID)
	if err != nil {
		return fmt.Errorf("failed to skip move: %w", err)
	}
	return expectOne(result)
}

// ApplyAnswer resolves a pending turn record and hands the turn to
// a.NextUserID in one transaction. The turn only advances if a.UserID still
// holds it.
func (s *SQLiteStore) ApplyAnswer(ctx context.Context, a AnswerUpdate) error {
	now := s.stamp()
	correct := 0
	if a.Correct {
		correct = 1
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE games SET current_turn_user_id = ?
			WHERE id = ? AND status = 'active' AND current_turn_user_id = ?
		`, a.NextUserID, a.GameID, a.UserID)
		if err != nil {
			return fmt.Errorf("failed to advance turn: %w", err)
		}
		if err := expectOne(result); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE game_moves
			SET status = 'resolved', question_id = ?, answer_correct = ?, score_change = ?, resolved_at = ?
			WHERE id = ? AND game_id = ? AND user_id = ? AND status = 'pending'
		`, a.QuestionID, correct, a.ScoreChange, now, a.MoveID, a.GameID, a.UserID)
		if err != nil {
			return fmt.Errorf("failed to resolve move: %w", err)
		}
		if err := expectOne(result); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE game_players
			SET position = ?, score = ?, questions_answered = questions_answered + 1, correct_answers = correct_answers + ?
			WHERE game_id = ? AND user_id = ?
		`, a.NewPosition, a.NewScore, correct, a.GameID, a.UserID)
		if err != nil {
			return fmt.Errorf("failed to update player stats: %w", err)
		}
		return expectOne(result)
	})
}

func (s *SQLiteStore) RecentMoves(ctx context.Context, gameID int64, limit int) ([]*Move, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, moveSelect+" WHERE m.game_id = ? ORDER BY m.id DESC LIMIT ?", gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent moves: %w", err)
	}
	defer rows.Close()

	moves := make([]*Move, 0, limit)
	for rows.Next() {
		move, err := scanMove(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan move: %w", err)
		}
		moves = append(moves, move)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate moves: %w", err)
	}
	return moves, nil
}

func (s *SQLiteStore) GameTotals(ctx context.Context, gameID int64) (*Totals, error) {
	totals := &Totals{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN answer_correct IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM game_moves WHERE game_id = ?
	`, gameID).Scan(&totals.Moves, &totals.Questions)
	if err != nil {
		return nil, fmt.Errorf("failed to get game totals: %w", err)
	}
	return totals, nil
}
