package store

import (
	"context"
	"fmt"
	"time"
)

// GameEvent is a row of the append-only audit log.
type GameEvent struct {
	ID        int64
	GameID    int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, gameID int64, eventType string, payload []byte) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO game_events (game_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)",
		gameID, eventType, string(payload), s.stamp(),
	); err != nil {
		return fmt.Errorf("failed to append game event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, gameID int64) ([]*GameEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, game_id, event_type, payload, created_at FROM game_events WHERE game_id = ? ORDER BY id",
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list game events: %w", err)
	}
	defer rows.Close()

	var events []*GameEvent
	for rows.Next() {
		ev := &GameEvent{}
		var payload string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.GameID, &ev.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan game event: %w", err)
		}
		ev.Payload = []byte(payload)
		ev.CreatedAt = fromUnix(createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate game events: %w", err)
	}
	return events, nil
}
