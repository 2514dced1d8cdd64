package game

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"pythonquest/store"
)

// Audit event types written to game_events.
const (
	AuditPlayerJoined    = "player_joined"
	AuditPlayerLeft      = "player_left"
	AuditGameStarted     = "game_started"
	AuditDiceRolled      = "dice_rolled"
	AuditQuestionIssued  = "question_issued"
	AuditRoomSkipped     = "room_skipped"
	AuditAnswerSubmitted = "answer_submitted"
	AuditTurnChanged     = "turn_changed"
	AuditGameWon         = "game_won"
)

// recorder appends audit rows after the state change has committed. A failed
// append is logged and otherwise ignored.
type recorder struct {
	store  store.Store
	logger *zap.Logger
}

func (r recorder) record(ctx context.Context, gameID int64, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("failed to encode audit event",
			zap.Int64("game_id", gameID), zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := r.store.AppendEvent(ctx, gameID, eventType, data); err != nil {
		r.logger.Warn("failed to append audit event",
			zap.Int64("game_id", gameID), zap.String("event_type", eventType), zap.Error(err))
	}
}

// publish hands ev to the notifier, recovering from a panicking notifier.
func publish(logger *zap.Logger, n Notifier, scope Scope, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notifier panicked",
				zap.String("event", ev.Name()), zap.Int64("game_id", ev.Envelope().GameID), zap.Any("panic", r))
		}
	}()
	n.Publish(scope, ev)
}
