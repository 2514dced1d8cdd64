package game

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"pythonquest/auth"
	"pythonquest/store"
)

const maxCodeAttempts = 10

// Lobby handles everything that happens before a game starts: creating,
// joining, leaving and deleting.
type Lobby struct {
	store    store.Store
	notifier Notifier
	logger   *zap.Logger
	audit    recorder
	newCode  func() (string, error)
}

type LobbyOption func(*Lobby)

// WithCodeGenerator replaces the join code source.
func WithCodeGenerator(fn func() (string, error)) LobbyOption {
	return func(l *Lobby) { l.newCode = fn }
}

func NewLobby(st store.Store, notifier Notifier, logger *zap.Logger, opts ...LobbyOption) *Lobby {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lobby{
		store:    st,
		notifier: notifier,
		logger:   logger.Named("lobby"),
		newCode:  NewJoinCode,
	}
	l.audit = recorder{store: st, logger: l.logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lobby) CreateGame(ctx context.Context, creatorID int64, name string, maxPlayers int) (*CreateResult, error) {
	name = auth.SanitizeGameName(name)
	if n := utf8.RuneCountInString(name); n < MinNameLength || n > MaxNameLength {
		return nil, ErrInvalidGameName
	}
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}
	if maxPlayers < MinPlayers || maxPlayers > MaxPlayersLimit {
		return nil, ErrInvalidMaxPlayers
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := l.newCode()
		if err != nil {
			return nil, internalError("Failed to create game", fmt.Errorf("generate join code: %w", err))
		}
		exists, err := l.store.JoinCodeExists(ctx, code)
		if err != nil {
			return nil, internalError("Failed to create game", err)
		}
		if exists {
			continue
		}

		gameID, err := l.store.CreateGame(ctx, store.NewGame{
			JoinCode:   code,
			Name:       name,
			CreatorID:  creatorID,
			MaxPlayers: maxPlayers,
		})
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, internalError("Failed to create game", err)
		}

		l.logger.Info("game created",
			zap.Int64("game_id", gameID), zap.Int64("user_id", creatorID), zap.String("join_code", code))
		l.audit.record(ctx, gameID, AuditPlayerJoined, map[string]any{"userId": creatorID, "turnOrder": 1, "creator": true})

		return &CreateResult{GameID: gameID, JoinCode: code, Status: StatusWaiting}, nil
	}
	return nil, internalError("Failed to create game", errors.New("no unique join code after retries"))
}

func (l *Lobby) JoinGame(ctx context.Context, userID int64, code string) (*JoinResult, error) {
	code, ok := NormalizeJoinCode(code)
	if !ok {
		return nil, ErrInvalidJoinCode
	}

	g, err := l.store.GetWaitingGameByCode(ctx, code)
	if err != nil {
		return nil, internalError("Failed to join game", err)
	}
	if g == nil {
		return nil, ErrGameNotJoinable
	}

	existing, err := l.store.GetGamePlayer(ctx, g.ID, userID)
	if err != nil {
		return nil, internalError("Failed to join game", err)
	}
	if existing != nil {
		return nil, ErrAlreadyInGame
	}
	if g.PlayerCount >= g.MaxPlayers {
		return nil, ErrGameFull
	}

	turnOrder, err := l.store.AddPlayer(ctx, g.ID, userID, g.MaxPlayers)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, ErrAlreadyInGame
	case errors.Is(err, store.ErrFull):
		return nil, ErrGameFull
	case errors.Is(err, store.ErrStaleState):
		return nil, ErrGameNotJoinable
	case err != nil:
		return nil, internalError("Failed to join game", err)
	}

	username := ""
	if p, err := l.store.GetGamePlayer(ctx, g.ID, userID); err == nil && p != nil {
		username = p.Username
	}

	l.logger.Info("player joined",
		zap.Int64("game_id", g.ID), zap.Int64("user_id", userID), zap.Int("turn_order", turnOrder))
	l.audit.record(ctx, g.ID, AuditPlayerJoined, map[string]any{"userId": userID, "turnOrder": turnOrder})

	publish(l.logger, l.notifier, ScopeOthers, PlayerJoined{
		Base:        NewBase(g.ID, userID, fmt.Sprintf("%s joined the quest as the %s adventurer", username, humanize.Ordinal(turnOrder))),
		Username:    username,
		TurnOrder:   turnOrder,
		PlayerCount: g.PlayerCount + 1,
	})
	publish(l.logger, l.notifier, ScopeAll, UpdatePlayerList{Base: NewBase(g.ID, userID, "Player list changed")})

	return &JoinResult{GameID: g.ID, JoinCode: g.JoinCode, Name: g.Name, TurnOrder: turnOrder}, nil
}

// LeaveGame removes a non-creator from a waiting game. Turn orders of the
// remaining players are not renumbered.
func (l *Lobby) LeaveGame(ctx context.Context, gameID, userID int64) error {
	g, err := l.store.GetGame(ctx, gameID)
	if err != nil {
		return internalError("Failed to leave game", err)
	}
	if g == nil {
		return ErrGameNotFound
	}

	p, err := l.store.GetGamePlayer(ctx, gameID, userID)
	if err != nil {
		return internalError("Failed to leave game", err)
	}
	if p == nil {
		return ErrPlayerNotFound
	}
	if g.CreatedBy == userID {
		return ErrCreatorCannotLeave
	}
	if g.Status != StatusWaiting {
		return ErrGameInProgress
	}

	err = l.store.RemovePlayer(ctx, gameID, userID)
	if errors.Is(err, store.ErrStaleState) {
		return ErrGameInProgress
	}
	if err != nil {
		return internalError("Failed to leave game", err)
	}

	l.logger.Info("player left", zap.Int64("game_id", gameID), zap.Int64("user_id", userID))
	l.audit.record(ctx, gameID, AuditPlayerLeft, map[string]any{"userId": userID})

	publish(l.logger, l.notifier, ScopeOthers, PlayerLeft{
		Base:     NewBase(gameID, userID, fmt.Sprintf("%s left the quest", p.Username)),
		Username: p.Username,
	})
	publish(l.logger, l.notifier, ScopeOthers, UpdatePlayerList{Base: NewBase(gameID, userID, "Player list changed")})
	return nil
}

// DeleteGame removes a waiting game and everything attached to it. Only the
// creator may do so.
func (l *Lobby) DeleteGame(ctx context.Context, gameID, userID int64) error {
	g, err := l.store.GetGame(ctx, gameID)
	if err != nil {
		return internalError("Failed to delete game", err)
	}
	if g == nil {
		return ErrGameNotFound
	}
	if g.CreatedBy != userID || g.Status != StatusWaiting {
		return ErrNotCreator
	}

	err = l.store.DeleteGame(ctx, gameID)
	if errors.Is(err, store.ErrStaleState) {
		return ErrNotCreator
	}
	if err != nil {
		return internalError("Failed to delete game", err)
	}

	l.logger.Info("game deleted", zap.Int64("game_id", gameID), zap.Int64("user_id", userID))
	publish(l.logger, l.notifier, ScopeAll, GameDeleted{
		Base: NewBase(gameID, userID, "This quest has been deleted by the creator"),
	})
	return nil
}

// ListUserGames returns the games userID created or joined, newest first.
func (l *Lobby) ListUserGames(ctx context.Context, userID int64) ([]*UserGame, error) {
	rows, err := l.store.ListUserGames(ctx, userID)
	if err != nil {
		return nil, internalError("Failed to list games", err)
	}
	games := make([]*UserGame, len(rows))
	for i, row := range rows {
		games[i] = &UserGame{
			GameInfo: *toGameInfo(row.Game),
			Score:    row.Score,
			Position: row.Position,
		}
	}
	return games, nil
}
