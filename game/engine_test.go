package game

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pythonquest/store"
)

func TestStartGame(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.id("alice"), f.id("bob")

	_, err := f.engine.StartGame(f.ctx, alice, 999)
	assert.ErrorIs(t, err, ErrGameNotFound)

	solo, _ := f.waitingGame("alice")
	_, err = f.engine.StartGame(f.ctx, alice, solo)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)

	gameID, _ := f.waitingGame("alice", "bob")
	_, err = f.engine.StartGame(f.ctx, bob, gameID)
	assert.ErrorIs(t, err, ErrNotCreator)

	f.notes.reset()
	started, err := f.engine.StartGame(f.ctx, alice, gameID)
	require.NoError(t, err)
	assert.Equal(t, alice, started.CurrentTurnPlayerID)

	ev, ok := f.notes.find("game-started")
	require.True(t, ok)
	assert.Equal(t, ScopeAll, ev.scope)
	gs := ev.ev.(GameStarted)
	assert.Equal(t, "alice", gs.CurrentTurnPlayerName)
	assert.Equal(t, gameID, gs.GameID)

	_, err = f.engine.StartGame(f.ctx, alice, gameID)
	assert.ErrorIs(t, err, ErrNotCreator, "already started")

	state, err := f.engine.GetGameState(f.ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Game.Status)
	require.NotNil(t, state.Game.CurrentTurnPlayerID)
	assert.Equal(t, alice, *state.Game.CurrentTurnPlayerID)
	assert.True(t, state.Players[0].IsCurrentTurn)
	assert.False(t, state.Players[1].IsCurrentTurn)
	assert.Contains(t, f.auditTypes(gameID), AuditGameStarted)
}

func TestCorrectAnswerTurn(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.id("alice"), f.id("bob")
	gameID := f.activeGame("alice", "bob")

	_, err := f.engine.RollDice(f.ctx, gameID, bob)
	assert.ErrorIs(t, err, ErrNotYourTurn)

	f.push(3)
	rolled, err := f.engine.RollDice(f.ctx, gameID, alice)
	require.NoError(t, err)
	assert.Equal(t, &RollResult{DiceRoll: 3, OldPosition: 1, NewPosition: 4, Message: "Rolled 3! Move to room 4."}, rolled)

	moved, ok := f.notes.find("player-moved")
	require.True(t, ok)
	assert.Equal(t, ScopeOthers, moved.scope)
	assert.Equal(t, 4, moved.ev.(PlayerMoved).Position)

	_, err = f.engine.RollDice(f.ctx, gameID, alice)
	assert.ErrorIs(t, err, ErrAnswerPending)

	_, err = f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_5")
	require.ErrorIs(t, err, ErrWrongRoom)
	assert.Equal(t, "You must be in room 5 to scan this QR code. You are currently in room 4.", err.(*Error).Message)

	scanned, err := f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_4")
	require.NoError(t, err)
	assert.Equal(t, 4, scanned.Question.RoomPosition)
	assert.NotEmpty(t, scanned.Question.Text)

	rescanned, err := f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_4")
	require.NoError(t, err)
	assert.Equal(t, scanned.Question.ID, rescanned.Question.ID, "re-scan returns the issued question")

	other, err := f.st.RandomQuestionForRoom(f.ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, other)
	_, err = f.engine.SubmitAnswer(f.ctx, gameID, alice, other.ID, "anything", 4)
	assert.ErrorIs(t, err, ErrQuestionMismatch)

	_, err = f.engine.SubmitAnswer(f.ctx, gameID, alice, scanned.Question.ID, "3", 5)
	assert.ErrorIs(t, err, ErrWrongRoom)

	_, err = f.engine.SubmitAnswer(f.ctx, gameID, bob, scanned.Question.ID, "3", 4)
	assert.ErrorIs(t, err, ErrNotYourTurn)

	f.notes.reset()
	answer := "  " + f.answerFor(scanned.Question.ID) + " "
	outcome, err := f.engine.SubmitAnswer(f.ctx, gameID, alice, scanned.Question.ID, answer, 4)
	require.NoError(t, err)
	assert.True(t, outcome.Correct)
	assert.Equal(t, 100, outcome.ScoreChange)
	assert.Equal(t, 100, outcome.NewScore)
	assert.Equal(t, 4, outcome.NewPosition)
	assert.Equal(t, bob, outcome.NextPlayerID)
	assert.Equal(t, "Correct! You earned 100 points and stay in this room.", outcome.Message)

	assert.Equal(t, []string{"answer-submitted", "turn-changed"}, f.notes.names())
	changed, _ := f.notes.find("turn-changed")
	assert.Equal(t, ScopeAll, changed.scope)
	tc := changed.ev.(TurnChanged)
	assert.Equal(t, alice, tc.PreviousTurnPlayerID)
	assert.Equal(t, bob, tc.CurrentTurnPlayerID)
	assert.Equal(t, "bob", tc.CurrentTurnPlayerName)

	p := f.player(gameID, "alice")
	assert.Equal(t, 4, p.Position)
	assert.Equal(t, 100, p.Score)
	assert.Equal(t, 1, p.QuestionsAnswered)
	assert.Equal(t, 1, p.CorrectAnswers)

	_, err = f.engine.SubmitAnswer(f.ctx, gameID, alice, scanned.Question.ID, answer, 4)
	assert.ErrorIs(t, err, ErrNotYourTurn, "a resolved turn cannot be answered twice")

	assert.Equal(t, []string{
		AuditPlayerJoined, AuditPlayerJoined, AuditGameStarted,
		AuditDiceRolled, AuditQuestionIssued, AuditAnswerSubmitted, AuditTurnChanged,
	}, f.auditTypes(gameID))
}

func TestWrongAnswerPenalty(t *testing.T) {
	f := newFixture(t)
	gameID := f.activeGame("alice", "bob")

	outcome := f.takeTurn(gameID, "alice", 1, false)
	assert.False(t, outcome.Correct)
	assert.Equal(t, -100, outcome.ScoreChange)
	assert.Equal(t, 0, outcome.NewScore, "score never drops below zero")
	assert.Equal(t, 1, outcome.NewPosition, "position never drops below the first room")
	assert.Contains(t, outcome.Message, "Move back to room 1")
	assert.NotEmpty(t, outcome.CorrectAnswer)

	f.takeTurn(gameID, "bob", 6, true)
	outcome = f.takeTurn(gameID, "alice", 6, true)
	assert.Equal(t, 100, outcome.NewScore)
	assert.Equal(t, 7, outcome.NewPosition)

	outcome = f.takeTurn(gameID, "bob", 3, false)
	assert.Equal(t, 0, outcome.NewScore)
	assert.Equal(t, 8, outcome.NewPosition)

	p := f.player(gameID, "bob")
	assert.Equal(t, 8, p.Position)
	assert.Equal(t, 2, p.QuestionsAnswered)
	assert.Equal(t, 1, p.CorrectAnswers)
	assert.Equal(t, 2, p.TotalMoves)
}

func TestTurnRotationSkipsLeftSeat(t *testing.T) {
	f := newFixture(t)
	gameID, _ := f.waitingGame("alice", "bob", "carol", "dave")
	require.NoError(t, f.lobby.LeaveGame(f.ctx, gameID, f.id("bob")))
	_, err := f.engine.StartGame(f.ctx, f.id("alice"), gameID)
	require.NoError(t, err)

	assert.Equal(t, f.id("carol"), f.takeTurn(gameID, "alice", 2, true).NextPlayerID)
	assert.Equal(t, f.id("dave"), f.takeTurn(gameID, "carol", 2, true).NextPlayerID)
	assert.Equal(t, f.id("alice"), f.takeTurn(gameID, "dave", 2, true).NextPlayerID)
}

func TestWinningRoll(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.id("alice"), f.id("bob")
	gameID := f.activeGame("alice", "bob")

	// Seven turns of sixes each take both players from room 1 to 43.
	for range 7 {
		f.takeTurn(gameID, "alice", 6, true)
		f.takeTurn(gameID, "bob", 6, true)
	}
	require.Equal(t, 43, f.player(gameID, "alice").Position)

	f.notes.reset()
	f.push(6)
	rolled, err := f.engine.RollDice(f.ctx, gameID, alice)
	require.NoError(t, err)
	assert.True(t, rolled.Winner)
	assert.Equal(t, 49, rolled.NewPosition)
	assert.Equal(t, "Congratulations! You reached the final room!", rolled.Message)

	won, ok := f.notes.find("game-winner")
	require.True(t, ok)
	assert.Equal(t, ScopeAll, won.scope)
	gw := won.ev.(GameWinner)
	assert.Equal(t, alice, gw.WinnerID)
	assert.Equal(t, "alice", gw.WinnerName)
	assert.Equal(t, 49, gw.FinalPosition)
	_, moved := f.notes.find("player-moved")
	assert.False(t, moved, "a winning roll is announced as a win only")

	_, err = f.engine.RollDice(f.ctx, gameID, bob)
	assert.ErrorIs(t, err, ErrGameNotActive)
	_, err = f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_49")
	assert.ErrorIs(t, err, ErrGameNotActive)

	state, err := f.engine.GetGameState(f.ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Game.Status)
	require.NotNil(t, state.Game.WinnerID)
	assert.Equal(t, alice, *state.Game.WinnerID)
	assert.Len(t, state.RecentMoves, RecentMovesLimit)
	assert.Equal(t, 49, state.RecentMoves[0].ToPosition)

	stats, err := f.engine.GetGameStats(f.ctx, gameID, bob)
	require.NoError(t, err)
	assert.Equal(t, 15, stats.Game.TotalMoves)
	assert.Equal(t, 14, stats.Game.TotalQuestions)
	assert.NotEmpty(t, stats.Game.Duration)
	require.Len(t, stats.Players, 2)
	assert.Equal(t, alice, stats.Players[0].UserID, "equal scores rank the player further ahead first")
	assert.Equal(t, 1, stats.Players[0].Rank)
	assert.Equal(t, 700, stats.Players[0].Score)
	require.NotNil(t, stats.CurrentPlayer)
	assert.Equal(t, bob, stats.CurrentPlayer.UserID)
	assert.Equal(t, 2, stats.CurrentPlayer.Rank)

	assert.Contains(t, f.auditTypes(gameID), AuditGameWon)
}

func TestScanQRErrors(t *testing.T) {
	f := newFixture(t)
	alice := f.id("alice")

	waiting, _ := f.waitingGame("alice", "bob")
	_, err := f.engine.ScanQR(f.ctx, waiting, alice, "ROOM_1")
	assert.ErrorIs(t, err, ErrGameNotActive)

	gameID := f.activeGame("alice", "bob")

	_, err = f.engine.ScanQR(f.ctx, gameID, alice, "not a room")
	assert.ErrorIs(t, err, ErrInvalidQRCode)
	_, err = f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_77")
	assert.ErrorIs(t, err, ErrInvalidRoom)
	_, err = f.engine.ScanQR(f.ctx, gameID, f.id("carol"), "ROOM_1")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_1")
	assert.ErrorIs(t, err, ErrNoPendingTurn, "scanning before rolling")
}

func TestNoQuestionForRoom(t *testing.T) {
	f := newFixture(t, withoutQuestions())
	alice := f.id("alice")
	gameID := f.activeGame("alice", "bob")

	f.push(2)
	_, err := f.engine.RollDice(f.ctx, gameID, alice)
	require.NoError(t, err)
	_, err = f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_3")
	require.ErrorIs(t, err, ErrNoQuestionForRoom)
	assert.Equal(t, "No question found for room 3. Roll again.", err.Error())

	pending, err := f.st.GetPendingMove(f.ctx, gameID, alice)
	require.NoError(t, err)
	assert.Nil(t, pending, "the empty room closes the turn record")
	moves, err := f.st.RecentMoves(f.ctx, gameID, 10)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, store.MoveSkipped, moves[0].Status)
	assert.Contains(t, f.auditTypes(gameID), AuditRoomSkipped)

	_, err = f.engine.RollDice(f.ctx, gameID, f.id("bob"))
	assert.ErrorIs(t, err, ErrNotYourTurn, "the turn stays with the roller")

	f.push(3)
	roll, err := f.engine.RollDice(f.ctx, gameID, alice)
	require.NoError(t, err, "the player rolls again")
	assert.Equal(t, 3, roll.OldPosition)
	assert.Equal(t, 6, roll.NewPosition)

	_, err = f.engine.ScanQR(f.ctx, gameID, alice, "ROOM_6")
	assert.ErrorIs(t, err, ErrNoQuestionForRoom)
}

func TestSubmitAnswerValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.id("alice")
	gameID := f.activeGame("alice", "bob")

	q, err := f.st.RandomQuestionForRoom(f.ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, q)

	_, err = f.engine.SubmitAnswer(f.ctx, gameID, alice, q.ID, "   ", 3)
	assert.ErrorIs(t, err, ErrEmptyAnswer)
	_, err = f.engine.SubmitAnswer(f.ctx, gameID, alice, 99999, "len", 3)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
	_, err = f.engine.SubmitAnswer(f.ctx, gameID, alice, q.ID, "len", 1)
	assert.ErrorIs(t, err, ErrNoPendingTurn)

	f.push(2)
	_, err = f.engine.RollDice(f.ctx, gameID, alice)
	require.NoError(t, err)
	_, err = f.engine.SubmitAnswer(f.ctx, gameID, alice, q.ID, "len", 3)
	assert.ErrorIs(t, err, ErrQuestionMismatch, "answering before scanning")
}

func TestConcurrentRollsApplyOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.id("alice")
	gameID := f.activeGame("alice", "bob")
	f.push(4, 4, 4, 4, 4, 4, 4, 4)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.RollDice(f.ctx, gameID, alice)
		}()
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		if err == nil {
			applied++
			continue
		}
		assert.Equal(t, KindConflict, KindOf(err), err)
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 5, f.player(gameID, "alice").Position)
	assert.Equal(t, 1, f.player(gameID, "alice").TotalMoves)
}

func TestNotifierPanicDoesNotFailAction(t *testing.T) {
	f := newFixture(t, withNotifier(panickingNotifier{}))
	gameID, _ := f.waitingGame("alice", "bob")

	started, err := f.engine.StartGame(f.ctx, f.id("alice"), gameID)
	require.NoError(t, err)
	assert.Equal(t, f.id("alice"), started.CurrentTurnPlayerID)
}

func TestGameStateNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.GetGameState(f.ctx, 42)
	assert.ErrorIs(t, err, ErrGameNotFound)
	_, err = f.engine.GetGameStats(f.ctx, 42, f.id("alice"))
	assert.ErrorIs(t, err, ErrGameNotFound)
}
