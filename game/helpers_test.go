package game

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pythonquest/store"
)

type published struct {
	scope Scope
	ev    Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(scope Scope, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{scope: scope, ev: ev})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, p := range n.events {
		out[i] = p.ev.Name()
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

// find returns the last published event with the given name.
func (n *recordingNotifier) find(name string) (published, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].ev.Name() == name {
			return n.events[i], true
		}
	}
	return published{}, false
}

type panickingNotifier struct{}

func (panickingNotifier) Publish(Scope, Event) { panic("subscriber exploded") }

type fixture struct {
	t      *testing.T
	ctx    context.Context
	st     *store.SQLiteStore
	notes  *recordingNotifier
	lobby  *Lobby
	engine *Engine
	users  map[string]int64

	mu    sync.Mutex
	rolls []int
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	skipQuestions bool
	notifier      Notifier
}

func withoutQuestions() fixtureOption {
	return func(c *fixtureConfig) { c.skipQuestions = true }
}

func withNotifier(n Notifier) fixtureOption {
	return func(c *fixtureConfig) { c.notifier = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "quest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if !cfg.skipQuestions {
		bank, err := store.DefaultQuestions(TerminalRoom)
		require.NoError(t, err)
		_, err = st.InsertQuestions(ctx, bank)
		require.NoError(t, err)
	}

	f := &fixture{t: t, ctx: ctx, st: st, notes: &recordingNotifier{}, users: make(map[string]int64)}
	notifier := cfg.notifier
	if notifier == nil {
		notifier = f.notes
	}
	logger := zaptest.NewLogger(t)
	f.lobby = NewLobby(st, notifier, logger)
	f.engine = NewEngine(st, notifier, logger, WithRoller(f.nextRoll))

	for _, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		id, err := st.CreateUser(ctx, name, name+"@example.com", "hash")
		require.NoError(t, err)
		f.users[name] = id
	}
	return f
}

// push queues die faces. An empty queue rolls 1.
func (f *fixture) push(rolls ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolls = append(f.rolls, rolls...)
}

func (f *fixture) nextRoll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rolls) == 0 {
		return 1
	}
	v := f.rolls[0]
	f.rolls = f.rolls[1:]
	return v
}

func (f *fixture) id(name string) int64 {
	f.t.Helper()
	id, ok := f.users[name]
	require.True(f.t, ok, "unknown user %s", name)
	return id
}

// waitingGame creates a game owned by the first name and seats the rest.
func (f *fixture) waitingGame(names ...string) (int64, string) {
	f.t.Helper()
	created, err := f.lobby.CreateGame(f.ctx, f.id(names[0]), "Python Quest", 4)
	require.NoError(f.t, err)
	for _, name := range names[1:] {
		_, err := f.lobby.JoinGame(f.ctx, f.id(name), created.JoinCode)
		require.NoError(f.t, err)
	}
	return created.GameID, created.JoinCode
}

func (f *fixture) activeGame(names ...string) int64 {
	f.t.Helper()
	gameID, _ := f.waitingGame(names...)
	_, err := f.engine.StartGame(f.ctx, f.id(names[0]), gameID)
	require.NoError(f.t, err)
	f.notes.reset()
	return gameID
}

func (f *fixture) answerFor(questionID int64) string {
	f.t.Helper()
	q, err := f.st.GetQuestion(f.ctx, questionID)
	require.NoError(f.t, err)
	require.NotNil(f.t, q)
	return q.CorrectAnswer
}

// takeTurn rolls, scans the landing room and answers. The roll must not win.
func (f *fixture) takeTurn(gameID int64, name string, roll int, correct bool) *AnswerOutcome {
	f.t.Helper()
	userID := f.id(name)
	f.push(roll)
	rolled, err := f.engine.RollDice(f.ctx, gameID, userID)
	require.NoError(f.t, err)
	require.False(f.t, rolled.Winner)

	scanned, err := f.engine.ScanQR(f.ctx, gameID, userID, RoomToken(rolled.NewPosition))
	require.NoError(f.t, err)

	answer := "definitely not it"
	if correct {
		answer = f.answerFor(scanned.Question.ID)
	}
	outcome, err := f.engine.SubmitAnswer(f.ctx, gameID, userID, scanned.Question.ID, answer, rolled.NewPosition)
	require.NoError(f.t, err)
	return outcome
}

func (f *fixture) player(gameID int64, name string) *store.GamePlayer {
	f.t.Helper()
	p, err := f.st.GetGamePlayer(f.ctx, gameID, f.id(name))
	require.NoError(f.t, err)
	require.NotNil(f.t, p)
	return p
}

func (f *fixture) auditTypes(gameID int64) []string {
	f.t.Helper()
	events, err := f.st.ListEvents(f.ctx, gameID)
	require.NoError(f.t, err)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
