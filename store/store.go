package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrStaleState is returned when a guarded update matched no row because
	// the game moved on since it was read.
	ErrStaleState = errors.New("game state changed concurrently")
	// ErrDuplicate is returned on a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
)

type Store interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByLogin(ctx context.Context, login string) (*User, error)
	GetUserByID(ctx context.Context, userID int64) (*User, error)
	TouchLastLogin(ctx context.Context, userID int64) error

	JoinCodeExists(ctx context.Context, code string) (bool, error)
	CreateGame(ctx context.Context, g NewGame) (int64, error)
	GetGame(ctx context.Context, gameID int64) (*Game, error)
	GetWaitingGameByCode(ctx context.Context, code string) (*Game, error)
	ListUserGames(ctx context.Context, userID int64) ([]*UserGame, error)
	DeleteGame(ctx context.Context, gameID int64) error
	StartGame(ctx context.Context, gameID, firstUserID int64) error

	AddPlayer(ctx context.Context, gameID, userID int64, maxPlayers int) (int, error)
	RemovePlayer(ctx context.Context, gameID, userID int64) error
	GetGamePlayers(ctx context.Context, gameID int64) ([]*GamePlayer, error)
	GetGamePlayer(ctx context.Context, gameID, userID int64) (*GamePlayer, error)

	GetPendingMove(ctx context.Context, gameID, userID int64) (*Move, error)
	ApplyRoll(ctx context.Context, r RollUpdate) (int64, error)
	AssignQuestion(ctx context.Context, moveID, questionID int64) error
	SkipMove(ctx context.Context, moveID int64) error
	ApplyAnswer(ctx context.Context, a AnswerUpdate) error
	RecentMoves(ctx context.Context, gameID int64, limit int) ([]*Move, error)
	GameTotals(ctx context.Context, gameID int64) (*Totals, error)

	GetQuestion(ctx context.Context, questionID int64) (*Question, error)
	RandomQuestionForRoom(ctx context.Context, room int) (*Question, error)
	CountQuestions(ctx context.Context) (int, error)
	InsertQuestions(ctx context.Context, questions []Question) (int, error)

	AppendEvent(ctx context.Context, gameID int64, eventType string, payload []byte) error
	ListEvents(ctx context.Context, gameID int64) ([]*GameEvent, error)

	Ping(ctx context.Context) error
	Close() error
}

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the schema.
// ":memory:" is accepted and pinned to a single connection.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func dsn(dbPath string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dbPath != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + pragmas
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() int64 {
	return s.now().UTC().Unix()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return ErrStaleState
	}
	return nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		username, email, passwordHash, s.stamp(),
	)
	if isUniqueViolation(err) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return result.LastInsertId()
}

const userColumns = "id, username, email, password_hash, created_at, last_login"

func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var createdAt int64
	var lastLogin sql.NullInt64
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &createdAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.CreatedAt = fromUnix(createdAt)
	user.LastLogin = fromNullUnix(lastLogin)
	return user, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// GetUserByLogin looks a user up by username or email.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? OR email = ? LIMIT 1", login, login))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", userID))
}

func (s *SQLiteStore) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET last_login = ? WHERE id = ?", s.stamp(), userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}
