package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultQuestionBank []byte

type Question struct {
	ID            int64  `yaml:"-"`
	Text          string `yaml:"question"`
	CorrectAnswer string `yaml:"answer"`
	Explanation   string `yaml:"explanation"`
	Difficulty    string `yaml:"difficulty"`
	Topic         string `yaml:"topic"`
	RoomPosition  int    `yaml:"room"`
}

type questionBank struct {
	Questions []Question `yaml:"questions"`
}

// ParseQuestionBank decodes a YAML question bank for a board whose last room
// is terminalRoom. Every entry needs a question, an answer and a room strictly
// between the start room and terminalRoom, and every such room needs at least
// one question.
func ParseQuestionBank(data []byte, terminalRoom int) ([]Question, error) {
	var bank questionBank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("failed to parse question bank: %w", err)
	}

	first, last := 2, terminalRoom-1
	covered := make(map[int]bool, last-first+1)
	for i := range bank.Questions {
		q := &bank.Questions[i]
		q.Text = strings.TrimSpace(q.Text)
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		if q.Text == "" || q.CorrectAnswer == "" {
			return nil, fmt.Errorf("question %d: question and answer are required", i+1)
		}
		if q.RoomPosition < first || q.RoomPosition > last {
			return nil, fmt.Errorf("question %d: room %d out of range [%d, %d]", i+1, q.RoomPosition, first, last)
		}
		if q.Difficulty == "" {
			q.Difficulty = "easy"
		}
		covered[q.RoomPosition] = true
	}

	var missing []string
	for room := first; room <= last; room++ {
		if !covered[room] {
			missing = append(missing, strconv.Itoa(room))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("question bank has no question for rooms %s", strings.Join(missing, ", "))
	}
	return bank.Questions, nil
}

// DefaultQuestions returns the embedded question bank.
func DefaultQuestions(maxRoom int) ([]Question, error) {
	return ParseQuestionBank(defaultQuestionBank, maxRoom)
}

// LoadQuestionFile reads a YAML question bank from disk.
func LoadQuestionFile(path string, maxRoom int) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question bank: %w", err)
	}
	return ParseQuestionBank(data, maxRoom)
}

const questionColumns = "id, question_text, correct_answer, explanation, difficulty, topic, room_position"

func scanQuestion(row *sql.Row) (*Question, error) {
	q := &Question{}
	err := row.Scan(&q.ID, &q.Text, &q.CorrectAnswer, &q.Explanation, &q.Difficulty, &q.Topic, &q.RoomPosition)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, questionID int64) (*Question, error) {
	return scanQuestion(s.db.QueryRowContext(ctx,
		"SELECT "+questionColumns+" FROM questions WHERE id = ?", questionID))
}

// RandomQuestionForRoom picks one of the questions bound to room uniformly at random.
func (s *SQLiteStore) RandomQuestionForRoom(ctx context.Context, room int) (*Question, error) {
	return scanQuestion(s.db.QueryRowContext(ctx,
		"SELECT "+questionColumns+" FROM questions WHERE room_position = ? ORDER BY RANDOM() LIMIT 1", room))
}

func (s *SQLiteStore) CountQuestions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM questions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return n, nil
}

// InsertQuestions adds questions, skipping any whose (room, text) already
// exists. It returns how many rows were inserted.
func (s *SQLiteStore) InsertQuestions(ctx context.Context, questions []Question) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO questions (question_text, correct_answer, explanation, difficulty, topic, room_position)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare question insert: %w", err)
		}
		defer stmt.Close()

		for _, q := range questions {
			result, err := stmt.ExecContext(ctx, q.Text, q.CorrectAnswer, q.Explanation, q.Difficulty, q.Topic, q.RoomPosition)
			if err != nil {
				return fmt.Errorf("failed to insert question: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
