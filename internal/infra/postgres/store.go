package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-poll-service/internal/domain"
)

const uniqueViolation = "23505"

// Store is the Postgres storage collaborator. Entities are stored as JSONB
// with the identity and ordering columns broken out for indexing; the unique
// index on (question_id, student_id) enforces one answer per student per
// question and its violation surfaces as domain.ErrAnswerExists.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SaveSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, data) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET data = EXCLUDED.data`,
		session.SessionID, data)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, key string) (domain.Session, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM sessions WHERE session_id = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (s *Store) SaveQuestion(ctx context.Context, question domain.Question) error {
	data, err := json.Marshal(question)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO questions (question_id, session_id, created_at, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (question_id) DO UPDATE SET data = EXCLUDED.data`,
		question.QuestionID, question.SessionID, question.CreatedAt, data)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM questions WHERE question_id = $1`, questionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question: %w", err)
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}

func (s *Store) SessionQuestions(ctx context.Context, sessionKey string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM questions WHERE session_id = $1 ORDER BY created_at DESC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) SaveAnswer(ctx context.Context, answer domain.Answer) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO answers (answer_id, question_id, student_id, submitted_at, data)
		VALUES ($1, $2, $3, $4, $5)`,
		answer.AnswerID, answer.QuestionID, answer.StudentID, answer.SubmittedAt, data)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAnswerExists
	}
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

func (s *Store) QuestionAnswers(ctx context.Context, questionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM answers WHERE question_id = $1 ORDER BY submitted_at`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		var a domain.Answer
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("unmarshal answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (s *Store) SaveChatMessage(ctx context.Context, message domain.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_messages (message_id, session_id, sent_at, data) VALUES ($1, $2, $3, $4)`,
		message.MessageID, message.SessionID, message.Timestamp, data)
	if err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}
	return nil
}

func (s *Store) SessionChatMessages(ctx context.Context, sessionKey string) ([]domain.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM chat_messages WHERE session_id = $1 ORDER BY sent_at`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		var m domain.ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
