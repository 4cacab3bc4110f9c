package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"live-poll-service/internal/domain"
)

// Store is the Redis storage collaborator.
// Layout:
//
//	poll:session:{key}        session JSON (optionally with TTL)
//	poll:question:{id}        question JSON
//	poll:questions:{session}  zset of question ids scored by creation time
//	poll:answers:{question}   hash studentID -> answer JSON, written with HSetNX
//	poll:chat:{session}       list of chat message JSON in arrival order
//
// HSetNX is the uniqueness mechanism for the (question, student) pair: the
// second write for the same field reports the duplicate.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore wraps a Redis client. ttl > 0 bounds the lifetime of the session
// key; poll history and chat are kept without expiry.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) SaveSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(session.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, key string) (domain.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (s *Store) SaveQuestion(ctx context.Context, question domain.Question) error {
	data, err := json.Marshal(question)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.questionKey(question.QuestionID), data, 0)
	pipe.ZAdd(ctx, s.questionOrderKey(question.SessionID), redis.Z{
		Score:  float64(question.CreatedAt.UnixNano()),
		Member: question.QuestionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	data, err := s.client.Get(ctx, s.questionKey(questionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question: %w", err)
	}
	var q domain.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}

func (s *Store) SessionQuestions(ctx context.Context, sessionKey string) ([]domain.Question, error) {
	ids, err := s.client.ZRevRange(ctx, s.questionOrderKey(sessionKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	questions := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, err := s.GetQuestion(ctx, id)
		if errors.Is(err, domain.ErrQuestionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func (s *Store) SaveAnswer(ctx context.Context, answer domain.Answer) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	set, err := s.client.HSetNX(ctx, s.answersKey(answer.QuestionID), answer.StudentID, data).Result()
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	if !set {
		return domain.ErrAnswerExists
	}
	return nil
}

func (s *Store) QuestionAnswers(ctx context.Context, questionID string) ([]domain.Answer, error) {
	raw, err := s.client.HGetAll(ctx, s.answersKey(questionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answers := make([]domain.Answer, 0, len(raw))
	for _, data := range raw {
		var a domain.Answer
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("unmarshal answer: %w", err)
		}
		answers = append(answers, a)
	}
	// Hash iteration order is unspecified; restore submission order.
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
	})
	return answers, nil
}

func (s *Store) SaveChatMessage(ctx context.Context, message domain.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	if err := s.client.RPush(ctx, s.chatKey(message.SessionID), data).Err(); err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}
	return nil
}

func (s *Store) SessionChatMessages(ctx context.Context, sessionKey string) ([]domain.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, s.chatKey(sessionKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, data := range raw {
		var m domain.ChatMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("unmarshal chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Store) sessionKey(key string) string       { return "poll:session:" + key }
func (s *Store) questionKey(id string) string       { return "poll:question:" + id }
func (s *Store) questionOrderKey(key string) string { return "poll:questions:" + key }
func (s *Store) answersKey(id string) string        { return "poll:answers:" + id }
func (s *Store) chatKey(key string) string          { return "poll:chat:" + key }
