package memory

import (
	"context"
	"sort"
	"sync"

	"live-poll-service/internal/domain"
)

// Store is the in-memory storage collaborator. It is the default backend and
// the reference for the uniqueness semantics the other backends must match.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Session
	questions map[string]domain.Question
	answers   map[string][]domain.Answer // questionID -> answers in arrival order
	answered  map[string]struct{}        // questionID+"\x00"+studentID
	chat      map[string][]domain.ChatMessage
}

func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]domain.Session),
		questions: make(map[string]domain.Question),
		answers:   make(map[string][]domain.Answer),
		answered:  make(map[string]struct{}),
		chat:      make(map[string][]domain.ChatMessage),
	}
}

func (s *Store) SaveSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = cloneSession(session)
	return nil
}

func (s *Store) GetSession(_ context.Context, key string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) SaveQuestion(_ context.Context, question domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[question.QuestionID] = question
	return nil
}

func (s *Store) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (s *Store) SessionQuestions(_ context.Context, sessionKey string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions := make([]domain.Question, 0, len(s.questions))
	for _, q := range s.questions {
		if q.SessionID == sessionKey {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].CreatedAt.After(questions[j].CreatedAt)
	})
	return questions, nil
}

func (s *Store) SaveAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answer.QuestionID + "\x00" + answer.StudentID
	if _, ok := s.answered[key]; ok {
		return domain.ErrAnswerExists
	}
	s.answered[key] = struct{}{}
	s.answers[answer.QuestionID] = append(s.answers[answer.QuestionID], answer)
	return nil
}

func (s *Store) QuestionAnswers(_ context.Context, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Answer(nil), s.answers[questionID]...), nil
}

func (s *Store) SaveChatMessage(_ context.Context, message domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat[message.SessionID] = append(s.chat[message.SessionID], message)
	return nil
}

func (s *Store) SessionChatMessages(_ context.Context, sessionKey string) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ChatMessage(nil), s.chat[sessionKey]...), nil
}

func cloneSession(session domain.Session) domain.Session {
	session.Students = append([]domain.Student(nil), session.Students...)
	if session.CurrentQuestion != nil {
		q := *session.CurrentQuestion
		session.CurrentQuestion = &q
	}
	return session
}
