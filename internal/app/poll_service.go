package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"live-poll-service/internal/domain"
)

// Store is the storage collaborator: best-effort persistence of sessions,
// questions, answers and chat (in-memory, Redis, Postgres). SaveAnswer must
// enforce uniqueness of (questionID, studentID) and report a violation as
// domain.ErrAnswerExists.
type Store interface {
	SaveSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, key string) (domain.Session, error)

	SaveQuestion(ctx context.Context, question domain.Question) error
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	// SessionQuestions returns all questions for a session, newest first.
	SessionQuestions(ctx context.Context, sessionKey string) ([]domain.Question, error)

	SaveAnswer(ctx context.Context, answer domain.Answer) error
	QuestionAnswers(ctx context.Context, questionID string) ([]domain.Answer, error)

	SaveChatMessage(ctx context.Context, message domain.ChatMessage) error
	// SessionChatMessages returns the chat log in timestamp order, oldest first.
	SessionChatMessages(ctx context.Context, sessionKey string) ([]domain.ChatMessage, error)
}

// EventSink delivers named events to connected participants. The service
// calls it while holding the session lock, so implementations must not block
// (the websocket hub hands messages to buffered per-client channels).
type EventSink interface {
	ToUser(userID, event string, payload any)
	ToRoom(event string, payload any)
	ToRoomExcept(userID, event string, payload any)
}

// EndReason records which side of the race terminated a question.
type EndReason string

const (
	EndManual  EndReason = "manual"
	EndTimeout EndReason = "timeout"
)

// PollService coordinates the single classroom session: roster admission, the
// one active question, answer bookkeeping and chat. All mutating operations
// are serialized by one mutex; events are emitted through the sink before the
// lock is released, which fixes the per-session delivery order.
type PollService struct {
	store Store
	sink  EventSink
	log   *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	session *domain.Session
	timer   *time.Timer

	history singleflight.Group
}

func NewPollService(store Store, sink EventSink, logger *slog.Logger) *PollService {
	return NewPollServiceWithClock(store, sink, logger, time.Now, time.AfterFunc)
}

// NewPollServiceWithClock is test-only: it pins the clock and intercepts
// auto-end timer scheduling for deterministic lifecycle tests.
func NewPollServiceWithClock(store Store, sink EventSink, logger *slog.Logger, now func() time.Time, after func(time.Duration, func()) *time.Timer) *PollService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollService{
		store:     store,
		sink:      sink,
		log:       logger,
		now:       now,
		afterFunc: after,
	}
}

// EnsureSession creates the global session on first teacher connection, or
// reuses it with the new teacher identity. The classroom always has exactly
// one room.
func (s *PollService) EnsureSession(ctx context.Context, teacherID, teacherName string) (domain.Session, error) {
	if teacherName == "" {
		teacherName = "Teacher"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.Session{}, err
	}
	now := s.now()
	if s.session == nil {
		s.session = &domain.Session{
			SessionID:   domain.SessionKey,
			TeacherID:   teacherID,
			TeacherName: teacherName,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	} else {
		s.session.TeacherID = teacherID
		s.session.TeacherName = teacherName
		s.session.IsActive = true
		s.session.UpdatedAt = now
	}
	if err := s.store.SaveSession(ctx, *s.session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	snap := s.snapshotLocked()
	s.sink.ToUser(teacherID, domain.EvSessionCreated, domain.SessionPayload{SessionID: domain.SessionKey, Session: snap})
	s.log.Info("teacher joined session", "teacher", teacherName)
	return snap, nil
}

// Join admits a student into the session, or marks a returning id online
// again without touching its join time or display name. The new student is
// seeded with the chat history and the in-progress question, if any.
func (s *PollService) Join(ctx context.Context, studentID, studentName string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.Session{}, err
	}
	if s.session == nil || !s.session.IsActive {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	now := s.now()
	st := s.session.Student(studentID)
	if st != nil {
		st.IsOnline = true
	} else {
		s.session.Students = append(s.session.Students, domain.Student{
			ID:       studentID,
			Name:     studentName,
			JoinedAt: now,
			IsOnline: true,
		})
		st = s.session.Student(studentID)
	}
	s.session.UpdatedAt = now
	if err := s.store.SaveSession(ctx, *s.session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}

	snap := s.publicSnapshotLocked()
	s.sink.ToUser(studentID, domain.EvSessionJoined, domain.SessionPayload{SessionID: domain.SessionKey, Session: snap})
	s.sink.ToRoomExcept(studentID, domain.EvStudentJoined, domain.StudentJoinedPayload{Student: *st})

	if msgs, err := s.store.SessionChatMessages(ctx, domain.SessionKey); err != nil {
		s.log.Error("load chat history", "err", err)
	} else {
		s.sink.ToUser(studentID, domain.EvChatHistory, domain.ChatHistoryPayload{Messages: msgs})
	}
	if q := snap.CurrentQuestion; q != nil && q.IsActive {
		s.sink.ToUser(studentID, domain.EvQuestionNew, domain.QuestionPayload{Question: *q})
	}
	s.log.Info("student joined session", "student", studentName)
	return snap, nil
}

// Disconnect marks a student offline and tells the room. Teacher disconnects
// leave the session untouched so a reconnect can reclaim it.
func (s *PollService) Disconnect(ctx context.Context, userID string, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || role != domain.RoleStudent {
		return
	}
	st := s.session.Student(userID)
	if st == nil || !st.IsOnline {
		return
	}
	st.IsOnline = false
	s.session.UpdatedAt = s.now()
	if err := s.store.SaveSession(ctx, *s.session); err != nil {
		s.log.Error("save session", "err", err)
	}
	s.sink.ToRoomExcept(userID, domain.EvStudentOffline, domain.StudentOfflinePayload{StudentID: userID, StudentName: st.Name})
}

// Kick removes a student from the roster entirely. The kicked id may rejoin
// later as a fresh roster entry; kicking does not blacklist it.
func (s *PollService) Kick(ctx context.Context, callerID, studentID string) (domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.Student{}, err
	}
	if s.session == nil {
		return domain.Student{}, domain.ErrSessionNotFound
	}
	if callerID != s.session.TeacherID {
		return domain.Student{}, domain.ErrNotTeacher
	}
	idx := -1
	for i := range s.session.Students {
		if s.session.Students[i].ID == studentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	removed := s.session.Students[idx]
	s.session.Students = append(s.session.Students[:idx], s.session.Students[idx+1:]...)
	s.session.UpdatedAt = s.now()
	if err := s.store.SaveSession(ctx, *s.session); err != nil {
		return domain.Student{}, fmt.Errorf("save session: %w", err)
	}
	s.sink.ToUser(studentID, domain.EvKicked, domain.KickedPayload{
		Reason: "You have been removed from the session by the teacher",
	})
	s.sink.ToRoomExcept(callerID, domain.EvStudentKicked, domain.StudentKickedPayload{
		StudentID:   studentID,
		StudentName: removed.Name,
		KickedBy:    s.session.TeacherName,
	})
	s.log.Info("student kicked", "student", removed.Name)
	return removed, nil
}

// Roster returns the student list. Teacher only.
func (s *PollService) Roster(ctx context.Context, callerID string) ([]domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if callerID != s.session.TeacherID {
		return nil, domain.ErrNotTeacher
	}
	students := append([]domain.Student(nil), s.session.Students...)
	s.sink.ToUser(callerID, domain.EvStudentsList, domain.StudentsListPayload{Students: students})
	return students, nil
}

// Snapshot returns the current session state for read-only surfaces.
func (s *PollService) Snapshot(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.Session{}, err
	}
	if s.session == nil {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.snapshotLocked(), nil
}

// PublicSnapshot is Snapshot with the correct answer stripped from the active
// question, safe to serve to any participant.
func (s *PollService) PublicSnapshot(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.Session{}, err
	}
	if s.session == nil {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.publicSnapshotLocked(), nil
}

// SendChat validates, persists and broadcasts one chat message.
func (s *PollService) SendChat(ctx context.Context, senderID, senderName string, role domain.Role, body string) (domain.ChatMessage, error) {
	if strings.TrimSpace(body) == "" || len(body) > domain.MaxChatMessageLen {
		return domain.ChatMessage{}, fmt.Errorf("%w: message must be 1-%d characters", domain.ErrInvalidInput, domain.MaxChatMessageLen)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.ChatMessage{}, err
	}
	if s.session == nil {
		return domain.ChatMessage{}, domain.ErrSessionNotFound
	}
	msg := domain.ChatMessage{
		MessageID:  uuid.NewString(),
		SessionID:  domain.SessionKey,
		SenderID:   senderID,
		SenderName: senderName,
		SenderRole: role,
		Message:    body,
		Timestamp:  s.now(),
	}
	if err := s.store.SaveChatMessage(ctx, msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("save chat message: %w", err)
	}
	s.sink.ToRoom(domain.EvChatMessage, domain.ChatMessagePayload{Message: msg})
	return msg, nil
}

// Typing relays a typing notice to everyone but the sender. Notices are not
// persisted; receivers decay their indicator client-side.
func (s *PollService) Typing(senderID, senderName string, role domain.Role) {
	s.sink.ToRoomExcept(senderID, domain.EvTyping, domain.TypingPayload{
		SenderID:   senderID,
		SenderName: senderName,
		SenderRole: role,
	})
}

// History returns results for every ended question, newest question first,
// and sends them to the caller. Concurrent loads are collapsed.
func (s *PollService) History(ctx context.Context, callerID string) ([]domain.QuestionResult, error) {
	v, err, _ := s.history.Do("history", func() (interface{}, error) {
		questions, err := s.store.SessionQuestions(ctx, domain.SessionKey)
		if err != nil {
			return nil, fmt.Errorf("load questions: %w", err)
		}
		results := make([]domain.QuestionResult, 0, len(questions))
		for _, q := range questions {
			if q.IsActive {
				continue
			}
			r, err := s.buildResult(ctx, q)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	results := v.([]domain.QuestionResult)
	s.sink.ToUser(callerID, domain.EvSessionHistory, domain.HistoryPayload{History: results})
	return results, nil
}

// loadSessionLocked rebuilds in-memory state from storage after a restart.
// A persisted in-progress question gets its auto-end timer re-armed against
// the remaining wall-clock window, or is ended straight away if that window
// has already passed.
func (s *PollService) loadSessionLocked(ctx context.Context) error {
	if s.session != nil {
		return nil
	}
	sess, err := s.store.GetSession(ctx, domain.SessionKey)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.session = &sess
	if q := s.session.CurrentQuestion; q != nil && q.IsActive {
		remaining := q.EndsAt.Sub(s.now())
		if remaining <= 0 {
			if _, err := s.endQuestionLocked(ctx, q.QuestionID, EndTimeout); err != nil {
				s.log.Error("end expired question", "question", q.QuestionID, "err", err)
			}
		} else {
			s.armTimerLocked(q.QuestionID, remaining)
		}
	}
	return nil
}

func (s *PollService) armTimerLocked(questionID string, d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.afterFunc(d, func() {
		if _, err := s.EndQuestion(context.Background(), questionID, EndTimeout); err != nil {
			s.log.Error("auto-end question", "question", questionID, "err", err)
		}
	})
}

// snapshotLocked deep-copies the session so callers never share memory with
// engine state.
func (s *PollService) snapshotLocked() domain.Session {
	snap := *s.session
	snap.Students = append([]domain.Student(nil), s.session.Students...)
	if s.session.CurrentQuestion != nil {
		q := *s.session.CurrentQuestion
		snap.CurrentQuestion = &q
	}
	return snap
}

// publicSnapshotLocked strips the correct answer from the embedded question.
func (s *PollService) publicSnapshotLocked() domain.Session {
	snap := s.snapshotLocked()
	if snap.CurrentQuestion != nil {
		q := snap.CurrentQuestion.Public()
		snap.CurrentQuestion = &q
	}
	return snap
}
