// Package client holds the event-driven state reducer a poll dashboard keeps
// in sync with the server. It consumes the same named events the server
// emits, so it doubles as the reference for client behavior and as a test
// harness for end-to-end flows.
package client

import (
	"encoding/json"
	"fmt"
	"time"

	"live-poll-service/internal/domain"
)

// TypingWindow is how long a typing indicator stays lit without a fresh
// notice. The server never stores typing state; decay is the client's job.
const TypingWindow = 3 * time.Second

// State is one participant's local view of the session.
type State struct {
	Session         *domain.Session
	CurrentQuestion *domain.Question
	HasAnswered     bool
	CurrentAnswer   string
	LastResult      *domain.QuestionResult
	ChatMessages    []domain.ChatMessage
	History         []domain.QuestionResult
	Kicked          bool
	LastError       string

	now    func() time.Time
	typing map[string]typingNotice
}

type typingNotice struct {
	name     string
	deadline time.Time
}

func NewState() *State {
	return NewStateWithClock(time.Now)
}

// NewStateWithClock is test-only for deterministic typing decay.
func NewStateWithClock(now func() time.Time) *State {
	return &State{now: now, typing: make(map[string]typingNotice)}
}

// Apply advances the state with one server event. Unknown events are ignored
// so older clients keep working against a newer server.
func (s *State) Apply(eventType string, payload json.RawMessage) error {
	switch eventType {
	case domain.EvSessionCreated, domain.EvSessionJoined:
		var p domain.SessionPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.Session = &p.Session
		if p.Session.CurrentQuestion != nil && p.Session.CurrentQuestion.IsActive {
			q := *p.Session.CurrentQuestion
			s.CurrentQuestion = &q
		}

	case domain.EvStudentJoined:
		var p domain.StudentJoinedPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		if s.Session == nil {
			return nil
		}
		students := s.Session.Students[:0:0]
		for _, st := range s.Session.Students {
			if st.ID != p.Student.ID {
				students = append(students, st)
			}
		}
		s.Session.Students = append(students, p.Student)

	case domain.EvStudentOffline:
		var p domain.StudentOfflinePayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		if s.Session == nil {
			return nil
		}
		if st := s.Session.Student(p.StudentID); st != nil {
			st.IsOnline = false
		}

	case domain.EvStudentKicked:
		var p domain.StudentKickedPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		if s.Session == nil {
			return nil
		}
		students := s.Session.Students[:0:0]
		for _, st := range s.Session.Students {
			if st.ID != p.StudentID {
				students = append(students, st)
			}
		}
		s.Session.Students = students

	case domain.EvKicked:
		s.Kicked = true
		s.Session = nil
		s.CurrentQuestion = nil

	case domain.EvQuestionNew:
		var p domain.QuestionPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		q := p.Question
		s.CurrentQuestion = &q
		s.HasAnswered = false
		s.CurrentAnswer = ""

	case domain.EvAnswerAck:
		var p domain.AnswerAckPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.HasAnswered = true
		s.CurrentAnswer = p.Answer

	case domain.EvResults:
		var p domain.ResultsPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.LastResult = &p.Results

	case domain.EvQuestionEnd:
		s.CurrentQuestion = nil
		s.HasAnswered = false
		s.CurrentAnswer = ""

	case domain.EvChatMessage:
		var p domain.ChatMessagePayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.ChatMessages = append(s.ChatMessages, p.Message)
		delete(s.typing, p.Message.SenderID)

	case domain.EvChatHistory:
		var p domain.ChatHistoryPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.ChatMessages = p.Messages

	case domain.EvTyping:
		var p domain.TypingPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.typing[p.SenderID] = typingNotice{name: p.SenderName, deadline: s.now().Add(TypingWindow)}

	case domain.EvSessionHistory:
		var p domain.HistoryPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.History = p.History

	case domain.EvStudentsList:
		var p domain.StudentsListPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		if s.Session != nil {
			s.Session.Students = p.Students
		}

	case domain.EvError:
		var p domain.ErrorPayload
		if err := unmarshal(eventType, payload, &p); err != nil {
			return err
		}
		s.LastError = p.Message
	}
	return nil
}

// TypingBy returns who is currently typing, pruning expired notices.
func (s *State) TypingBy() []string {
	now := s.now()
	var names []string
	for id, n := range s.typing {
		if now.After(n.deadline) {
			delete(s.typing, id)
			continue
		}
		names = append(names, n.name)
	}
	return names
}

func unmarshal(eventType string, data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return nil
}
