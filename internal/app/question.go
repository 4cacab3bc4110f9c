package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"live-poll-service/internal/domain"
)

// StartQuestion validates and starts a question, schedules its auto-end timer
// and broadcasts it. Starting while another question is active is refused.
// Students receive the question without the correct-answer reference; the
// teacher gets a confirmation carrying the full spec.
func (s *PollService) StartQuestion(ctx context.Context, callerID string, spec domain.QuestionSpec) (domain.Question, error) {
	if err := validateSpec(spec); err != nil {
		return domain.Question{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.Question{}, err
	}
	if s.session == nil || !s.session.IsActive {
		return domain.Question{}, domain.ErrSessionNotFound
	}
	if callerID != s.session.TeacherID {
		return domain.Question{}, domain.ErrNotTeacher
	}
	if cur := s.session.CurrentQuestion; cur != nil && cur.IsActive {
		return domain.Question{}, domain.ErrQuestionActive
	}

	now := s.now()
	q := domain.Question{
		QuestionID:    uuid.NewString(),
		SessionID:     domain.SessionKey,
		Type:          spec.Type,
		Question:      spec.Question,
		Options:       append([]string(nil), spec.Options...),
		CorrectAnswer: spec.CorrectAnswer,
		TimeLimit:     spec.TimeLimit,
		CreatedAt:     now,
		StartedAt:     now,
		EndsAt:        now.Add(time.Duration(spec.TimeLimit) * time.Second),
		IsActive:      true,
	}
	if err := s.store.SaveQuestion(ctx, q); err != nil {
		return domain.Question{}, fmt.Errorf("save question: %w", err)
	}
	snapshot := q
	s.session.CurrentQuestion = &snapshot
	s.session.UpdatedAt = now
	if err := s.store.SaveSession(ctx, *s.session); err != nil {
		return domain.Question{}, fmt.Errorf("save session: %w", err)
	}
	s.armTimerLocked(q.QuestionID, q.EndsAt.Sub(now))

	s.sink.ToRoomExcept(callerID, domain.EvQuestionNew, domain.QuestionPayload{Question: q.Public()})
	s.sink.ToUser(callerID, domain.EvQuestionSent, domain.QuestionSentPayload{QuestionID: q.QuestionID, Question: q})
	s.log.Info("question started", "question", q.QuestionID, "type", string(q.Type), "timeLimit", q.TimeLimit)
	return q, nil
}

// EndQuestion terminates a question exactly once. The manual command and the
// auto-end timer both land here; whichever arrives first performs the
// transition and broadcasts results, the loser observes the already-ended
// state and just returns the same result.
func (s *PollService) EndQuestion(ctx context.Context, questionID string, reason EndReason) (domain.QuestionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.QuestionResult{}, err
	}
	return s.endQuestionLocked(ctx, questionID, reason)
}

func (s *PollService) endQuestionLocked(ctx context.Context, questionID string, reason EndReason) (domain.QuestionResult, error) {
	var cur *domain.Question
	if s.session != nil {
		cur = s.session.CurrentQuestion
	}
	if cur == nil || cur.QuestionID != questionID || !cur.IsActive {
		// Already ended (or never the current question): idempotent path.
		q, err := s.store.GetQuestion(ctx, questionID)
		if err != nil {
			return domain.QuestionResult{}, err
		}
		return s.buildResult(ctx, q)
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	now := s.now()
	cur.IsActive = false
	cur.EndedAt = &now
	ended := *cur
	s.session.CurrentQuestion = nil
	s.session.UpdatedAt = now

	if err := s.store.SaveQuestion(ctx, ended); err != nil {
		return domain.QuestionResult{}, fmt.Errorf("save question: %w", err)
	}
	if err := s.store.SaveSession(ctx, *s.session); err != nil {
		return domain.QuestionResult{}, fmt.Errorf("save session: %w", err)
	}
	result, err := s.buildResult(ctx, ended)
	if err != nil {
		return domain.QuestionResult{}, err
	}
	s.sink.ToRoom(domain.EvResults, domain.ResultsPayload{Results: result})
	s.sink.ToRoom(domain.EvQuestionEnd, domain.QuestionEndPayload{QuestionID: questionID})
	s.log.Info("question ended", "question", questionID, "reason", string(reason), "answers", result.TotalStudents)
	return result, nil
}

// SubmitAnswer records one student's answer for the active question. A second
// submission for the same question is rejected; answers to a question that is
// no longer active are rejected as closed.
func (s *PollService) SubmitAnswer(ctx context.Context, questionID, studentID, studentName, answer string) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSessionLocked(ctx); err != nil {
		return domain.Answer{}, err
	}
	if s.session == nil || !s.session.IsActive {
		return domain.Answer{}, domain.ErrSessionNotFound
	}
	cur := s.session.CurrentQuestion
	if cur == nil || cur.QuestionID != questionID || !cur.IsActive {
		if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
			return domain.Answer{}, err
		}
		return domain.Answer{}, domain.ErrQuestionClosed
	}

	a := domain.Answer{
		AnswerID:    uuid.NewString(),
		QuestionID:  questionID,
		SessionID:   domain.SessionKey,
		StudentID:   studentID,
		StudentName: studentName,
		Answer:      answer,
		SubmittedAt: s.now(),
	}
	if cur.CorrectAnswer != "" {
		correct := normalizeAnswer(answer) == normalizeAnswer(cur.CorrectAnswer)
		a.IsCorrect = &correct
	}
	if err := s.store.SaveAnswer(ctx, a); err != nil {
		return domain.Answer{}, err
	}

	s.sink.ToUser(studentID, domain.EvAnswerAck, domain.AnswerAckPayload{
		AnswerID:  a.AnswerID,
		Answer:    a.Answer,
		IsCorrect: a.IsCorrect,
	})
	s.sink.ToUser(s.session.TeacherID, domain.EvAnswerReceived, domain.AnswerReceivedPayload{
		StudentName: studentName,
		Answer:      a.Answer,
		SubmittedAt: a.SubmittedAt.Format(time.RFC3339),
	})
	return a, nil
}

// Results recomputes the result for any question on demand. Teacher only.
func (s *PollService) Results(ctx context.Context, callerID, questionID string) (domain.QuestionResult, error) {
	s.mu.Lock()
	err := s.loadSessionLocked(ctx)
	var teacherID string
	if s.session != nil {
		teacherID = s.session.TeacherID
	}
	s.mu.Unlock()
	if err != nil {
		return domain.QuestionResult{}, err
	}
	if teacherID == "" {
		return domain.QuestionResult{}, domain.ErrSessionNotFound
	}
	if callerID != teacherID {
		return domain.QuestionResult{}, domain.ErrNotTeacher
	}
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.QuestionResult{}, err
	}
	result, err := s.buildResult(ctx, q)
	if err != nil {
		return domain.QuestionResult{}, err
	}
	s.sink.ToUser(callerID, domain.EvResults, domain.ResultsPayload{Results: result})
	return result, nil
}

// buildResult aggregates a question with its answers. Always computed fresh;
// there are no cached counters to drift.
func (s *PollService) buildResult(ctx context.Context, q domain.Question) (domain.QuestionResult, error) {
	answers, err := s.store.QuestionAnswers(ctx, q.QuestionID)
	if err != nil {
		return domain.QuestionResult{}, fmt.Errorf("load answers: %w", err)
	}
	summary := make(map[string]int, len(answers))
	for _, a := range answers {
		summary[a.Answer]++
	}
	return domain.QuestionResult{
		QuestionID:    q.QuestionID,
		Question:      q,
		Answers:       answers,
		TotalStudents: len(answers),
		Summary:       summary,
	}, nil
}

func validateSpec(spec domain.QuestionSpec) error {
	if spec.TimeLimit <= 0 {
		return fmt.Errorf("%w: time limit must be positive", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(spec.Question) == "" {
		return fmt.Errorf("%w: question text is required", domain.ErrInvalidInput)
	}
	switch spec.Type {
	case domain.QuestionMCQ:
		if len(spec.Options) < 2 {
			return fmt.Errorf("%w: mcq questions need at least two options", domain.ErrInvalidInput)
		}
	case domain.QuestionTrueFalse, domain.QuestionShortText:
	default:
		return fmt.Errorf("%w: unknown question type %q", domain.ErrInvalidInput, spec.Type)
	}
	return nil
}

// normalizeAnswer implements the correctness comparison: case-insensitive,
// whitespace-trimmed string equality.
func normalizeAnswer(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
