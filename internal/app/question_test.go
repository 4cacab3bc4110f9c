package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

func startMCQ(t *testing.T, rig *testRig) domain.Question {
	t.Helper()
	q, err := rig.service.StartQuestion(context.Background(), "t1", domain.QuestionSpec{
		Type:          domain.QuestionMCQ,
		Question:      "Pick the first letter",
		Options:       []string{"A", "B"},
		CorrectAnswer: "A",
		TimeLimit:     30,
	})
	if err != nil {
		t.Fatalf("start question: %v", err)
	}
	return q
}

func TestStartQuestionValidation(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()

	cases := []struct {
		name string
		spec domain.QuestionSpec
	}{
		{"zero time limit", domain.QuestionSpec{Type: domain.QuestionShortText, Question: "x", TimeLimit: 0}},
		{"negative time limit", domain.QuestionSpec{Type: domain.QuestionShortText, Question: "x", TimeLimit: -5}},
		{"blank question", domain.QuestionSpec{Type: domain.QuestionShortText, Question: "  ", TimeLimit: 30}},
		{"mcq needs options", domain.QuestionSpec{Type: domain.QuestionMCQ, Question: "x", Options: []string{"only"}, TimeLimit: 30}},
		{"unknown type", domain.QuestionSpec{Type: "essay", Question: "x", TimeLimit: 30}},
	}
	for _, tc := range cases {
		if _, err := rig.service.StartQuestion(ctx, "t1", tc.spec); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestStartQuestionBroadcastSplitsAudience(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)

	q := startMCQ(t, rig)
	if !q.IsActive || !q.EndsAt.Equal(q.StartedAt.Add(30*time.Second)) {
		t.Fatalf("unexpected question %+v", q)
	}
	if rig.timer.d != 30*time.Second {
		t.Fatalf("expected 30s auto-end timer, got %v", rig.timer.d)
	}

	roomEv, ok := rig.sink.last(domain.EvQuestionNew)
	if !ok || roomEv.target != "!t1" {
		t.Fatalf("expected question:new to all but teacher, got %+v", roomEv)
	}
	if got := roomEv.payload.(domain.QuestionPayload).Question.CorrectAnswer; got != "" {
		t.Fatalf("students must not receive the correct answer, got %q", got)
	}

	teacherEv, ok := rig.sink.last(domain.EvQuestionSent)
	if !ok || teacherEv.target != "t1" {
		t.Fatalf("expected question:sent confirmation to teacher, got %+v", teacherEv)
	}
	if got := teacherEv.payload.(domain.QuestionSentPayload).Question.CorrectAnswer; got != "A" {
		t.Fatalf("teacher confirmation should carry the correct answer, got %q", got)
	}
}

func TestPublicSnapshotStripsCorrectAnswer(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	startMCQ(t, rig)

	full, err := rig.service.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if full.CurrentQuestion.CorrectAnswer != "A" {
		t.Fatalf("engine snapshot should carry the reference, got %+v", full.CurrentQuestion)
	}

	public, err := rig.service.PublicSnapshot(context.Background())
	if err != nil {
		t.Fatalf("public snapshot: %v", err)
	}
	if public.CurrentQuestion == nil || public.CurrentQuestion.CorrectAnswer != "" {
		t.Fatalf("public snapshot must strip the reference, got %+v", public.CurrentQuestion)
	}
}

func TestStartWhileActiveIsRefused(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()

	startMCQ(t, rig)
	_, err := rig.service.StartQuestion(ctx, "t1", domain.QuestionSpec{
		Type:      domain.QuestionShortText,
		Question:  "Another one",
		TimeLimit: 10,
	})
	if !errors.Is(err, domain.ErrQuestionActive) {
		t.Fatalf("expected ErrQuestionActive, got %v", err)
	}
}

func TestSubmitAnswerCorrectnessAndDedup(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()
	q := startMCQ(t, rig)

	// Lowercase with stray whitespace still matches the reference "A".
	a, err := rig.service.SubmitAnswer(ctx, q.QuestionID, "s1", "Alice", " a ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.IsCorrect == nil || !*a.IsCorrect {
		t.Fatalf("expected correct answer, got %+v", a)
	}

	// Resubmission is rejected and the original survives.
	if _, err := rig.service.SubmitAnswer(ctx, q.QuestionID, "s1", "Alice", "B"); !errors.Is(err, domain.ErrAnswerExists) {
		t.Fatalf("expected ErrAnswerExists, got %v", err)
	}
	answers, err := rig.store.QuestionAnswers(ctx, q.QuestionID)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(answers) != 1 || answers[0].Answer != " a " {
		t.Fatalf("original answer should be unchanged, got %+v", answers)
	}

	ack, ok := rig.sink.last(domain.EvAnswerAck)
	if !ok || ack.target != "s1" {
		t.Fatalf("expected ack to submitting student, got %+v", ack)
	}
	tally, ok := rig.sink.last(domain.EvAnswerReceived)
	if !ok || tally.target != "t1" {
		t.Fatalf("expected live tally notice to teacher only, got %+v", tally)
	}
}

func TestSubmitWithoutReferenceLeavesCorrectnessUndefined(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()

	q, err := rig.service.StartQuestion(ctx, "t1", domain.QuestionSpec{
		Type:      domain.QuestionShortText,
		Question:  "How are you feeling today?",
		TimeLimit: 30,
	})
	if err != nil {
		t.Fatalf("start question: %v", err)
	}
	a, err := rig.service.SubmitAnswer(ctx, q.QuestionID, "s1", "Alice", "great")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.IsCorrect != nil {
		t.Fatalf("correctness must be undefined without a reference, got %v", *a.IsCorrect)
	}
}

func TestSubmitToUnknownQuestion(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	if _, err := rig.service.SubmitAnswer(context.Background(), "nope", "s1", "Alice", "A"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestManualEndBeatsTimer(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()
	q := startMCQ(t, rig)

	if _, err := rig.service.SubmitAnswer(ctx, q.QuestionID, "s1", "Alice", "A"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	manual, err := rig.service.EndQuestion(ctx, q.QuestionID, app.EndManual)
	if err != nil {
		t.Fatalf("manual end: %v", err)
	}
	if manual.TotalStudents != 1 {
		t.Fatalf("expected 1 answer in result, got %d", manual.TotalStudents)
	}

	// The scheduled timer fires later; it must observe the ended state and
	// return the same result without a second transition.
	rig.timer.fire()
	if got := rig.sink.count(domain.EvQuestionEnd); got != 1 {
		t.Fatalf("expected exactly one question:end, got %d", got)
	}
	if got := rig.sink.count(domain.EvResults); got != 1 {
		t.Fatalf("expected exactly one results broadcast, got %d", got)
	}

	// A slow duplicate manual end is a no-op returning the same result.
	dup, err := rig.service.EndQuestion(ctx, q.QuestionID, app.EndManual)
	if err != nil {
		t.Fatalf("duplicate end: %v", err)
	}
	if dup.TotalStudents != manual.TotalStudents || dup.Summary["A"] != manual.Summary["A"] {
		t.Fatalf("duplicate end should return the same result: %+v vs %+v", dup, manual)
	}
}

func TestTimerBeatsManualEnd(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()
	q := startMCQ(t, rig)

	rig.timer.fire()
	if got := rig.sink.count(domain.EvQuestionEnd); got != 1 {
		t.Fatalf("expected one question:end after timeout, got %d", got)
	}

	// Late answers are rejected once the question closed.
	if _, err := rig.service.SubmitAnswer(ctx, q.QuestionID, "s1", "Alice", "A"); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected ErrQuestionClosed, got %v", err)
	}

	// The teacher's manual end arriving after the timeout is the losing race
	// participant: same result, no extra broadcast.
	if _, err := rig.service.EndQuestion(ctx, q.QuestionID, app.EndManual); err != nil {
		t.Fatalf("manual end after timeout: %v", err)
	}
	if got := rig.sink.count(domain.EvQuestionEnd); got != 1 {
		t.Fatalf("expected still one question:end, got %d", got)
	}

	stored, err := rig.store.GetQuestion(ctx, q.QuestionID)
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if stored.IsActive || stored.EndedAt == nil {
		t.Fatalf("question should be marked ended: %+v", stored)
	}
}

func TestEndUnknownQuestion(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	if _, err := rig.service.EndQuestion(context.Background(), "nope", app.EndManual); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestResultsSummaryCountsEveryAnswer(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()
	q := startMCQ(t, rig)

	submissions := map[string]string{"s1": "A", "s2": "B", "s3": "A", "s4": "a"}
	for id, answer := range submissions {
		if _, err := rig.service.SubmitAnswer(ctx, q.QuestionID, id, "Student "+id, answer); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	result, err := rig.service.Results(ctx, "t1", q.QuestionID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	total := 0
	for _, n := range result.Summary {
		total += n
	}
	if total != len(submissions) || result.TotalStudents != len(submissions) {
		t.Fatalf("summary frequencies must sum to the answer count: %+v", result)
	}
	// The summary keys raw values: "A" twice, "B" once, "a" once.
	if result.Summary["A"] != 2 || result.Summary["B"] != 1 || result.Summary["a"] != 1 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
}

func TestResultsIsTeacherOnly(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	q := startMCQ(t, rig)
	if _, err := rig.service.Results(context.Background(), "s1", q.QuestionID); !errors.Is(err, domain.ErrNotTeacher) {
		t.Fatalf("expected ErrNotTeacher, got %v", err)
	}
}

func TestHistoryReturnsEndedQuestionsNewestFirst(t *testing.T) {
	rig := newTestRig(t)
	rig.startClassroom(t)
	ctx := context.Background()

	first := startMCQ(t, rig)
	if _, err := rig.service.SubmitAnswer(ctx, first.QuestionID, "s1", "Alice", "A"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := rig.service.EndQuestion(ctx, first.QuestionID, app.EndManual); err != nil {
		t.Fatalf("end: %v", err)
	}

	rig.clock.advance(time.Minute)
	second, err := rig.service.StartQuestion(ctx, "t1", domain.QuestionSpec{
		Type:      domain.QuestionTrueFalse,
		Question:  "The sky is green",
		Options:   []string{"true", "false"},
		TimeLimit: 15,
	})
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if _, err := rig.service.EndQuestion(ctx, second.QuestionID, app.EndManual); err != nil {
		t.Fatalf("end second: %v", err)
	}

	rig.clock.advance(time.Minute)
	if _, err := rig.service.StartQuestion(ctx, "t1", domain.QuestionSpec{
		Type:      domain.QuestionShortText,
		Question:  "Still running",
		TimeLimit: 300,
	}); err != nil {
		t.Fatalf("start third: %v", err)
	}

	history, err := rig.service.History(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("active question must be excluded from history, got %d entries", len(history))
	}
	if history[0].QuestionID != second.QuestionID || history[1].QuestionID != first.QuestionID {
		t.Fatalf("expected newest first, got %+v", history)
	}
	if history[1].TotalStudents != 1 {
		t.Fatalf("expected first question result to carry its answer, got %+v", history[1])
	}
}
