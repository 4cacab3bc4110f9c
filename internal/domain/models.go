package domain

import "time"

// SessionKey identifies the single classroom session. The original system runs
// one global room; every store and handler addresses it by this key.
const SessionKey = "global"

// Role distinguishes the two participant kinds.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// QuestionType enumerates the supported question forms.
type QuestionType string

const (
	QuestionMCQ       QuestionType = "mcq"
	QuestionTrueFalse QuestionType = "true-false"
	QuestionShortText QuestionType = "short-text"
)

// MaxChatMessageLen bounds chat message bodies.
const MaxChatMessageLen = 500

// Student is a roster entry. The id is client-supplied and stable across
// reconnects; JoinedAt is set on first admission and never changes.
type Student struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	IsOnline bool      `json:"isOnline"`
}

// Session is the singleton classroom record.
type Session struct {
	SessionID       string    `json:"sessionId"`
	TeacherID       string    `json:"teacherId"`
	TeacherName     string    `json:"teacherName"`
	IsActive        bool      `json:"isActive"`
	Students        []Student `json:"students"`
	CurrentQuestion *Question `json:"currentQuestion,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Student returns the roster entry for id, or nil.
func (s *Session) Student(id string) *Student {
	for i := range s.Students {
		if s.Students[i].ID == id {
			return &s.Students[i]
		}
	}
	return nil
}

// QuestionSpec is what the teacher submits to start a question.
type QuestionSpec struct {
	Type          QuestionType `json:"type"`
	Question      string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty"`
	TimeLimit     int          `json:"timeLimit"` // seconds
}

// Question is a started (or ended) poll question.
type Question struct {
	QuestionID    string       `json:"id"`
	SessionID     string       `json:"sessionId"`
	Type          QuestionType `json:"type"`
	Question      string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty"`
	TimeLimit     int          `json:"timeLimit"`
	CreatedAt     time.Time    `json:"createdAt"`
	StartedAt     time.Time    `json:"startedAt"`
	EndsAt        time.Time    `json:"endsAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
	IsActive      bool         `json:"isActive"`
}

// Public returns a copy safe to send to students: the correct answer is
// stripped so clients cannot grade themselves early.
func (q Question) Public() Question {
	q.CorrectAnswer = ""
	return q
}

// Answer is one student's submission for one question. IsCorrect is nil when
// the question carries no correct-answer reference.
type Answer struct {
	AnswerID    string    `json:"answerId"`
	QuestionID  string    `json:"questionId"`
	SessionID   string    `json:"sessionId"`
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Answer      string    `json:"answer"`
	IsCorrect   *bool     `json:"isCorrect,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ChatMessage is one entry in the session chat log.
type ChatMessage struct {
	MessageID  string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	SenderRole Role      `json:"senderRole"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// QuestionResult joins a question with its answers and a value-frequency
// summary. It is derived on demand and never stored.
type QuestionResult struct {
	QuestionID    string         `json:"questionId"`
	Question      Question       `json:"question"`
	Answers       []Answer       `json:"answers"`
	TotalStudents int            `json:"totalStudents"`
	Summary       map[string]int `json:"summary"`
}
