package domain

// Named events exchanged over a participant connection. The connection layer
// frames these as {"type": ..., "payload": ...} in both directions.

// Inbound (client -> server).
const (
	EvCreateSession = "teacher:create-session"
	EvJoinSession   = "student:join-session"
	EvSendQuestion  = "teacher:send-question"
	EvEndQuestion   = "teacher:end-question"
	EvSubmitAnswer  = "student:submit-answer"
	EvGetResults    = "teacher:get-results"
	EvSendChat      = "chat:send-message"
	EvTyping        = "chat:typing"
	EvGetHistory    = "session:get-history"
	EvKickStudent   = "teacher:kick-student"
	EvGetStudents   = "teacher:get-students"
)

// Outbound (server -> client).
const (
	EvSessionCreated = "session:created"
	EvSessionJoined  = "session:joined"
	EvStudentJoined  = "student:joined"
	EvChatHistory    = "chat:history"
	EvQuestionNew    = "question:new"
	EvQuestionSent   = "question:sent"
	EvQuestionEnd    = "question:end"
	EvResults        = "question:results"
	EvAnswerAck      = "answer:submitted"
	EvAnswerReceived = "answer:received"
	EvChatMessage    = "chat:new-message"
	EvSessionHistory = "session:history"
	EvStudentsList   = "session:students-list"
	EvKicked         = "student:kicked"
	EvStudentKicked  = "student:kicked-by-teacher"
	EvStudentOffline = "student:offline"
	EvError          = "error"
)

// Outbound payloads. Field names are part of the wire contract.

type SessionPayload struct {
	SessionID string  `json:"sessionId"`
	Session   Session `json:"session"`
}

type StudentJoinedPayload struct {
	Student Student `json:"student"`
}

type ChatHistoryPayload struct {
	Messages []ChatMessage `json:"messages"`
}

type QuestionPayload struct {
	Question Question `json:"question"`
}

type QuestionSentPayload struct {
	QuestionID string   `json:"questionId"`
	Question   Question `json:"question"`
}

type QuestionEndPayload struct {
	QuestionID string `json:"questionId"`
}

type ResultsPayload struct {
	Results QuestionResult `json:"results"`
}

type AnswerAckPayload struct {
	AnswerID  string `json:"answerId"`
	Answer    string `json:"answer"`
	IsCorrect *bool  `json:"isCorrect,omitempty"`
}

type AnswerReceivedPayload struct {
	StudentName string `json:"studentName"`
	Answer      string `json:"answer"`
	SubmittedAt string `json:"submittedAt"`
}

type ChatMessagePayload struct {
	Message ChatMessage `json:"message"`
}

type TypingPayload struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	SenderRole Role   `json:"senderRole"`
}

type HistoryPayload struct {
	History []QuestionResult `json:"history"`
}

type StudentsListPayload struct {
	Students []Student `json:"students"`
}

type KickedPayload struct {
	Reason string `json:"reason"`
}

type StudentKickedPayload struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	KickedBy    string `json:"kickedBy"`
}

type StudentOfflinePayload struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

type ErrorPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
}
