package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

type WSHandler struct {
	service  *app.PollService
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader

	// DefaultTimeLimit, when positive, is applied to questions submitted
	// without one.
	DefaultTimeLimit int
}

func NewWSHandler(service *app.PollService, hub *Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		hub:     hub,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type sendQuestionPayload struct {
	QuestionData domain.QuestionSpec `json:"questionData"`
}

type questionIDPayload struct {
	QuestionID string `json:"questionId"`
}

type submitAnswerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type chatSendPayload struct {
	Message string `json:"message"`
}

type kickPayload struct {
	StudentID string `json:"studentId"`
}

// ServeWS upgrades the connection and runs the inbound dispatch loop.
// Identity comes from query parameters; the client then drives the session
// with typed events. All replies and broadcasts are routed by the engine
// through the hub; this loop only reports per-request errors back to the
// initiator.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	name := r.URL.Query().Get("name")
	role := domain.Role(r.URL.Query().Get("role"))
	if userID == "" || name == "" || (role != domain.RoleTeacher && role != domain.RoleStudent) {
		http.Error(w, "missing or invalid userId, name, or role", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}

	client := newClient(conn, userID, role, name)
	h.hub.Register(client)
	go client.writePump(h.log)

	defer func() {
		// A connection replaced by a reconnect must not mark the (still
		// connected) participant offline.
		if h.hub.Unregister(client) {
			h.service.Disconnect(r.Context(), userID, role)
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		h.dispatch(r, client, inbound)
	}
}

func (h *WSHandler) dispatch(r *http.Request, client *Client, inbound inboundMessage) {
	ctx := r.Context()
	switch inbound.Type {
	case domain.EvCreateSession:
		if client.Role != domain.RoleTeacher {
			h.sendError(client, domain.ErrNotTeacher)
			return
		}
		if _, err := h.service.EnsureSession(ctx, client.UserID, client.Name); err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.JoinRoom(client)

	case domain.EvJoinSession:
		if _, err := h.service.Join(ctx, client.UserID, client.Name); err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.JoinRoom(client)

	case domain.EvSendQuestion:
		var payload sendQuestionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendError(client, domain.ErrInvalidInput)
			return
		}
		if payload.QuestionData.TimeLimit == 0 && h.DefaultTimeLimit > 0 {
			payload.QuestionData.TimeLimit = h.DefaultTimeLimit
		}
		if _, err := h.service.StartQuestion(ctx, client.UserID, payload.QuestionData); err != nil {
			h.sendError(client, err)
		}

	case domain.EvEndQuestion:
		var payload questionIDPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendError(client, domain.ErrInvalidInput)
			return
		}
		if _, err := h.service.EndQuestion(ctx, payload.QuestionID, app.EndManual); err != nil {
			h.sendError(client, err)
		}

	case domain.EvSubmitAnswer:
		var payload submitAnswerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendError(client, domain.ErrInvalidInput)
			return
		}
		if _, err := h.service.SubmitAnswer(ctx, payload.QuestionID, client.UserID, client.Name, payload.Answer); err != nil {
			h.sendError(client, err)
		}

	case domain.EvGetResults:
		var payload questionIDPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendError(client, domain.ErrInvalidInput)
			return
		}
		if _, err := h.service.Results(ctx, client.UserID, payload.QuestionID); err != nil {
			h.sendError(client, err)
		}

	case domain.EvSendChat:
		var payload chatSendPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendError(client, domain.ErrInvalidInput)
			return
		}
		if _, err := h.service.SendChat(ctx, client.UserID, client.Name, client.Role, payload.Message); err != nil {
			h.sendError(client, err)
		}

	case domain.EvTyping:
		h.service.Typing(client.UserID, client.Name, client.Role)

	case domain.EvGetHistory:
		if _, err := h.service.History(ctx, client.UserID); err != nil {
			h.sendError(client, err)
		}

	case domain.EvKickStudent:
		var payload kickPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendError(client, domain.ErrInvalidInput)
			return
		}
		if _, err := h.service.Kick(ctx, client.UserID, payload.StudentID); err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.Evict(payload.StudentID)

	case domain.EvGetStudents:
		if _, err := h.service.Roster(ctx, client.UserID); err != nil {
			h.sendError(client, err)
		}

	default:
		h.hub.deliver(client, outboundMessage{Type: domain.EvError, Payload: domain.ErrorPayload{
			Message: "unsupported message type",
			Code:    domain.CodeInvalid,
		}})
	}
}

func (h *WSHandler) sendError(client *Client, err error) {
	h.hub.deliver(client, outboundMessage{Type: domain.EvError, Payload: domain.ErrorPayload{
		Message: err.Error(),
		Code:    domain.Classify(err),
	}})
}

// SessionInfo serves the read-only session snapshot. The endpoint is
// unauthenticated, so an in-progress question is served without its correct
// answer.
func (h *WSHandler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.PublicSnapshot(r.Context())
	if errors.Is(err, domain.ErrSessionNotFound) {
		http.Error(w, "global session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(session)
}
