package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/voicedesk/voicedesk/internal/chat"
	"github.com/voicedesk/voicedesk/internal/llm"
)

// Handlers exposes the widget's HTTP surface.
type Handlers struct {
	Chat  *chat.Service
	Voice *VoiceGateway
}

// NewHandlers bundles the chat service and the optional voice gateway.
func NewHandlers(chatSvc *chat.Service, voice *VoiceGateway) Handlers {
	return Handlers{Chat: chatSvc, Voice: voice}
}

// Register installs all routes.
func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/session", h.createSession)
	e.POST("/api/chat", h.chatTurn)
	if h.Voice != nil {
		e.GET("/ws/voice", h.Voice.Handle)
	}
}

type turnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	SessionID    string        `json:"sessionId"`
	Conversation []turnPayload `json:"conversation"`
	// Message is the single-turn variant of the request body.
	Message   string `json:"message"`
	IsInitial bool   `json:"isInitial"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h Handlers) createSession(c echo.Context) error {
	token := h.Chat.Sessions().Issue()
	return c.JSON(http.StatusOK, map[string]string{"sessionId": token})
}

func (h Handlers) chatTurn(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Details: err.Error()})
	}
	if req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
	}

	conversation := make([]llm.Turn, 0, len(req.Conversation)+1)
	for _, t := range req.Conversation {
		conversation = append(conversation, llm.Turn{Role: t.Role, Content: t.Content})
	}
	if len(conversation) == 0 && req.Message != "" {
		conversation = append(conversation, llm.Turn{Role: llm.RoleUser, Content: req.Message})
	}

	reply, err := h.Chat.ProcessTurn(c.Request().Context(), req.SessionID, conversation, req.IsInitial)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownSession) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown or expired session"})
		}
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "chat turn failed", Details: err.Error()})
	}
	return c.JSON(http.StatusOK, chatResponse{Response: reply})
}
