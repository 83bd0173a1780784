package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-api/internal/llm"
	"chat-api/internal/service"
)

// ChatHandler mantiene dependencias para endpoints de sesiones y mensajes.
type ChatHandler struct {
	logger   *zap.Logger
	chatServ *service.ChatService
}

func NewChatHandler(logger *zap.Logger, chatServ *service.ChatService) *ChatHandler {
	return &ChatHandler{
		logger:   logger,
		chatServ: chatServ,
	}
}

// CreateSession maneja POST /sessions.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session, err := h.chatServ.CreateSession(c.Request.Context(), req.Model)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"model":      session.Model,
		"created_at": session.CreatedAt,
	})
}

// SendMessage maneja POST /sessions/:id/messages.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
		Model   string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid send message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sessionID := c.Param("id")
	assistantMsg, session, err := h.chatServ.SendMessage(c.Request.Context(), sessionID, req.Message, req.Model)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, service.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message content empty"})
		case errors.Is(err, service.ErrUnknownModel):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrRateLimited), errors.Is(err, llm.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		case errors.Is(err, llm.ErrAuth), errors.Is(err, llm.ErrUpstream):
			h.logger.Error("provider call failed", zap.Error(err), zap.String("session_id", sessionID))
			c.JSON(http.StatusBadGateway, gin.H{"error": "llm provider unavailable"})
		default:
			h.logger.Error("send message failed", zap.Error(err), zap.String("session_id", sessionID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not process message"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":           session.ID,
		"assistant_message":    assistantMsg,
		"session_total_cost":   session.TotalCost,
		"session_total_tokens": session.TotalTokens,
	})
}

// GetHistory maneja GET /sessions/:id.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Param("id")

	session, messages, err := h.chatServ.History(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("get history failed", zap.Error(err), zap.String("session_id", sessionID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":              session.ID,
		"model":                   session.Model,
		"created_at":              session.CreatedAt,
		"total_prompt_tokens":     session.TotalPromptTokens,
		"total_completion_tokens": session.TotalCompletionTokens,
		"total_tokens":            session.TotalTokens,
		"total_cost":              session.TotalCost,
		"messages":                messages,
	})
}

// ListSessions maneja GET /sessions.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	summaries, err := h.chatServ.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}

	items := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, gin.H{
			"session_id":    s.Session.ID,
			"model":         s.Session.Model,
			"created_at":    s.Session.CreatedAt,
			"updated_at":    s.Session.UpdatedAt,
			"message_count": s.MessageCount,
			"total_tokens":  s.Session.TotalTokens,
			"total_cost":    s.Session.TotalCost,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": items})
}
