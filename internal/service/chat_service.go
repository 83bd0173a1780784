package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"chat-api/internal/domain"
	"chat-api/internal/llm"
	"chat-api/internal/repository"
)

var (
	ErrChatServiceNotConfigured = errors.New("chat service not configured")
	ErrSessionNotFound          = errors.New("session not found")
	ErrEmptyMessage             = errors.New("message content empty")
	ErrRateLimited              = errors.New("rate limited")
)

// ChatRateLimiter limita la cantidad de mensajes por sesion en una ventana.
// Una implementacion nil significa sin limite.
type ChatRateLimiter interface {
	Allow(key string) bool
}

// ChatConfig agrupa la configuracion del flujo de chat. Se pasa explicita
// al construir el servicio; nada se lee de estado global del proceso.
type ChatConfig struct {
	DefaultModel string
	SystemPrompt string
	ContextLimit int
}

// ChatService orquesta el flujo de un turno de conversacion: persiste el
// mensaje del usuario, arma el contexto, llama al proveedor, calcula el
// costo, persiste la respuesta y actualiza los acumulados de la sesion.
type ChatService struct {
	logger    *zap.Logger
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	llmClient llm.Client
	limiter   ChatRateLimiter
	cfg       ChatConfig
}

func NewChatService(
	logger *zap.Logger,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	llmClient llm.Client,
	limiter ChatRateLimiter,
	cfg ChatConfig,
) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		logger:    logger,
		sessions:  sessions,
		messages:  messages,
		llmClient: llmClient,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// CreateSession crea una sesion nueva ligada a un modelo.
func (s *ChatService) CreateSession(ctx context.Context, model string) (domain.Session, error) {
	if s == nil || s.sessions == nil {
		return domain.Session{}, ErrChatServiceNotConfigured
	}

	model = strings.TrimSpace(model)
	if model == "" {
		model = s.cfg.DefaultModel
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:        uuid.NewString(),
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// SendMessage procesa un turno completo y devuelve el mensaje del asistente
// junto con la sesion ya actualizada.
//
// El mensaje del usuario se persiste ANTES de llamar al proveedor: una falla
// posterior (proveedor, pricing) nunca pierde el turno del usuario. No hay
// rollback compensatorio de pasos ya confirmados.
func (s *ChatService) SendMessage(ctx context.Context, sessionID, content, modelOverride string) (domain.Message, domain.Session, error) {
	if s == nil || s.sessions == nil || s.messages == nil || s.llmClient == nil {
		return domain.Message{}, domain.Session{}, ErrChatServiceNotConfigured
	}

	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.Session{}, ErrEmptyMessage
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, domain.Session{}, ErrSessionNotFound
		}
		return domain.Message{}, domain.Session{}, fmt.Errorf("get session: %w", err)
	}

	if s.limiter != nil && !s.limiter.Allow(session.ID) {
		return domain.Message{}, domain.Session{}, ErrRateLimited
	}

	model := strings.TrimSpace(modelOverride)
	if model == "" {
		model = session.Model
	}

	userMsg := domain.Message{
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.messages.Create(ctx, userMsg); err != nil {
		return domain.Message{}, domain.Session{}, fmt.Errorf("persist user message: %w", err)
	}

	// Historial completo, incluyendo el mensaje recien guardado.
	history, err := s.messages.ListBySessionID(ctx, session.ID)
	if err != nil {
		return domain.Message{}, domain.Session{}, fmt.Errorf("list messages: %w", err)
	}

	modelMessages := BuildModelMessages(history, s.cfg.SystemPrompt, s.cfg.ContextLimit)

	reply, err := s.llmClient.Chat(ctx, model, modelMessages)
	if err != nil {
		return domain.Message{}, domain.Session{}, fmt.Errorf("llm chat: %w", err)
	}

	if reply.UsageMissing {
		// Se tolera (contadores en cero) pero queda registrado.
		s.logger.Warn("provider omitted usage data",
			zap.String("session_id", session.ID),
			zap.String("model", model),
		)
	}

	cost, err := CostUSD(model, reply.PromptTokens, reply.CompletionTokens)
	if err != nil {
		return domain.Message{}, domain.Session{}, err
	}

	assistantMsg := domain.Message{
		SessionID:        session.ID,
		Role:             domain.RoleAssistant,
		Content:          reply.Text,
		CreatedAt:        time.Now().UTC(),
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		TotalTokens:      reply.TotalTokens,
		Cost:             cost,
	}
	assistantMsg, err = s.messages.Create(ctx, assistantMsg)
	if err != nil {
		return domain.Message{}, domain.Session{}, fmt.Errorf("persist assistant message: %w", err)
	}

	updated, err := s.sessions.UpdateStats(ctx, session.ID, model,
		reply.PromptTokens, reply.CompletionTokens, reply.TotalTokens, cost)
	if err != nil {
		return domain.Message{}, domain.Session{}, fmt.Errorf("update session stats: %w", err)
	}

	s.logger.Info("chat turn completed",
		zap.String("session_id", session.ID),
		zap.String("model", model),
		zap.Int("total_tokens", reply.TotalTokens),
		zap.Float64("cost", cost),
	)

	return assistantMsg, updated, nil
}

// History devuelve la sesion y su historial ordenado.
func (s *ChatService) History(ctx context.Context, sessionID string) (domain.Session, []domain.Message, error) {
	if s == nil || s.sessions == nil || s.messages == nil {
		return domain.Session{}, nil, ErrChatServiceNotConfigured
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, nil, ErrSessionNotFound
		}
		return domain.Session{}, nil, fmt.Errorf("get session: %w", err)
	}

	messages, err := s.messages.ListBySessionID(ctx, session.ID)
	if err != nil {
		return domain.Session{}, nil, fmt.Errorf("list messages: %w", err)
	}
	return session, messages, nil
}

// SessionSummary es una sesion junto con su cantidad de mensajes.
type SessionSummary struct {
	Session      domain.Session
	MessageCount int
}

// ListSessions pagina las sesiones de mas reciente a mas antigua segun su
// ultima actualizacion.
func (s *ChatService) ListSessions(ctx context.Context, limit, offset int) ([]SessionSummary, error) {
	if s == nil || s.sessions == nil || s.messages == nil {
		return nil, ErrChatServiceNotConfigured
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.sessions.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		count, err := s.messages.CountBySessionID(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
		summaries = append(summaries, SessionSummary{Session: session, MessageCount: count})
	}
	return summaries, nil
}
