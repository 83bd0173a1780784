package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"chat-api/internal/domain"
	"chat-api/internal/llm"
	"chat-api/internal/repository"
)

type mockSessionRepo struct {
	sessions  map[string]domain.Session
	createErr error
	updateErr error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]domain.Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, session domain.Session) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, id string) (domain.Session, error) {
	session, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, pgx.ErrNoRows
	}
	return session, nil
}

func (m *mockSessionRepo) UpdateStats(_ context.Context, id, model string, promptTokens, completionTokens, totalTokens int, cost float64) (domain.Session, error) {
	if m.updateErr != nil {
		return domain.Session{}, m.updateErr
	}
	session, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, pgx.ErrNoRows
	}
	session.Model = model
	session.UpdatedAt = time.Now().UTC()
	session.TotalPromptTokens += promptTokens
	session.TotalCompletionTokens += completionTokens
	session.TotalTokens += totalTokens
	session.TotalCost += cost
	m.sessions[id] = session
	return session, nil
}

func (m *mockSessionRepo) List(_ context.Context, limit, offset int) ([]domain.Session, error) {
	all := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type mockMsgRepo struct {
	msgs      []domain.Message
	nextID    int64
	createErr error
	listErr   error
}

func (m *mockMsgRepo) Create(_ context.Context, message domain.Message) (domain.Message, error) {
	if m.createErr != nil {
		return domain.Message{}, m.createErr
	}
	m.nextID++
	message.ID = m.nextID
	m.msgs = append(m.msgs, message)
	return message, nil
}

func (m *mockMsgRepo) ListBySessionID(_ context.Context, sessionID string) ([]domain.Message, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockMsgRepo) CountBySessionID(_ context.Context, sessionID string) (int, error) {
	count := 0
	for _, msg := range m.msgs {
		if msg.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }

var (
	_ repository.SessionRepository = (*mockSessionRepo)(nil)
	_ repository.MessageRepository = (*mockMsgRepo)(nil)
)

func newChatService(sessions *mockSessionRepo, messages *mockMsgRepo, client llm.Client, limiter ChatRateLimiter) *ChatService {
	return NewChatService(zap.NewNop(), sessions, messages, client, limiter, ChatConfig{
		DefaultModel: "gpt-4o-mini",
		SystemPrompt: "You are a helpful assistant.",
		ContextLimit: 30,
	})
}

func seedSession(t *testing.T, repo *mockSessionRepo, model string) domain.Session {
	t.Helper()
	now := time.Now().UTC()
	session := domain.Session{ID: "s1", Model: model, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

func TestChatServiceSendMessage_FullTurn(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "hi", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	svc := newChatService(sessions, messages, client, nil)
	seedSession(t, sessions, "gpt-4o-mini")

	assistant, session, err := svc.SendMessage(context.Background(), "s1", "hello", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if assistant.Role != domain.RoleAssistant || assistant.Content != "hi" {
		t.Fatalf("unexpected assistant message: %+v", assistant)
	}
	if math.Abs(assistant.Cost-0.0000045) > 1e-12 {
		t.Fatalf("expected cost 0.0000045, got %v", assistant.Cost)
	}
	if assistant.PromptTokens != 10 || assistant.CompletionTokens != 5 || assistant.TotalTokens != 15 {
		t.Fatalf("unexpected token counts: %+v", assistant)
	}

	if session.TotalTokens != 15 {
		t.Fatalf("expected session total_tokens=15, got %d", session.TotalTokens)
	}
	if math.Abs(session.TotalCost-0.0000045) > 1e-12 {
		t.Fatalf("expected session total_cost 0.0000045, got %v", session.TotalCost)
	}
	if session.TotalTokens != session.TotalPromptTokens+session.TotalCompletionTokens {
		t.Fatalf("broken invariant: total=%d prompt=%d completion=%d",
			session.TotalTokens, session.TotalPromptTokens, session.TotalCompletionTokens)
	}

	// Dos mensajes persistidos: el del usuario con contadores en cero y el del asistente.
	if len(messages.msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(messages.msgs))
	}
	userMsg := messages.msgs[0]
	if userMsg.Role != domain.RoleUser || userMsg.Content != "hello" {
		t.Fatalf("unexpected user message: %+v", userMsg)
	}
	if userMsg.PromptTokens != 0 || userMsg.TotalTokens != 0 || userMsg.Cost != 0 {
		t.Fatalf("user message must carry zero usage, got %+v", userMsg)
	}
}

func TestChatServiceSendMessage_ContextSentToProvider(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "ok", TotalTokens: 1, PromptTokens: 1}}
	svc := newChatService(sessions, messages, client, nil)
	seedSession(t, sessions, "gpt-4o-mini")

	if _, _, err := svc.SendMessage(context.Background(), "s1", "hello", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.LastMessages) != 2 {
		t.Fatalf("expected system + user entries, got %d", len(client.LastMessages))
	}
	if client.LastMessages[0].Role != domain.RoleSystem {
		t.Fatalf("expected system entry first, got %q", client.LastMessages[0].Role)
	}
	if client.LastMessages[1].Role != domain.RoleUser || client.LastMessages[1].Content != "hello" {
		t.Fatalf("expected just-added user turn in context, got %+v", client.LastMessages[1])
	}
}

func TestChatServiceSendMessage_ModelOverride(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "ok", PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3}}
	svc := newChatService(sessions, messages, client, nil)
	seedSession(t, sessions, "gpt-4o-mini")

	_, session, err := svc.SendMessage(context.Background(), "s1", "hola", "gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.LastModel != "gpt-4o" {
		t.Fatalf("expected provider call with override, got %q", client.LastModel)
	}
	if session.Model != "gpt-4o" {
		t.Fatalf("expected session model updated to override, got %q", session.Model)
	}
}

func TestChatServiceSendMessage_SessionNotFound(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{}
	svc := newChatService(sessions, messages, client, nil)

	_, _, err := svc.SendMessage(context.Background(), "missing", "hello", "")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if len(messages.msgs) != 0 {
		t.Fatalf("expected no message rows, got %d", len(messages.msgs))
	}
}

func TestChatServiceSendMessage_UnknownModelKeepsUserTurn(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "hi", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	svc := newChatService(sessions, messages, client, nil)
	before := seedSession(t, sessions, "unknown-model")

	_, _, err := svc.SendMessage(context.Background(), "s1", "hello", "")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}

	// El turno del usuario ya quedo persistido; el del asistente no.
	if len(messages.msgs) != 1 {
		t.Fatalf("expected only the user message persisted, got %d", len(messages.msgs))
	}
	if messages.msgs[0].Role != domain.RoleUser {
		t.Fatalf("expected persisted message to be the user turn, got %q", messages.msgs[0].Role)
	}

	after, _ := sessions.GetByID(context.Background(), "s1")
	if after.TotalTokens != before.TotalTokens || after.TotalCost != before.TotalCost {
		t.Fatalf("session aggregates must stay unchanged, got %+v", after)
	}
}

func TestChatServiceSendMessage_ProviderFailureKeepsUserTurn(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Err: llm.ErrUpstream}
	svc := newChatService(sessions, messages, client, nil)
	seedSession(t, sessions, "gpt-4o-mini")

	_, _, err := svc.SendMessage(context.Background(), "s1", "hello", "")
	if !errors.Is(err, llm.ErrUpstream) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(messages.msgs) != 1 || messages.msgs[0].Role != domain.RoleUser {
		t.Fatalf("expected the user turn to survive the provider failure")
	}
}

func TestChatServiceSendMessage_MissingUsageDefaultsToZero(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "hi", UsageMissing: true}}
	svc := newChatService(sessions, messages, client, nil)
	seedSession(t, sessions, "gpt-4o-mini")

	assistant, session, err := svc.SendMessage(context.Background(), "s1", "hello", "")
	if err != nil {
		t.Fatalf("expected missing usage to be tolerated, got %v", err)
	}
	if assistant.TotalTokens != 0 || assistant.Cost != 0 {
		t.Fatalf("expected zero usage on assistant message, got %+v", assistant)
	}
	if session.TotalTokens != 0 || session.TotalCost != 0 {
		t.Fatalf("expected unchanged aggregates, got %+v", session)
	}
}

func TestChatServiceSendMessage_AggregatesGrowMonotonically(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "hi", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	svc := newChatService(sessions, messages, client, nil)
	seedSession(t, sessions, "gpt-4o-mini")

	_, first, err := svc.SendMessage(context.Background(), "s1", "uno", "")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}

	client.Reply = llm.Reply{Text: "bye", PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}
	_, second, err := svc.SendMessage(context.Background(), "s1", "dos", "")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}

	if second.TotalTokens != first.TotalTokens+30 {
		t.Fatalf("expected total_tokens to grow by 30, got %d -> %d", first.TotalTokens, second.TotalTokens)
	}
	wantCost, _ := CostUSD("gpt-4o-mini", 20, 10)
	if math.Abs(second.TotalCost-(first.TotalCost+wantCost)) > 1e-12 {
		t.Fatalf("expected total_cost to grow by %v, got %v -> %v", wantCost, first.TotalCost, second.TotalCost)
	}
	if second.TotalTokens != second.TotalPromptTokens+second.TotalCompletionTokens {
		t.Fatalf("broken invariant after second turn: %+v", second)
	}
}

func TestChatServiceSendMessage_EmptyContent(t *testing.T) {
	svc := newChatService(newMockSessionRepo(), &mockMsgRepo{}, &llm.MockClient{}, nil)
	_, _, err := svc.SendMessage(context.Background(), "s1", "   ", "")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestChatServiceSendMessage_RateLimited(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	svc := newChatService(sessions, messages, &llm.MockClient{}, denyAllLimiter{})
	seedSession(t, sessions, "gpt-4o-mini")

	_, _, err := svc.SendMessage(context.Background(), "s1", "hello", "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(messages.msgs) != 0 {
		t.Fatalf("expected no messages persisted when rate limited")
	}
}

func TestChatServiceCreateSession_DefaultModel(t *testing.T) {
	sessions := newMockSessionRepo()
	svc := newChatService(sessions, &mockMsgRepo{}, &llm.MockClient{}, nil)

	session, err := svc.CreateSession(context.Background(), "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", session.Model)
	}
	if session.ID == "" || session.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamps, got %+v", session)
	}
	if _, ok := sessions.sessions[session.ID]; !ok {
		t.Fatalf("expected session persisted")
	}
}

func TestChatServiceHistory(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "hi", PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}}
	svc := newChatService(sessions, messages, client, nil)
	seedSession(t, sessions, "gpt-4o-mini")

	if _, _, err := svc.SendMessage(context.Background(), "s1", "hola", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	session, history, err := svc.History(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "s1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}

	if _, _, err := svc.History(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestChatServiceListSessions(t *testing.T) {
	sessions := newMockSessionRepo()
	messages := &mockMsgRepo{}
	client := &llm.MockClient{Reply: llm.Reply{Text: "hi", PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}}
	svc := newChatService(sessions, messages, client, nil)

	older := domain.Session{ID: "old", Model: "gpt-4o-mini", UpdatedAt: time.Now().UTC().Add(-time.Hour)}
	newer := domain.Session{ID: "new", Model: "gpt-4o-mini", UpdatedAt: time.Now().UTC()}
	_ = sessions.Create(context.Background(), older)
	_ = sessions.Create(context.Background(), newer)
	_, _ = messages.Create(context.Background(), domain.Message{SessionID: "new", Role: domain.RoleUser, Content: "hola"})

	summaries, err := svc.ListSessions(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(summaries))
	}
	if summaries[0].Session.ID != "new" {
		t.Fatalf("expected newest-updated first, got %q", summaries[0].Session.ID)
	}
	if summaries[0].MessageCount != 1 || summaries[1].MessageCount != 0 {
		t.Fatalf("unexpected message counts: %+v", summaries)
	}
}

func TestChatService_NotConfigured(t *testing.T) {
	var svc *ChatService
	if _, _, err := svc.SendMessage(context.Background(), "s1", "hola", ""); !errors.Is(err, ErrChatServiceNotConfigured) {
		t.Fatalf("expected ErrChatServiceNotConfigured, got %v", err)
	}
	if _, err := NewChatService(nil, nil, nil, nil, nil, ChatConfig{}).CreateSession(context.Background(), ""); !errors.Is(err, ErrChatServiceNotConfigured) {
		t.Fatalf("expected ErrChatServiceNotConfigured, got %v", err)
	}
}
