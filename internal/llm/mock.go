package llm

import "context"

// MockClient permite tests sin llamar a un LLM real.
type MockClient struct {
	Reply Reply
	Err   error

	LastModel    string
	LastMessages []ChatMessage
}

func (m *MockClient) Chat(ctx context.Context, model string, messages []ChatMessage) (Reply, error) {
	m.LastModel = model
	m.LastMessages = messages
	return m.Reply, m.Err
}
