package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatMessage es un par rol/contenido tal como lo espera el proveedor.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply es la respuesta del proveedor junto con su uso de tokens.
// Los contadores quedan en cero cuando el proveedor omite el bloque usage.
type Reply struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	UsageMissing     bool
}

// Client define la interfaz para pedir completions de chat a un LLM.
type Client interface {
	Chat(ctx context.Context, model string, messages []ChatMessage) (Reply, error)
}

// Errores del proveedor, distinguidos por el status que reporta.
// Ninguno se reintenta internamente.
var (
	ErrAuth        = errors.New("llm authentication failed")
	ErrRateLimited = errors.New("llm rate limit exceeded")
	ErrUpstream    = errors.New("llm upstream error")
)

type logger interface {
	Printf(format string, v ...interface{})
}

// HTTPClient implementa Client usando la API de chat completions
// OpenAI-compatible. El timeout del http.Client acota la unica llamada
// con latencia real de todo el flujo.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger
}

// NewHTTPClient construye un cliente HTTP apuntando a la API de chat completions.
func NewHTTPClient(baseURL, apiKey string, log any) *HTTPClient {
	l, _ := log.(logger)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  l,
	}
}

func (c *HTTPClient) Chat(ctx context.Context, model string, messages []ChatMessage) (Reply, error) {
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode >= 400 {
		if c.logger != nil {
			c.logger.Printf("llm error status %d: %s", resp.StatusCode, string(respBody))
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return Reply{}, fmt.Errorf("%w: status=%d", ErrAuth, resp.StatusCode)
		case http.StatusTooManyRequests:
			return Reply{}, fmt.Errorf("%w: status=%d", ErrRateLimited, resp.StatusCode)
		default:
			return Reply{}, fmt.Errorf("%w: status=%d", ErrUpstream, resp.StatusCode)
		}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Reply{}, fmt.Errorf("%w: unmarshal response: %v", ErrUpstream, err)
	}

	if cr.Error != nil {
		return Reply{}, fmt.Errorf("%w: %s", ErrUpstream, cr.Error.Message)
	}

	if len(cr.Choices) == 0 {
		return Reply{}, fmt.Errorf("%w: empty choices", ErrUpstream)
	}

	// El texto puede venir vacio; eso no es un error del proveedor.
	reply := Reply{Text: cr.Choices[0].Message.Content}
	if cr.Usage != nil {
		reply.PromptTokens = cr.Usage.PromptTokens
		reply.CompletionTokens = cr.Usage.CompletionTokens
		reply.TotalTokens = cr.Usage.TotalTokens
		// Algunos proveedores omiten el total aun reportando los parciales.
		if reply.TotalTokens == 0 {
			reply.TotalTokens = reply.PromptTokens + reply.CompletionTokens
		}
	} else {
		reply.UsageMissing = true
	}

	return reply, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
