package service

import (
	"chat-api/internal/domain"
	"chat-api/internal/llm"
)

// BuildModelMessages transforma el historial persistido en la secuencia
// rol/contenido que se envia al proveedor.
//
// Primero descarta roles fuera de {system, user, assistant}, despues recorta
// a los ultimos `limit` mensajes (limit <= 0 desactiva el recorte) y recien
// entonces antepone el system prompt como entrada sintetica. El orden
// importa: el recorte ocurre antes de inyectar el system prompt, asi la
// directiva nunca queda fuera de la ventana ni cuenta contra el limite.
func BuildModelMessages(history []domain.Message, systemPrompt string, limit int) []llm.ChatMessage {
	filtered := make([]llm.ChatMessage, 0, len(history))
	for _, m := range history {
		if !domain.ValidRole(m.Role) {
			continue
		}
		filtered = append(filtered, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	if systemPrompt == "" {
		return filtered
	}

	out := make([]llm.ChatMessage, 0, len(filtered)+1)
	out = append(out, llm.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	return append(out, filtered...)
}
