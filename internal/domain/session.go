package domain

import "time"

type Session struct {
	ID                    string    `json:"id"`
	Model                 string    `json:"model"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	TotalPromptTokens     int       `json:"total_prompt_tokens"`
	TotalCompletionTokens int       `json:"total_completion_tokens"`
	TotalTokens           int       `json:"total_tokens"`
	TotalCost             float64   `json:"total_cost"`
}
