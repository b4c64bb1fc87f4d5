package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Tier is the access level of a request.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Answer is the uniform envelope returned by the gateway.
type Answer struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	FromCache  bool   `json:"from_cache"`
}

// TokenRecord is the persisted state of the token ledger.
type TokenRecord struct {
	DailyTokens   int64            `json:"daily_tokens"`
	LastReset     time.Time        `json:"last_reset"`
	Users         map[string]int64 `json:"users"`
	TotalRequests int64            `json:"total_requests"`
}

// TokenSnapshot reports current token usage against the daily ceiling.
type TokenSnapshot struct {
	DailyTokens   int64   `json:"daily_tokens"`
	DailyLimit    int64   `json:"daily_limit"`
	UsageRatio    float64 `json:"usage_ratio"`
	DistinctUsers int     `json:"distinct_users"`
	TotalRequests int64   `json:"total_requests"`
}

// UserUsage reports one user's lifetime consumption.
type UserUsage struct {
	UserID    string `json:"user_id"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}
