package models

import "time"

// DecisionMethod identifies how a teacher was selected.
type DecisionMethod string

const (
	MethodAI       DecisionMethod = "ai"
	MethodFallback DecisionMethod = "fallback"
)

// DecisionRecord is one entry of the director's history.
type DecisionRecord struct {
	ID              string         `json:"id"`
	Question        string         `json:"question"`
	Teacher         string         `json:"teacher"`
	Grade           int            `json:"grade"`
	Timestamp       time.Time      `json:"timestamp"`
	Method          DecisionMethod `json:"method"`
	Justification   string         `json:"justification,omitempty"`
	Confidence      float64        `json:"confidence"`
	ConfidenceLabel string         `json:"confidence_label,omitempty"`
	Score           int            `json:"score,omitempty"`
	Breakdown       map[string]int `json:"breakdown,omitempty"`
}

// PopularTeacher counts how often a teacher was chosen.
type PopularTeacher struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DecisionMetrics aggregates decision quality.
type DecisionMetrics struct {
	Total            int              `json:"total"`
	AI               int              `json:"ai"`
	Fallback         int              `json:"fallback"`
	AISuccessRate    float64          `json:"ai_success_rate"`
	AvgAIConfidence  float64          `json:"avg_ai_confidence"`
	AvgFallbackScore float64          `json:"avg_fallback_score"`
	Popular          []PopularTeacher `json:"popular"`
}
