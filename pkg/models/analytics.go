package models

import "time"

// QueryLogRecord is one executed question in the analyzer's append-only log.
type QueryLogRecord struct {
	ID            int64         `json:"id"`
	Question      string        `json:"question"`
	ConfigID      string        `json:"config_id"`
	Scope         string        `json:"scope,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	ExecutionTime time.Duration `json:"execution_time"`
	Cost          float64       `json:"cost"`
	ResultCount   int           `json:"result_count"`
	Pattern       string        `json:"pattern,omitempty"`
}

// LogQueryOpts filters query log listings.
type LogQueryOpts struct {
	ConfigID string
	Pattern  string
	Since    time.Time
	Limit    int
}

// PatternStat aggregates all log records sharing a detected pattern.
type PatternStat struct {
	Pattern              string        `json:"pattern"`
	Count                int64         `json:"count"`
	AvgExecutionTime     time.Duration `json:"avg_execution_time"`
	AvgCost              float64       `json:"avg_cost"`
	LastUpdated          time.Time     `json:"last_updated"`
	EstimatedMonthlyCost float64       `json:"estimated_monthly_cost"`
}

// SuggestionType classifies an optimization suggestion.
type SuggestionType string

const (
	SuggestVolumePlan      SuggestionType = "volume_plan"
	SuggestCacheAdjustment SuggestionType = "cache_adjustment"
	SuggestPrecompile      SuggestionType = "precompile"
	SuggestAnalyze         SuggestionType = "analyze"
	SuggestLoadBalancing   SuggestionType = "load_balancing"
	SuggestRedundant       SuggestionType = "redundant"
)

// Suggestion is a descriptive optimization hint. Only the evidence fields
// relevant to its Type are set.
type Suggestion struct {
	Type             SuggestionType `json:"type"`
	Pattern          string         `json:"pattern,omitempty"`
	Question         string         `json:"question,omitempty"`
	Hour             string         `json:"hour,omitempty"`
	Count            int64          `json:"count,omitempty"`
	TotalCost        float64        `json:"total_cost,omitempty"`
	AvgCost          float64        `json:"avg_cost,omitempty"`
	EstimatedSavings float64        `json:"estimated_savings,omitempty"`
	QueriesPerDay    float64        `json:"queries_per_day,omitempty"`
	SuggestedTTL     time.Duration  `json:"suggested_ttl,omitempty"`
	Message          string         `json:"message"`
}
