package mcp

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/pario-ai/qcache/pkg/models"
)

const (
	defaultPatternLimit = 10
	defaultRecordLimit  = 50
)

// toolHandler handles one tools/call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"qcache_cache_stats":    handleCacheStats,
	"qcache_patterns":       handlePatterns,
	"qcache_suggestions":    handleSuggestions,
	"qcache_match_template": handleMatchTemplate,
	"qcache_query_log":      handleQueryLog,
}

var allTools = []ToolDefinition{
	{
		Name:        "qcache_cache_stats",
		Description: "Show result cache statistics: entries per tier, hits, misses, average age and most requested questions.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "qcache_patterns",
		Description: "Show the most frequent question patterns with average latency, cost and estimated monthly cost.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"limit": {Type: "integer", Description: "Maximum number of patterns (optional, default 10)"},
			},
		},
	},
	{
		Name:        "qcache_suggestions",
		Description: "Show optimization suggestions derived from the query log.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "qcache_match_template",
		Description: "Check whether a question is answered by a template and show the generated query.",
		InputSchema: InputSchema{
			Type:     "object",
			Required: []string{"question"},
			Properties: map[string]Property{
				"question": {Type: "string", Description: "The natural-language question"},
				"tables": {
					Type:        "array",
					Description: "Tables available in the target database (optional)",
					Items:       &Property{Type: "string", Description: "Table name"},
				},
			},
		},
	},
	{
		Name:        "qcache_query_log",
		Description: "Search the query log with optional filters.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"config_id": {Type: "string", Description: "Filter by configuration id (optional)"},
				"pattern":   {Type: "string", Description: "Filter by detected pattern (optional)"},
				"since":     {Type: "string", Description: "Start date in YYYY-MM-DD format (optional)"},
				"limit":     {Type: "integer", Description: "Maximum number of records (optional, default 50)"},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type limitArgs struct {
	Limit int `json:"limit"`
}

func handlePatterns(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.analytics == nil {
		return textResult("Query analytics are not configured.")
	}
	var args limitArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Limit <= 0 {
		args.Limit = defaultPatternLimit
	}
	stats, err := s.analytics.PatternStats(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching patterns: " + err.Error())
	}
	return textResult(formatPatterns(stats))
}

func handleSuggestions(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.analytics == nil {
		return textResult("Query analytics are not configured.")
	}
	suggestions, err := s.analytics.Suggestions(ctx)
	if err != nil {
		return errorResult("Error computing suggestions: " + err.Error())
	}
	return textResult(formatSuggestions(suggestions))
}

type matchArgs struct {
	Question string   `json:"question"`
	Tables   []string `json:"tables"`
}

func handleMatchTemplate(_ context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.templates == nil {
		return textResult("Templates are not configured.")
	}
	var args matchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Question == "" {
		return errorResult("question is required")
	}

	schema := models.Schema{Tables: make(map[string]models.Table, len(args.Tables))}
	for _, name := range args.Tables {
		schema.Tables[name] = models.Table{}
	}

	tpl, params, ok := s.templates.FindMatching(args.Question, schema)
	if !ok {
		return textResult("No template matches this question.")
	}
	q, ok := tpl.Generate(params, schema)
	if !ok {
		return textResult("Template " + tpl.Pattern() + " matched but could not generate a query.")
	}
	return textResult(formatMatch(tpl.Pattern(), params, q))
}

type queryLogArgs struct {
	ConfigID string `json:"config_id"`
	Pattern  string `json:"pattern"`
	Since    string `json:"since"`
	Limit    int    `json:"limit"`
}

func handleQueryLog(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.analytics == nil {
		return textResult("Query analytics are not configured.")
	}
	var args queryLogArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	opts := models.LogQueryOpts{
		ConfigID: args.ConfigID,
		Pattern:  args.Pattern,
		Limit:    args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultRecordLimit
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	records, err := s.analytics.Records(ctx, opts)
	if err != nil {
		return errorResult("Error searching query log: " + err.Error())
	}
	return textResult(formatRecords(records))
}
