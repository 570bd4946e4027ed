package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/qcache/pkg/models"
)

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cache Statistics\n"+
		"  Directory:   %s\n"+
		"  Entries:     %d\n"+
		"  Memory:      %d\n"+
		"  Disk files:  %d\n"+
		"  Avg age:     %s\n"+
		"  Hits:        %d\n"+
		"  Misses:      %d\n"+
		"  Hit Rate:    %.1f%%\n",
		stats.Directory, stats.TotalEntries, stats.MemorySize, stats.DiskSize,
		stats.AverageAge.Round(time.Second), stats.Hits, stats.Misses, hitRate)

	if len(stats.TopQueries) > 0 {
		b.WriteString("\nTop questions\n")
		for _, q := range stats.TopQueries {
			fmt.Fprintf(&b, "  %6d  %s\n", q.HitCount, q.Question)
		}
	}
	return b.String()
}

// formatPatterns formats pattern statistics as a text table.
func formatPatterns(stats []models.PatternStat) string {
	if len(stats) == 0 {
		return "No patterns recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-40s %8s %10s %10s %12s\n", "Pattern", "Count", "Avg Time", "Avg Cost", "Monthly Est")
	b.WriteString(strings.Repeat("-", 84) + "\n")
	for _, p := range stats {
		fmt.Fprintf(&b, "%-40s %8d %10s %10.4f %12.2f\n",
			truncate(p.Pattern, 40), p.Count, p.AvgExecutionTime.Round(time.Millisecond), p.AvgCost, p.EstimatedMonthlyCost)
	}
	return b.String()
}

// formatSuggestions lists suggestions one per line.
func formatSuggestions(suggestions []models.Suggestion) string {
	if len(suggestions) == 0 {
		return "No suggestions. The query log shows nothing worth optimizing yet."
	}
	var b strings.Builder
	for i, s := range suggestions {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, s.Type, s.Message)
	}
	return b.String()
}

// formatMatch describes a template match and the query it generated.
func formatMatch(pattern string, params []string, q models.QueryShape) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Template:   %s\n", pattern)
	fmt.Fprintf(&b, "Parameters: %s\n", strings.Join(params, ", "))
	fmt.Fprintf(&b, "Kind:       %s\n", q.Kind)
	if q.Statement != "" {
		fmt.Fprintf(&b, "Query:      %s\n", q.Statement)
	} else {
		fmt.Fprintf(&b, "Query:      %s.%s limit %d\n", q.Collection, q.Operation, q.Limit)
	}
	return b.String()
}

// formatRecords formats query log records as a text table.
func formatRecords(records []models.QueryLogRecord) string {
	if len(records) == 0 {
		return "No query log records found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %-30s %10s %8s %6s\n", "Time", "Config", "Pattern", "Exec", "Cost", "Rows")
	b.WriteString(strings.Repeat("-", 91) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-20s %-12s %-30s %10s %8.4f %6d\n",
			r.Timestamp.Format("2006-01-02 15:04:05"),
			truncate(r.ConfigID, 12),
			truncate(r.Pattern, 30),
			r.ExecutionTime.Round(time.Millisecond),
			r.Cost, r.ResultCount)
		fmt.Fprintf(&b, "  %s\n", r.Question)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
