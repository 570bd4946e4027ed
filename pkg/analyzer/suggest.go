package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pario-ai/qcache/pkg/models"
)

// Suggestions derives optimization hints from the query log and pattern
// statistics. It only reads; acting on a suggestion is up to the caller.
func (a *Analyzer) Suggestions(ctx context.Context) ([]models.Suggestion, error) {
	sc := a.cfg.Suggestions
	now := a.now()
	var out []models.Suggestion

	volume, err := a.volumeSuggestions(ctx, now)
	if err != nil {
		return nil, err
	}
	out = append(out, volume...)

	patterns, err := a.PatternStats(ctx, sc.PatternLimit)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		if p.Count >= sc.PrecompileMinCount {
			out = append(out, models.Suggestion{
				Type:             models.SuggestPrecompile,
				Pattern:          p.Pattern,
				Count:            p.Count,
				EstimatedSavings: round2(p.AvgCost * float64(p.Count) * sc.PrecompileSavingsRatio),
				Message:          fmt.Sprintf("Create a template for questions shaped like %q", p.Pattern),
			})
		}
		if p.AvgCost > sc.ExpensiveAvgCost && p.Count < sc.PrecompileMinCount {
			out = append(out, models.Suggestion{
				Type:    models.SuggestAnalyze,
				Pattern: p.Pattern,
				Count:   p.Count,
				AvgCost: p.AvgCost,
				Message: fmt.Sprintf("Review questions shaped like %q by hand; they are expensive but rare", p.Pattern),
			})
		}
	}

	load, err := a.loadSuggestions(ctx, now)
	if err != nil {
		return nil, err
	}
	out = append(out, load...)

	redundant, err := a.redundantSuggestions(ctx, now)
	if err != nil {
		return nil, err
	}
	return append(out, redundant...), nil
}

func (a *Analyzer) volumeSuggestions(ctx context.Context, now time.Time) ([]models.Suggestion, error) {
	sc := a.cfg.Suggestions
	var row struct {
		Count     int64   `db:"query_count"`
		TotalCost float64 `db:"total_cost"`
	}
	err := a.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS query_count, COALESCE(SUM(cost), 0) AS total_cost
		 FROM query_log WHERE timestamp > ?`, now.Add(-sc.VolumeWindow).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query volume: %w", err)
	}
	if row.Count <= sc.VolumeThreshold {
		return nil, nil
	}

	days := sc.VolumeWindow.Hours() / 24
	if days <= 0 {
		days = 1
	}
	perDay := float64(row.Count) / days
	ttl := SuggestedTTL(perDay, sc.TTLReferenceRate, sc.MinTTL, sc.MaxTTL)

	return []models.Suggestion{
		{
			Type:      models.SuggestVolumePlan,
			Count:     row.Count,
			TotalCost: round2(row.TotalCost),
			Message:   fmt.Sprintf("Consider negotiating a volume plan: ~%d queries in the last %.0f days", row.Count, days),
		},
		{
			Type:          models.SuggestCacheAdjustment,
			QueriesPerDay: math.Round(perDay*10) / 10,
			SuggestedTTL:  ttl,
			Message:       fmt.Sprintf("Set the cache TTL to %.1f hours for %.1f queries/day", ttl.Hours(), perDay),
		},
	}, nil
}

// SuggestedTTL scales the reference TTL of one day by ref/perDay and clamps
// it to [minTTL, maxTTL].
func SuggestedTTL(perDay, ref float64, minTTL, maxTTL time.Duration) time.Duration {
	if perDay <= 0 {
		return maxTTL
	}
	ttl := time.Duration(float64(24*time.Hour) * ref / perDay)
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

func (a *Analyzer) loadSuggestions(ctx context.Context, now time.Time) ([]models.Suggestion, error) {
	sc := a.cfg.Suggestions
	var rows []struct {
		Hour      string  `db:"hour"`
		Count     int64   `db:"query_count"`
		TotalCost float64 `db:"total_cost"`
	}
	err := a.db.SelectContext(ctx, &rows,
		`SELECT strftime('%Y-%m-%d %H', timestamp / 1000, 'unixepoch') AS hour,
			COUNT(*) AS query_count, COALESCE(SUM(cost), 0) AS total_cost
		 FROM query_log WHERE timestamp > ?
		 GROUP BY hour ORDER BY query_count DESC, hour LIMIT ?`,
		now.Add(-sc.LoadWindow).UnixMilli(), sc.LoadTopHours)
	if err != nil {
		return nil, fmt.Errorf("hourly load: %w", err)
	}

	var out []models.Suggestion
	for _, r := range rows {
		if r.Count <= sc.LoadHourThreshold {
			continue
		}
		out = append(out, models.Suggestion{
			Type:      models.SuggestLoadBalancing,
			Hour:      r.Hour,
			Count:     r.Count,
			TotalCost: round2(r.TotalCost),
			Message:   fmt.Sprintf("High load at %s UTC (%d queries); consider batching", r.Hour, r.Count),
		})
	}
	return out, nil
}

func (a *Analyzer) redundantSuggestions(ctx context.Context, now time.Time) ([]models.Suggestion, error) {
	sc := a.cfg.Suggestions
	var rows []struct {
		Question string `db:"question"`
		Count    int64  `db:"query_count"`
	}
	err := a.db.SelectContext(ctx, &rows,
		`SELECT question, COUNT(*) AS query_count
		 FROM query_log WHERE timestamp > ?
		 GROUP BY question HAVING COUNT(*) > ?
		 ORDER BY query_count DESC, question LIMIT ?`,
		now.Add(-sc.RedundantWindow).UnixMilli(), sc.RedundantThreshold, sc.RedundantTop)
	if err != nil {
		return nil, fmt.Errorf("redundant queries: %w", err)
	}

	out := make([]models.Suggestion, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Suggestion{
			Type:             models.SuggestRedundant,
			Question:         r.Question,
			Count:            r.Count,
			EstimatedSavings: round2(sc.CostPerQuery * float64(r.Count-1)),
			Message:          fmt.Sprintf("Cache the question %q; it was asked %d times", truncate(r.Question, 50), r.Count),
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
