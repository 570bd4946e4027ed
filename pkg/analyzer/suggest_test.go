package analyzer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/qcache/pkg/models"
	"github.com/pario-ai/qcache/pkg/template"
)

func byType(suggestions []models.Suggestion, typ models.SuggestionType) []models.Suggestion {
	var out []models.Suggestion
	for _, s := range suggestions {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func TestSuggestionsEmptyLog(t *testing.T) {
	a := newTestAnalyzer(t, testConfig(t))
	got, err := a.Suggestions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSuggestionsVolumeAndTTL(t *testing.T) {
	a := newTestAnalyzer(t, testConfig(t))

	// 150 queries spread over the last 15 days: 5 per day
	for i := 0; i < 150; i++ {
		logAt(t, a, fmt.Sprintf("unique question %d", i), t0.Add(-time.Duration(i)*145*time.Minute), time.Second, 0.1)
	}

	got, err := a.Suggestions(context.Background())
	require.NoError(t, err)

	volume := byType(got, models.SuggestVolumePlan)
	require.Len(t, volume, 1)
	assert.Equal(t, int64(150), volume[0].Count)
	assert.InDelta(t, 15.0, volume[0].TotalCost, 1e-9)

	adjust := byType(got, models.SuggestCacheAdjustment)
	require.Len(t, adjust, 1)
	assert.InDelta(t, 5.0, adjust[0].QueriesPerDay, 1e-9)
	// 100/5 days clamps to the three day maximum
	assert.Equal(t, 72*time.Hour, adjust[0].SuggestedTTL)
}

func TestSuggestionsBelowVolumeThreshold(t *testing.T) {
	a := newTestAnalyzer(t, testConfig(t))
	for i := 0; i < 100; i++ {
		logAt(t, a, fmt.Sprintf("q %d", i), t0.Add(-time.Duration(i)*time.Hour), time.Second, 0.09)
	}
	got, err := a.Suggestions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, byType(got, models.SuggestVolumePlan))
}

func TestSuggestedTTL(t *testing.T) {
	assert.Equal(t, 24*time.Hour, SuggestedTTL(100, 100, time.Hour, 72*time.Hour))
	assert.Equal(t, 12*time.Hour, SuggestedTTL(200, 100, time.Hour, 72*time.Hour))
	assert.Equal(t, time.Hour, SuggestedTTL(10000, 100, time.Hour, 72*time.Hour))
	assert.Equal(t, 72*time.Hour, SuggestedTTL(1, 100, time.Hour, 72*time.Hour))
	assert.Equal(t, 72*time.Hour, SuggestedTTL(0, 100, time.Hour, 72*time.Hour))
}

func TestSuggestionsPrecompileAndAnalyze(t *testing.T) {
	a := newTestAnalyzer(t, testConfig(t))

	for i := 0; i < 5; i++ {
		logAt(t, a, "muestra todos los usuarios", t0.Add(-time.Duration(i)*2*time.Hour), time.Second, 0.2)
	}
	logAt(t, a, "cuántos pedidos hay", t0.Add(-3*time.Hour), time.Second, 0.5)
	logAt(t, a, "total de ventas", t0.Add(-4*time.Hour), time.Second, 0.05)

	got, err := a.Suggestions(context.Background())
	require.NoError(t, err)

	pre := byType(got, models.SuggestPrecompile)
	require.Len(t, pre, 1)
	assert.Equal(t, "muestra todos los usuarios", pre[0].Pattern)
	assert.Equal(t, int64(5), pre[0].Count)
	assert.InDelta(t, 0.9, pre[0].EstimatedSavings, 1e-9)

	analyze := byType(got, models.SuggestAnalyze)
	require.Len(t, analyze, 1)
	assert.Equal(t, "cuántos pedidos hay", analyze[0].Pattern)
	assert.InDelta(t, 0.5, analyze[0].AvgCost, 1e-9)
}

func TestSuggestionsLoadBalancing(t *testing.T) {
	a := newTestAnalyzer(t, testConfig(t))

	busy := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 21; i++ {
		logAt(t, a, fmt.Sprintf("question %d", i), busy.Add(time.Duration(i)*time.Minute), time.Second, 0.09)
	}
	quiet := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		logAt(t, a, fmt.Sprintf("other %d", i), quiet.Add(time.Duration(i)*time.Minute), time.Second, 0.09)
	}
	// outside the seven day window
	old := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		logAt(t, a, fmt.Sprintf("old %d", i), old.Add(time.Duration(i)*time.Minute), time.Second, 0.09)
	}

	got, err := a.Suggestions(context.Background())
	require.NoError(t, err)

	load := byType(got, models.SuggestLoadBalancing)
	require.Len(t, load, 1)
	assert.Equal(t, "2026-10-15 09", load[0].Hour)
	assert.Equal(t, int64(21), load[0].Count)
	assert.InDelta(t, 1.89, load[0].TotalCost, 1e-9)
}

func TestSuggestionsRedundant(t *testing.T) {
	a := newTestAnalyzer(t, testConfig(t))

	for i := 0; i < 4; i++ {
		logAt(t, a, "what did we sell yesterday", t0.Add(-time.Duration(i)*time.Hour), time.Second, 0.09)
	}
	for i := 0; i < 3; i++ {
		logAt(t, a, "asked three times", t0.Add(-time.Duration(i)*time.Hour), time.Second, 0.09)
	}
	for i := 0; i < 5; i++ {
		logAt(t, a, "asked last week", t0.AddDate(0, 0, -3).Add(time.Duration(i)*time.Minute), time.Second, 0.09)
	}

	got, err := a.Suggestions(context.Background())
	require.NoError(t, err)

	red := byType(got, models.SuggestRedundant)
	require.Len(t, red, 1)
	assert.Equal(t, "what did we sell yesterday", red[0].Question)
	assert.Equal(t, int64(4), red[0].Count)
	assert.InDelta(t, 0.27, red[0].EstimatedSavings, 1e-9)
}

func TestSuggestionsUseConfiguredThresholds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Suggestions.PrecompileMinCount = 2
	cfg.Suggestions.PrecompileSavingsRatio = 0.5
	a := newTestAnalyzer(t, cfg)

	logAt(t, a, "muestra todos los usuarios", t0, time.Second, 1)
	logAt(t, a, "muestra todos los usuarios", t0, time.Second, 1)

	got, err := a.Suggestions(context.Background())
	require.NoError(t, err)
	pre := byType(got, models.SuggestPrecompile)
	require.Len(t, pre, 1)
	assert.InDelta(t, 1.0, pre[0].EstimatedSavings, 1e-9)
}

func TestSuggestTemplate(t *testing.T) {
	d, ok := SuggestTemplate("muestra todos los usuarios", "SELECT * FROM usuarios LIMIT 100")
	require.True(t, ok)
	assert.Equal(t, "muestra todos los {table}", d.Pattern)
	assert.Equal(t, "SELECT * FROM $1 LIMIT 100", *d.QueryShapeTemplate)
	assert.Equal(t, models.DatabaseSQL, d.DatabaseKind)

	d, ok = SuggestTemplate("Muestra los pedidos de los últimos 30 días",
		"SELECT * FROM pedidos WHERE fecha > now() - interval '30 days'")
	require.True(t, ok)
	assert.Equal(t, "muestra los {table} de los últimos {number} días", d.Pattern)
	assert.Equal(t, "SELECT * FROM $1 WHERE fecha > now() - interval '$2 days'", *d.QueryShapeTemplate)

	d, ok = SuggestTemplate("busca clientes donde ciudad es 'Madrid'",
		"SELECT * FROM clientes WHERE ciudad = 'Madrid'")
	require.True(t, ok)
	assert.Equal(t, "busca {table} donde ciudad es '{value}'", d.Pattern)
	assert.Equal(t, "SELECT * FROM $1 WHERE ciudad = '$2'", *d.QueryShapeTemplate)

	_, ok = SuggestTemplate("hola", "SELECT 1")
	assert.False(t, ok)
}

func TestSuggestedTemplatesMatchTheirQuestion(t *testing.T) {
	cases := []struct {
		question, statement string
		pattern             string
		params              []string
	}{
		{
			question:  "muestra todos los users con email ana@example.com",
			statement: "SELECT * FROM users WHERE email = 'ana@example.com'",
			pattern:   "muestra todos los {table} con email ana@example.com",
			params:    []string{"users"},
		},
		{
			question:  "busca clientes donde dominio es 'example.com'",
			statement: "SELECT * FROM clientes WHERE dominio = 'example.com'",
			pattern:   "busca {table} donde dominio es 'example.com'",
			params:    []string{"clientes"},
		},
		{
			question:  "Muestra los pedidos de los últimos 30 días",
			statement: "SELECT * FROM pedidos WHERE fecha > now() - interval '30 days'",
			params:    []string{"pedidos", "30"},
		},
		{
			question:  "busca clientes donde ciudad es 'Madrid'",
			statement: "SELECT * FROM clientes WHERE ciudad = 'Madrid'",
			params:    []string{"clientes", "Madrid"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.question, func(t *testing.T) {
			d, ok := SuggestTemplate(tc.question, tc.statement)
			require.True(t, ok)
			if tc.pattern != "" {
				assert.Equal(t, tc.pattern, d.Pattern)
			}

			tpl, err := template.New(d, nil)
			require.NoError(t, err)
			params, ok := tpl.Match(tc.question)
			require.True(t, ok, "pattern %q does not match its own question", d.Pattern)
			assert.Equal(t, tc.params, params)
		})
	}
}
