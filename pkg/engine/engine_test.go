package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/qcache/pkg/analyzer"
	"github.com/pario-ai/qcache/pkg/cache"
	"github.com/pario-ai/qcache/pkg/config"
	"github.com/pario-ai/qcache/pkg/models"
	"github.com/pario-ai/qcache/pkg/template"
)

type countingTranslator struct {
	calls atomic.Int32
	err   error
}

func (c *countingTranslator) Translate(_ context.Context, req Request) (models.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return models.Result{}, c.err
	}
	return models.Result{
		Query: models.QueryShape{Kind: models.DatabaseSQL, Statement: "SELECT name FROM users WHERE active"},
		Rows:  []map[string]any{{"name": "ada"}, {"name": "grace"}},
	}, nil
}

type fixture struct {
	resolver   *Resolver
	cache      *cache.Cache
	analyzer   *analyzer.Analyzer
	translator *countingTranslator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	c, err := cache.New(config.CacheConfig{Dir: filepath.Join(dir, "cache"), TTL: time.Hour, MemoryLimit: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	a, err := analyzer.New(config.AnalyzerConfig{
		DBPath:      filepath.Join(dir, "query_log.db"),
		DefaultCost: 0.09,
		Suggestions: config.DefaultSuggestions(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	tr := &countingTranslator{}
	return &fixture{
		resolver:   New(template.NewRegistry(""), c, a, tr),
		cache:      c,
		analyzer:   a,
		translator: tr,
	}
}

func TestResolveFromTemplateSkipsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.resolver.Resolve(ctx, Request{Question: "muestra todos los usuarios", ConfigID: "prod"})
	require.NoError(t, err)

	assert.Equal(t, SourceTemplate, out.Source)
	assert.Equal(t, "muestra todos los {table}", out.Template)
	assert.Equal(t, "SELECT * FROM usuarios LIMIT 100", out.Result.Query.Statement)
	assert.Equal(t, "muestra todos los usuarios", out.Pattern)
	_, err = uuid.Parse(out.ID)
	assert.NoError(t, err)

	assert.Zero(t, f.translator.calls.Load())
	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)

	records, err := f.analyzer.Records(ctx, models.LogQueryOpts{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Zero(t, records[0].Cost)
}

func TestResolveTranslatesOnceThenCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := Request{Question: "which users are active", ConfigID: "prod"}

	first, err := f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceTranslated, first.Source)

	second, err := f.resolver.Resolve(ctx, Request{Question: "Which  users are ACTIVE", ConfigID: "prod"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Result.Query.Statement, second.Result.Query.Statement)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, int32(1), f.translator.calls.Load())

	records, err := f.analyzer.Records(ctx, models.LogQueryOpts{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	// newest first: the cache hit costs nothing
	assert.Zero(t, records[0].Cost)
	assert.InDelta(t, 0.09, records[1].Cost, 1e-9)
	assert.Equal(t, 2, records[1].ResultCount)
}

func TestResolveScopeSeparatesCacheEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.resolver.Resolve(ctx, Request{Question: "which users are active", ConfigID: "prod"})
	require.NoError(t, err)
	out, err := f.resolver.Resolve(ctx, Request{Question: "which users are active", ConfigID: "prod", Scope: "users"})
	require.NoError(t, err)

	assert.Equal(t, SourceTranslated, out.Source)
	assert.Equal(t, int32(2), f.translator.calls.Load())
}

func TestResolveFallsThroughWhenTemplateOutOfScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	schema := models.Schema{Tables: map[string]models.Table{"orders": {}}}

	out, err := f.resolver.Resolve(ctx, Request{Question: "cuántos usuarios activos hay", ConfigID: "prod", Schema: schema})
	require.NoError(t, err)
	assert.Equal(t, SourceTranslated, out.Source)
	assert.Equal(t, int32(1), f.translator.calls.Load())
}

func TestResolveTranslatorError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.translator.err = errors.New("upstream unavailable")

	_, err := f.resolver.Resolve(ctx, Request{Question: "which users are active", ConfigID: "prod"})
	require.ErrorIs(t, err, f.translator.err)

	records, err := f.analyzer.Records(ctx, models.LogQueryOpts{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestResolveWithoutAnalyzer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := New(template.NewRegistry(""), f.cache, nil, TranslatorFunc(func(context.Context, Request) (models.Result, error) {
		return models.Result{Query: models.QueryShape{Kind: models.DatabaseSQL, Statement: "SELECT 1"}}, nil
	}))

	out, err := r.Resolve(ctx, Request{Question: "anything at all", ConfigID: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out.Result.Query.Statement)
	assert.Empty(t, out.Pattern)
}
