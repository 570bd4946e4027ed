// Package engine answers questions along the cheapest available path: a
// matching template first, then the result cache, and only then the external
// translator. Every answer is reported to the usage analyzer.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/qcache/pkg/analyzer"
	"github.com/pario-ai/qcache/pkg/cache"
	"github.com/pario-ai/qcache/pkg/metrics"
	"github.com/pario-ai/qcache/pkg/models"
	"github.com/pario-ai/qcache/pkg/template"
)

// Request is a question to answer.
type Request struct {
	Question string
	ConfigID string
	Scope    string
	Schema   models.Schema
}

// Translator turns a question into a query and runs it. It is the expensive
// remote step the engine tries to avoid.
type Translator interface {
	Translate(ctx context.Context, req Request) (models.Result, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, req Request) (models.Result, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, req Request) (models.Result, error) {
	return f(ctx, req)
}

// Source names the path that produced an answer.
type Source string

const (
	SourceTemplate   Source = "template"
	SourceCache      Source = "cache"
	SourceTranslated Source = "translated"
)

// Outcome is the answer to a Request.
type Outcome struct {
	ID       string        `json:"id"`
	Source   Source        `json:"source"`
	Result   models.Result `json:"result"`
	Template string        `json:"template,omitempty"`
	Pattern  string        `json:"pattern,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Resolver wires the template registry, the cache and the analyzer in front
// of a translator.
type Resolver struct {
	registry   *template.Registry
	cache      *cache.Cache
	analyzer   *analyzer.Analyzer
	translator Translator
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver. A nil analyzer disables query logging.
func New(registry *template.Registry, c *cache.Cache, a *analyzer.Analyzer, t Translator, opts ...Option) *Resolver {
	r := &Resolver{
		registry:   registry,
		cache:      c,
		analyzer:   a,
		translator: t,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	return r
}

// Resolve answers req. A template answer never consults the cache. Only a
// translator failure is returned as an error; logging failures are not.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	start := r.now()
	out := Outcome{ID: uuid.NewString()}
	log := r.logger.With(zap.String("id", out.ID), zap.String("config_id", req.ConfigID))

	if tpl, params, ok := r.registry.FindMatching(req.Question, req.Schema); ok {
		if q, ok := tpl.Generate(params, req.Schema); ok {
			r.metrics.TemplateMatchesTotal.Inc()
			out.Source = SourceTemplate
			out.Result = models.Result{Query: q}
			out.Template = tpl.Pattern()
			log.Debug("answered from template", zap.String("template", out.Template))
			r.finish(ctx, req, &out, start, 0)
			return out, nil
		}
		log.Debug("template produced no query", zap.String("template", tpl.Pattern()))
	}

	res, hit, err := r.cache.GetOrCompute(ctx, req.Question, req.ConfigID, req.Scope,
		func(ctx context.Context) (models.Result, error) {
			return r.translator.Translate(ctx, req)
		})
	if err != nil {
		return Outcome{}, fmt.Errorf("translate question: %w", err)
	}

	out.Result = res
	cost := 0.0
	if hit {
		out.Source = SourceCache
	} else {
		out.Source = SourceTranslated
		if r.analyzer != nil {
			cost = r.analyzer.DefaultCost()
		}
	}
	log.Debug("answered", zap.String("source", string(out.Source)))
	r.finish(ctx, req, &out, start, cost)
	return out, nil
}

func (r *Resolver) finish(ctx context.Context, req Request, out *Outcome, start time.Time, cost float64) {
	out.Duration = r.now().Sub(start)
	r.metrics.ResolveDuration.WithLabelValues(string(out.Source)).Observe(out.Duration.Seconds())

	if r.analyzer == nil {
		return
	}
	rec, err := r.analyzer.LogQuery(ctx, models.QueryLogRecord{
		Question:      req.Question,
		ConfigID:      req.ConfigID,
		Scope:         req.Scope,
		ExecutionTime: out.Duration,
		Cost:          cost,
		ResultCount:   len(out.Result.Rows),
	})
	if err != nil {
		r.logger.Warn("log query", zap.String("id", out.ID), zap.Error(err))
		return
	}
	out.Pattern = rec.Pattern
}
