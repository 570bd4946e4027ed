package template

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pario-ai/qcache/pkg/metrics"
	"github.com/pario-ai/qcache/pkg/models"
)

// Registry holds the ordered template set: built-ins first, then custom
// templates in file order. Lookups read an immutable snapshot that is
// swapped atomically on reload.
type Registry struct {
	path       string
	generators *Generators
	logger     *zap.Logger
	metrics    *metrics.Metrics

	templates atomic.Pointer[[]*Template]
	writeMu   sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithGenerators sets the generator set used to resolve named generators.
func WithGenerators(g *Generators) Option {
	return func(r *Registry) { r.generators = g }
}

// NewRegistry builds the registry from the built-in templates and the custom
// template file at path. An empty path disables custom templates. A custom
// file that cannot be read is logged and the built-ins are still served.
func NewRegistry(path string, opts ...Option) *Registry {
	r := &Registry{
		path:   path,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.generators == nil {
		r.generators = NewGenerators()
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}

	if err := r.Reload(); err != nil {
		r.logger.Warn("load custom templates", zap.String("path", path), zap.Error(err))
		r.install(nil)
	}
	return r
}

// Path returns the custom template file location.
func (r *Registry) Path() string { return r.path }

// Generators returns the generator set.
func (r *Registry) Generators() *Generators { return r.generators }

// Templates returns the current templates in match order.
func (r *Registry) Templates() []*Template {
	p := r.templates.Load()
	if p == nil {
		return nil
	}
	out := make([]*Template, len(*p))
	copy(out, *p)
	return out
}

// FindMatching returns the first template, in registry order, that matches
// question and applies to schema, along with its parameters.
func (r *Registry) FindMatching(question string, schema models.Schema) (*Template, []string, bool) {
	p := r.templates.Load()
	if p == nil {
		return nil, nil, false
	}
	for _, t := range *p {
		params, ok := t.Match(question)
		if !ok || !t.AppliesTo(schema) {
			continue
		}
		return t, params, true
	}
	return nil, nil, false
}

// Reload rebuilds the template set from the built-ins and the custom file.
// Invalid templates are skipped. On a read or parse error the current set is
// kept.
func (r *Registry) Reload() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	custom, err := r.readCustom()
	if err != nil {
		return err
	}
	r.install(custom)
	return nil
}

func (r *Registry) install(custom []models.TemplateDescriptor) {
	builtins := Builtins()
	set := make([]*Template, 0, len(builtins)+len(custom))
	for _, d := range builtins {
		if t := r.build(d); t != nil {
			t.builtin = true
			set = append(set, t)
		}
	}
	for _, d := range custom {
		if t := r.build(d); t != nil {
			set = append(set, t)
		}
	}
	r.templates.Store(&set)
	r.logger.Debug("templates loaded", zap.Int("builtin", len(builtins)), zap.Int("custom", len(custom)))
}

func (r *Registry) build(d models.TemplateDescriptor) *Template {
	t, err := New(d, r.generators)
	if err != nil {
		r.metrics.TemplateRejectedTotal.Inc()
		r.logger.Warn("template rejected", zap.String("pattern", d.Pattern), zap.Error(err))
		return nil
	}
	return t
}

// SaveCustom persists desc to the custom template file. A custom template
// with the same pattern is replaced in place; otherwise desc is appended.
// The registry is reloaded afterwards so its order matches the file.
func (r *Registry) SaveCustom(desc models.TemplateDescriptor) error {
	if r.path == "" {
		return errors.New("no custom template file configured")
	}
	if _, err := New(desc, r.generators); err != nil {
		return err
	}
	if desc.DatabaseKind == "" {
		desc.DatabaseKind = models.DatabaseSQL
	}
	if desc.ApplicableScope == nil {
		desc.ApplicableScope = []string{}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	custom, err := r.readCustom()
	if err != nil {
		return err
	}

	replaced := false
	for i := range custom {
		if custom[i].Pattern == desc.Pattern {
			custom[i] = desc
			replaced = true
			break
		}
	}
	if !replaced {
		custom = append(custom, desc)
	}

	if err := r.writeCustom(custom); err != nil {
		return err
	}
	r.install(custom)
	r.logger.Info("custom template saved", zap.String("pattern", desc.Pattern), zap.Bool("replaced", replaced))
	return nil
}

func (r *Registry) readCustom() ([]models.TemplateDescriptor, error) {
	if r.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var custom []models.TemplateDescriptor
	if err := json.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return custom, nil
}

func (r *Registry) writeCustom(custom []models.TemplateDescriptor) error {
	data, err := json.MarshalIndent(custom, "", "  ")
	if err != nil {
		return fmt.Errorf("encode templates: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".templates-*")
	if err != nil {
		return fmt.Errorf("write templates: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write templates: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write templates: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("write templates: %w", err)
	}
	return nil
}
