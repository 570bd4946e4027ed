// Package template recognizes common question shapes and generates a query
// for them without a remote translation.
//
// A pattern is literal text with typed placeholders:
//
//	{table}, {field}  one word-like token
//	{value}           one token without commas, periods or whitespace
//	{number}          one or more digits
//
// Patterns match the whole question, case-insensitively, and yield the
// captured tokens in placeholder order. A template generates either from a
// declarative shape string with positional $1, $2, ... markers or through a
// named generator function.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/pario-ai/qcache/pkg/models"
)

var (
	// ErrInvalidPattern is returned for malformed placeholder syntax.
	ErrInvalidPattern = errors.New("invalid template pattern")
	// ErrUnknownGenerator is returned when a descriptor names a generator
	// that is not registered.
	ErrUnknownGenerator = errors.New("unknown template generator")
	// ErrNoGenerator is returned when a descriptor has neither a shape string
	// nor a generator.
	ErrNoGenerator = errors.New("template has no generator")
)

var placeholders = map[string]string{
	"table":  `([\p{L}\p{N}_]+)`,
	"field":  `([\p{L}\p{N}_]+)`,
	"value":  `([^,.\s]+)`,
	"number": `(\d+)`,
}

var positional = regexp.MustCompile(`\$(\d+)`)

// Template is a compiled, immutable query template.
type Template struct {
	desc    models.TemplateDescriptor
	re      *regexp.Regexp
	gen     GeneratorFunc
	builtin bool
}

// New compiles desc. Named generators are resolved through generators.
func New(desc models.TemplateDescriptor, generators *Generators) (*Template, error) {
	re, err := compile(desc.Pattern)
	if err != nil {
		return nil, err
	}

	t := &Template{desc: desc, re: re}
	switch {
	case desc.Generator != "":
		fn, ok := generators.Lookup(desc.Generator)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGenerator, desc.Generator)
		}
		t.gen = fn
	case desc.QueryShapeTemplate == nil || strings.TrimSpace(*desc.QueryShapeTemplate) == "":
		return nil, fmt.Errorf("%w: %s", ErrNoGenerator, desc.Pattern)
	}
	if t.desc.DatabaseKind == "" {
		t.desc.DatabaseKind = models.DatabaseSQL
	}
	return t, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	var b strings.Builder
	b.WriteString(`(?i)^`)
	rest := norm.NFC.String(pattern)
	for {
		i := strings.IndexAny(rest, "{}")
		if i < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		if rest[i] == '}' {
			return nil, fmt.Errorf("%w: unbalanced '}' in %q", ErrInvalidPattern, pattern)
		}
		b.WriteString(regexp.QuoteMeta(rest[:i]))

		end := strings.IndexAny(rest[i+1:], "{}")
		if end < 0 || rest[i+1+end] != '}' {
			return nil, fmt.Errorf("%w: unterminated placeholder in %q", ErrInvalidPattern, pattern)
		}
		name := rest[i+1 : i+1+end]
		capture, ok := placeholders[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown placeholder {%s} in %q", ErrInvalidPattern, name, pattern)
		}
		b.WriteString(capture)
		rest = rest[i+end+2:]
	}
	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return re, nil
}

// Pattern returns the source pattern.
func (t *Template) Pattern() string { return t.desc.Pattern }

// Descriptor returns the persisted form of the template.
func (t *Template) Descriptor() models.TemplateDescriptor { return t.desc }

// Builtin reports whether the template ships with qcache.
func (t *Template) Builtin() bool { return t.builtin }

// Match reports whether question has the template's shape and returns the
// captured parameters in placeholder order.
func (t *Template) Match(question string) ([]string, bool) {
	m := t.re.FindStringSubmatch(norm.NFC.String(strings.TrimSpace(question)))
	if m == nil {
		return nil, false
	}
	return m[1:], true
}

// AppliesTo reports whether the template may be used against schema. A
// template without a declared scope applies everywhere; otherwise at least
// one scoped table must exist.
func (t *Template) AppliesTo(schema models.Schema) bool {
	if len(t.desc.ApplicableScope) == 0 {
		return true
	}
	for _, name := range t.desc.ApplicableScope {
		if _, _, ok := schema.LookupTable(name); ok {
			return true
		}
	}
	return false
}

// Generate builds the query for params. It returns false rather than a
// partially filled query when a positional marker has no parameter.
func (t *Template) Generate(params []string, schema models.Schema) (models.QueryShape, bool) {
	if t.gen != nil {
		return t.gen(params, schema)
	}

	complete := true
	out := positional.ReplaceAllStringFunc(*t.desc.QueryShapeTemplate, func(tok string) string {
		n, err := strconv.Atoi(tok[1:])
		if err != nil || n < 1 || n > len(params) {
			complete = false
			return tok
		}
		return params[n-1]
	})
	if !complete {
		return models.QueryShape{}, false
	}

	return models.QueryShape{
		Kind:      t.desc.DatabaseKind,
		Statement: strings.Join(strings.Fields(out), " "),
	}, true
}
