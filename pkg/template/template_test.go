package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/qcache/pkg/models"
)

func sqlDesc(pattern, shapeStr string, scope ...string) models.TemplateDescriptor {
	return models.TemplateDescriptor{
		Pattern:            pattern,
		QueryShapeTemplate: shape(shapeStr),
		DatabaseKind:       models.DatabaseSQL,
		ApplicableScope:    scope,
	}
}

func mustNew(t *testing.T, d models.TemplateDescriptor) *Template {
	t.Helper()
	tpl, err := New(d, NewGenerators())
	require.NoError(t, err)
	return tpl
}

func TestMatchAnchoredAndTyped(t *testing.T) {
	tpl := mustNew(t, sqlDesc("how many {table} hay", "SELECT COUNT(*) FROM $1"))

	params, ok := tpl.Match("how many users hay")
	require.True(t, ok)
	assert.Equal(t, []string{"users"}, params)

	_, ok = tpl.Match("how many users")
	assert.False(t, ok)
	_, ok = tpl.Match("cuántos usuarios hay")
	assert.False(t, ok)
	_, ok = tpl.Match("so how many users hay")
	assert.False(t, ok)
}

func TestMatchCaseInsensitive(t *testing.T) {
	tpl := mustNew(t, sqlDesc("cuántos {table} hay", "SELECT COUNT(*) FROM $1"))

	params, ok := tpl.Match("CUÁNTOS Clientes HAY")
	require.True(t, ok)
	assert.Equal(t, []string{"Clientes"}, params)

	// decomposed accent in the question
	_, ok = tpl.Match("cua\u0301ntos clientes hay")
	assert.True(t, ok)
}

func TestPlaceholderShapes(t *testing.T) {
	tests := []struct {
		pattern  string
		question string
		want     []string
		match    bool
	}{
		{"orders over {number}", "orders over 250", []string{"250"}, true},
		{"orders over {number}", "orders over many", nil, false},
		{"find {table} with id {value}", "find users with id a-42", []string{"users", "a-42"}, true},
		{"find {table} with id {value}", "find users with id 4.2", nil, false},
		{"find {table} with id {value}", "find users with id 4,2", nil, false},
		{"sort {table} by {field}", "sort pedidos by fecha_alta", []string{"pedidos", "fecha_alta"}, true},
		{"sort {table} by {field}", "sort pedidos by fecha-alta", nil, false},
		{"price (in $) of {table}", "price (in $) of items", []string{"items"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			tpl := mustNew(t, sqlDesc(tt.pattern, "SELECT 1"))
			params, ok := tpl.Match(tt.question)
			assert.Equal(t, tt.match, ok)
			if tt.match {
				assert.Equal(t, tt.want, params)
			}
		})
	}
}

func TestInvalidPatterns(t *testing.T) {
	for _, p := range []string{"", "show {table", "show table}", "show {tabel}", "show {{table}}"} {
		_, err := New(sqlDesc(p, "SELECT 1"), NewGenerators())
		assert.ErrorIs(t, err, ErrInvalidPattern, "pattern %q", p)
	}
}

func TestNewRequiresGenerator(t *testing.T) {
	_, err := New(models.TemplateDescriptor{Pattern: "show {table}"}, NewGenerators())
	require.ErrorIs(t, err, ErrNoGenerator)

	_, err = New(models.TemplateDescriptor{Pattern: "show {table}", Generator: "nope"}, NewGenerators())
	require.ErrorIs(t, err, ErrUnknownGenerator)
}

func TestGenerateDeclarative(t *testing.T) {
	tpl := mustNew(t, sqlDesc("cuántos {table} hay por {field}", "SELECT $2, COUNT(*) FROM $1 GROUP BY $2"))

	params, ok := tpl.Match("cuántos pedidos hay por estado")
	require.True(t, ok)
	q, ok := tpl.Generate(params, models.Schema{})
	require.True(t, ok)
	assert.Equal(t, models.DatabaseSQL, q.Kind)
	assert.Equal(t, "SELECT estado, COUNT(*) FROM pedidos GROUP BY estado", q.Statement)
}

func TestGenerateNoPartialSubstitution(t *testing.T) {
	tpl := mustNew(t, sqlDesc("busca el usuario con email {value}", "SELECT * FROM users WHERE email = '$2'"))

	params, ok := tpl.Match("busca el usuario con email ada@example")
	require.True(t, ok)
	require.Len(t, params, 1)

	_, ok = tpl.Generate(params, models.Schema{})
	assert.False(t, ok)
}

func TestGenerateParamsAreNotRescanned(t *testing.T) {
	tpl := mustNew(t, sqlDesc("find {value} in {table}", "SELECT * FROM $2 WHERE name = '$1'"))

	q, ok := tpl.Generate([]string{"$2", "users"}, models.Schema{})
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM users WHERE name = '$2'", q.Statement)
}

func TestGenerateNamed(t *testing.T) {
	tpl := mustNew(t, models.TemplateDescriptor{
		Pattern:      "muestra todos los documentos de {table}",
		Generator:    GeneratorMongoFindAll,
		DatabaseKind: models.DatabaseMongoDB,
	})
	schema := models.Schema{Tables: map[string]models.Table{"Orders": {}}}

	params, ok := tpl.Match("muestra todos los documentos de orders")
	require.True(t, ok)
	q, ok := tpl.Generate(params, schema)
	require.True(t, ok)
	assert.Equal(t, models.DatabaseMongoDB, q.Kind)
	assert.Equal(t, "Orders", q.Collection)
	assert.Equal(t, "find", q.Operation)
	assert.Equal(t, 100, q.Limit)
}

func TestSelectKnownTable(t *testing.T) {
	tpl := mustNew(t, models.TemplateDescriptor{
		Pattern:   "dump {table}",
		Generator: GeneratorSQLSelectKnownTbl,
	})
	schema := models.Schema{Tables: map[string]models.Table{"Customers": {}}}

	q, ok := tpl.Generate([]string{"customers"}, schema)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM Customers LIMIT 100", q.Statement)

	_, ok = tpl.Generate([]string{"ghosts"}, schema)
	assert.False(t, ok)
}

func TestAppliesTo(t *testing.T) {
	scoped := mustNew(t, sqlDesc("cuántos usuarios activos hay", "SELECT 1", "users"))
	open := mustNew(t, sqlDesc("cuántos {table} hay", "SELECT 1"))

	withUsers := models.Schema{Tables: map[string]models.Table{"users": {}}}
	withoutUsers := models.Schema{Tables: map[string]models.Table{"orders": {}}}

	assert.True(t, scoped.AppliesTo(withUsers))
	assert.False(t, scoped.AppliesTo(withoutUsers))
	assert.True(t, open.AppliesTo(withoutUsers))
	assert.True(t, open.AppliesTo(models.Schema{}))
}

func TestBuiltinsCompile(t *testing.T) {
	g := NewGenerators()
	for _, d := range Builtins() {
		_, err := New(d, g)
		assert.NoError(t, err, d.Pattern)
	}
}

func TestBuiltinsGenerateWithTheirCaptures(t *testing.T) {
	questions := map[string]string{
		"busca el usuario con email ada@example":       "SELECT * FROM users WHERE email = 'ada@example'",
		"usuarios registrados en los últimos 7 días":   "SELECT * FROM users WHERE created_at >= datetime('now', '-7 days') ORDER BY created_at DESC LIMIT 100",
		"busca negocios en Sevilla":                    "SELECT * FROM businesses WHERE address_city LIKE '%Sevilla%' OR address_province LIKE '%Sevilla%' LIMIT 100",
		"lista los clientes ordenados por nombre":      "SELECT * FROM clientes ORDER BY nombre LIMIT 100",
		"busca el pedido con id 17":                    "SELECT * FROM pedido WHERE id = 17",
	}
	schema := models.Schema{Tables: map[string]models.Table{"users": {}, "businesses": {}}}
	r := NewRegistry("")

	for q, want := range questions {
		tpl, params, ok := r.FindMatching(q, schema)
		require.True(t, ok, q)
		got, ok := tpl.Generate(params, schema)
		require.True(t, ok, q)
		assert.Equal(t, want, got.Statement, q)
	}
}
