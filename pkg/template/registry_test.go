package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/qcache/pkg/metrics"
	"github.com/pario-ai/qcache/pkg/models"
)

func writeTemplates(t *testing.T, path string, descs []models.TemplateDescriptor) {
	t.Helper()
	data, err := json.Marshal(descs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readTemplates(t *testing.T, path string) []models.TemplateDescriptor {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var descs []models.TemplateDescriptor
	require.NoError(t, json.Unmarshal(data, &descs))
	return descs
}

func TestRegistryBuiltinScenario(t *testing.T) {
	r := NewRegistry("")

	tpl, params, ok := r.FindMatching("muestra todos los usuarios", models.Schema{})
	require.True(t, ok)
	assert.Equal(t, "muestra todos los {table}", tpl.Pattern())
	assert.True(t, tpl.Builtin())

	q, ok := tpl.Generate(params, models.Schema{})
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM usuarios LIMIT 100", q.Statement)
}

func TestRegistrySkipsOutOfScope(t *testing.T) {
	r := NewRegistry("")
	noUsers := models.Schema{Tables: map[string]models.Table{"orders": {}}}

	_, _, ok := r.FindMatching("cuántos usuarios activos hay", noUsers)
	assert.False(t, ok)

	withUsers := models.Schema{Tables: map[string]models.Table{"users": {}}}
	tpl, _, ok := r.FindMatching("cuántos usuarios activos hay", withUsers)
	require.True(t, ok)
	assert.Equal(t, "cuántos usuarios activos hay", tpl.Pattern())
}

func TestRegistryFirstMatchWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	writeTemplates(t, path, []models.TemplateDescriptor{
		sqlDesc("muestra todos los {table}", "SELECT id FROM $1"),
		sqlDesc("top {number} {table}", "SELECT * FROM $2 LIMIT $1"),
		sqlDesc("top {number} {table}", "SELECT * FROM $2 FETCH FIRST $1 ROWS ONLY"),
	})
	r := NewRegistry(path)

	tpl, _, ok := r.FindMatching("muestra todos los usuarios", models.Schema{})
	require.True(t, ok)
	assert.True(t, tpl.Builtin(), "built-ins are matched before custom templates")

	tpl, params, ok := r.FindMatching("top 5 orders", models.Schema{})
	require.True(t, ok)
	q, ok := tpl.Generate(params, models.Schema{})
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM orders LIMIT 5", q.Statement)
}

func TestRegistrySkipsInvalidCustomTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	writeTemplates(t, path, []models.TemplateDescriptor{
		sqlDesc("broken {table", "SELECT 1"),
		{Pattern: "no generator {table}"},
		{Pattern: "mystery {table}", Generator: "does.not.exist"},
		sqlDesc("good {table}", "SELECT * FROM $1"),
	})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := NewRegistry(path, WithMetrics(m))

	assert.Len(t, r.Templates(), len(Builtins())+1)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TemplateRejectedTotal))
	_, _, ok := r.FindMatching("good orders", models.Schema{})
	assert.True(t, ok)
}

func TestRegistryUnparsableFileKeepsBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	r := NewRegistry(path)
	assert.Len(t, r.Templates(), len(Builtins()))
	assert.Error(t, r.Reload())
}

func TestSaveCustomReplacesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "templates.json")
	r := NewRegistry(path)

	require.NoError(t, r.SaveCustom(sqlDesc("first {table}", "SELECT 1 FROM $1")))
	require.NoError(t, r.SaveCustom(sqlDesc("second {table}", "SELECT 2 FROM $1")))
	require.NoError(t, r.SaveCustom(sqlDesc("first {table}", "SELECT 3 FROM $1")))

	descs := readTemplates(t, path)
	require.Len(t, descs, 2)
	assert.Equal(t, "first {table}", descs[0].Pattern)
	assert.Equal(t, "SELECT 3 FROM $1", *descs[0].QueryShapeTemplate)
	assert.Equal(t, "second {table}", descs[1].Pattern)
	assert.Equal(t, []string{}, descs[1].ApplicableScope)

	all := r.Templates()
	require.Len(t, all, len(Builtins())+2)
	assert.Equal(t, "first {table}", all[len(all)-2].Pattern())

	tpl, params, ok := r.FindMatching("first orders", models.Schema{})
	require.True(t, ok)
	q, ok := tpl.Generate(params, models.Schema{})
	require.True(t, ok)
	assert.Equal(t, "SELECT 3 FROM orders", q.Statement)
}

func TestSaveCustomRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	r := NewRegistry(path)

	err := r.SaveCustom(sqlDesc("broken {tabel}", "SELECT 1"))
	require.ErrorIs(t, err, ErrInvalidPattern)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveCustomWithoutPath(t *testing.T) {
	r := NewRegistry("")
	assert.Error(t, r.SaveCustom(sqlDesc("x {table}", "SELECT 1")))
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	r := NewRegistry(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx))

	writeTemplates(t, path, []models.TemplateDescriptor{
		sqlDesc("hot {table}", "SELECT * FROM $1"),
	})

	assert.Eventually(t, func() bool {
		_, _, ok := r.FindMatching("hot orders", models.Schema{})
		return ok
	}, 3*time.Second, 50*time.Millisecond)
}
