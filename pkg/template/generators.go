package template

import (
	"sort"
	"sync"

	"github.com/pario-ai/qcache/pkg/models"
)

// GeneratorFunc builds a query from captured parameters and the current
// schema. It returns false when no query can be produced.
type GeneratorFunc func(params []string, schema models.Schema) (models.QueryShape, bool)

// Built-in generator names.
const (
	GeneratorMongoFindAll      = "mongodb.find_all"
	GeneratorSQLSelectKnownTbl = "sql.select_known_table"
)

const defaultLimit = 100

// Generators maps generator names used in template descriptors to their
// implementations.
type Generators struct {
	mu sync.RWMutex
	m  map[string]GeneratorFunc
}

// NewGenerators returns a set holding the built-in generators.
func NewGenerators() *Generators {
	g := &Generators{m: make(map[string]GeneratorFunc)}
	g.Register(GeneratorMongoFindAll, mongoFindAll)
	g.Register(GeneratorSQLSelectKnownTbl, sqlSelectKnownTable)
	return g
}

// Register adds or replaces the generator called name.
func (g *Generators) Register(name string, fn GeneratorFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.m[name] = fn
}

// Lookup returns the generator called name.
func (g *Generators) Lookup(name string) (GeneratorFunc, bool) {
	if g == nil {
		return nil, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn, ok := g.m[name]
	return fn, ok
}

// Names returns the registered generator names, sorted.
func (g *Generators) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.m))
	for n := range g.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// mongoFindAll lists the documents of the collection named by the first
// parameter.
func mongoFindAll(params []string, schema models.Schema) (models.QueryShape, bool) {
	if len(params) < 1 || params[0] == "" {
		return models.QueryShape{}, false
	}
	collection := params[0]
	if canonical, _, ok := schema.LookupTable(collection); ok {
		collection = canonical
	}
	return models.QueryShape{
		Kind:       models.DatabaseMongoDB,
		Collection: collection,
		Operation:  "find",
		Filter:     map[string]any{},
		Limit:      defaultLimit,
	}, true
}

// sqlSelectKnownTable lists rows of the first parameter only when the schema
// has such a table, using the schema's spelling of its name.
func sqlSelectKnownTable(params []string, schema models.Schema) (models.QueryShape, bool) {
	if len(params) < 1 {
		return models.QueryShape{}, false
	}
	canonical, _, ok := schema.LookupTable(params[0])
	if !ok {
		return models.QueryShape{}, false
	}
	return models.QueryShape{
		Kind:      models.DatabaseSQL,
		Statement: "SELECT * FROM " + canonical + " LIMIT 100",
	}, true
}
