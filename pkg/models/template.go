package models

import "strings"

// TemplateDescriptor is the persisted form of a query template.
// Exactly one of QueryShapeTemplate and Generator is expected to be set.
type TemplateDescriptor struct {
	Pattern            string       `json:"pattern"`
	Description        string       `json:"description"`
	QueryShapeTemplate *string      `json:"query_shape_template"`
	Generator          string       `json:"generator,omitempty"`
	DatabaseKind       DatabaseKind `json:"database_kind"`
	ApplicableScope    []string     `json:"applicable_scope"`
}

// Field describes a column or document field.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Table describes a table or collection.
type Table struct {
	Fields []Field `json:"fields,omitempty"`
}

// Schema describes the tables or collections available for a configuration.
type Schema struct {
	Engine   string           `json:"engine,omitempty"`
	Database string           `json:"database,omitempty"`
	Tables   map[string]Table `json:"tables"`
}

// HasTable reports whether the schema contains the named table.
func (s Schema) HasTable(name string) bool {
	_, ok := s.Tables[name]
	return ok
}

// LookupTable finds a table by case-insensitive name and returns its
// canonical spelling.
func (s Schema) LookupTable(name string) (string, Table, bool) {
	if t, ok := s.Tables[name]; ok {
		return name, t, true
	}
	for canonical, t := range s.Tables {
		if strings.EqualFold(canonical, name) {
			return canonical, t, true
		}
	}
	return "", Table{}, false
}

// HasField reports whether the table has a field with the given name.
func (t Table) HasField(name string) bool {
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}
