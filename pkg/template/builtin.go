package template

import "github.com/pario-ai/qcache/pkg/models"

func shape(s string) *string { return &s }

// Builtins returns the templates that ship with qcache, in match order.
func Builtins() []models.TemplateDescriptor {
	return []models.TemplateDescriptor{
		{
			Pattern:            "muestra todos los {table}",
			Description:        "List every row of a table",
			QueryShapeTemplate: shape("SELECT * FROM $1 LIMIT 100"),
			DatabaseKind:       models.DatabaseSQL,
		},
		{
			Pattern:            "cuántos {table} hay",
			Description:        "Count the rows of a table",
			QueryShapeTemplate: shape("SELECT COUNT(*) FROM $1"),
			DatabaseKind:       models.DatabaseSQL,
		},
		{
			Pattern:            "busca el {table} con id {value}",
			Description:        "Find a row by id",
			QueryShapeTemplate: shape("SELECT * FROM $1 WHERE id = $2"),
			DatabaseKind:       models.DatabaseSQL,
		},
		{
			Pattern:            "lista los {table} ordenados por {field}",
			Description:        "List rows ordered by a field",
			QueryShapeTemplate: shape("SELECT * FROM $1 ORDER BY $2 LIMIT 100"),
			DatabaseKind:       models.DatabaseSQL,
		},
		{
			Pattern:            "busca el usuario con email {value}",
			Description:        "Find a user by email",
			QueryShapeTemplate: shape("SELECT * FROM users WHERE email = '$1'"),
			DatabaseKind:       models.DatabaseSQL,
		},
		{
			Pattern:            "cuántos {table} hay por {field}",
			Description:        "Count rows grouped by a field",
			QueryShapeTemplate: shape("SELECT $2, COUNT(*) FROM $1 GROUP BY $2"),
			DatabaseKind:       models.DatabaseSQL,
		},
		{
			Pattern:            "cuántos usuarios activos hay",
			Description:        "Count active users",
			QueryShapeTemplate: shape("SELECT COUNT(*) FROM users WHERE is_active = TRUE"),
			DatabaseKind:       models.DatabaseSQL,
			ApplicableScope:    []string{"users"},
		},
		{
			Pattern:     "usuarios registrados en los últimos {number} días",
			Description: "List recently registered users",
			QueryShapeTemplate: shape(`SELECT * FROM users
				WHERE created_at >= datetime('now', '-$1 days')
				ORDER BY created_at DESC
				LIMIT 100`),
			DatabaseKind:    models.DatabaseSQL,
			ApplicableScope: []string{"users"},
		},
		{
			Pattern:     "usuarios que tienen empresa",
			Description: "Find users that own a business",
			QueryShapeTemplate: shape(`SELECT u.* FROM users u
				INNER JOIN businesses b ON u.id = b.owner_id
				WHERE u.is_business = TRUE
				LIMIT 100`),
			DatabaseKind:    models.DatabaseSQL,
			ApplicableScope: []string{"users", "businesses"},
		},
		{
			Pattern:     "busca negocios en {value}",
			Description: "Find businesses by location",
			QueryShapeTemplate: shape(`SELECT * FROM businesses
				WHERE address_city LIKE '%$1%' OR address_province LIKE '%$1%'
				LIMIT 100`),
			DatabaseKind:    models.DatabaseSQL,
			ApplicableScope: []string{"businesses"},
		},
		{
			Pattern:      "muestra todos los documentos de {table}",
			Description:  "List the documents of a collection",
			Generator:    GeneratorMongoFindAll,
			DatabaseKind: models.DatabaseMongoDB,
		},
	}
}
