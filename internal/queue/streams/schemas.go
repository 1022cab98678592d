package streams

import "fmt"

// Event types carried on the article streams.
const (
	EventArticleUpdated = "article.updated"
	EventArticleDeleted = "article.deleted"

	PayloadV1 = "v1"
)

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventArticleUpdated,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["article_id", "title", "content"],
  "properties": {
    "article_id": {"type": "integer"},
    "title": {"type": "string"},
    "content": {"type": "string"},
    "author_id": {"type": "integer"},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventArticleDeleted,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["article_id"],
  "properties": {
    "article_id": {"type": "integer"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns a copy of the built-in schemas.
func BaseDefinitions() []Definition {
	out := make([]Definition, len(baseDefinitions))
	copy(out, baseDefinitions)
	return out
}

// RegisterBaseSchemas loads the built-in article schemas into reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
