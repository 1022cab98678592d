package streams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry holds compiled payload schemas keyed by event type and version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

func schemaKey(eventType, version string) string {
	return eventType + "@" + version
}

// Register compiles schemaBytes and stores it for eventType/version,
// replacing any previous registration.
func (r *SchemaRegistry) Register(eventType, version string, schemaBytes []byte) error {
	if eventType == "" || version == "" {
		return fmt.Errorf("event type and version must be provided")
	}
	if len(schemaBytes) == 0 {
		return fmt.Errorf("schema for %s is empty", schemaKey(eventType, version))
	}

	url := "mem://" + schemaKey(eventType, version) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	r.mu.Lock()
	r.schemas[schemaKey(eventType, version)] = compiled
	r.mu.Unlock()
	return nil
}

// Has reports whether a schema is registered for eventType/version.
func (r *SchemaRegistry) Has(eventType, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[schemaKey(eventType, version)]
	return ok
}

// Validate checks payload against the schema registered for eventType/version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[schemaKey(eventType, version)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for %s", schemaKey(eventType, version))
	}
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return nil
}
