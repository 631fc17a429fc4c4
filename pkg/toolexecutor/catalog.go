package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrToolNotFound is returned when a name does not resolve to a registered tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolExists is returned when registering a name twice.
	ErrToolExists = errors.New("tool already registered")
	// ErrInvalidArguments is returned when arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
	// ErrToolExecution marks a capability that raised or timed out.
	ErrToolExecution = errors.New("tool execution failed")
)

// ToolOutcome is what a capability reports for one invocation.
type ToolOutcome struct {
	Succeeded bool
	Output    interface{}
	Error     string
}

// Success wraps output in a successful outcome.
func Success(output interface{}) ToolOutcome {
	return ToolOutcome{Succeeded: true, Output: output}
}

// Failure builds a failed outcome.
func Failure(format string, args ...interface{}) ToolOutcome {
	return ToolOutcome{Error: fmt.Sprintf(format, args...)}
}

// Capability executes a tool. Ordinary failures belong in the outcome; a returned
// error or a panic is treated as a fault of the capability.
type Capability interface {
	Invoke(ctx context.Context, args map[string]interface{}) (ToolOutcome, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, args map[string]interface{}) (ToolOutcome, error)

// Invoke implements Capability.
func (f CapabilityFunc) Invoke(ctx context.Context, args map[string]interface{}) (ToolOutcome, error) {
	return f(ctx, args)
}

// ToolHandler is the plain form of a tool: a returned error is a failed outcome.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Invoke implements Capability.
func (h ToolHandler) Invoke(ctx context.Context, args map[string]interface{}) (ToolOutcome, error) {
	out, err := h(ctx, args)
	if err != nil {
		return ToolOutcome{Error: err.Error()}, nil
	}
	return Success(out), nil
}

// ToolParameter describes one argument.
type ToolParameter struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"` // string, number, integer, boolean, array, object
	Description string                 `json:"description"`
	Required    bool                   `json:"required"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
}

// ToolDefinition declares a tool. Exactly one of Capability or Handler must be set.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
	Capability  Capability
	Handler     ToolHandler
}

// ToolSchema is the provider-facing description of a tool.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type catalogEntry struct {
	def        ToolDefinition
	capability Capability
	schemaDoc  map[string]interface{}
	schema     *gojsonschema.Schema
}

// Catalog resolves tool names to capabilities. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*catalogEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]*catalogEntry)}
}

// Register validates def, compiles its parameter schema and adds it.
func (c *Catalog) Register(def ToolDefinition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	doc := schemaDocument(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	capability := def.Capability
	if capability == nil {
		capability = def.Handler
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, def.Name)
	}
	c.tools[def.Name] = &catalogEntry{def: def, capability: capability, schemaDoc: doc, schema: schema}

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool if present.
func (c *Catalog) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tools, name)
}

func (c *Catalog) entry(name string) (*catalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e, nil
}

// Resolve returns the capability registered under name.
func (c *Catalog) Resolve(name string) (Capability, error) {
	e, err := c.entry(name)
	if err != nil {
		return nil, err
	}
	return e.capability, nil
}

// Validate checks args against the tool's parameter schema.
func (c *Catalog) Validate(name string, args map[string]interface{}) error {
	e, err := c.entry(name)
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
	}
	return nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, err := c.entry(name)
	return err == nil
}

// Names returns registered tool names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Schemas returns provider-facing schemas in name order.
func (c *Catalog) Schemas() []ToolSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	schemas := make([]ToolSchema, 0, len(c.tools))
	for _, e := range c.tools {
		schemas = append(schemas, ToolSchema{
			Name:        e.def.Name,
			Description: e.def.Description,
			Parameters:  e.schemaDoc,
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Subset builds a catalog holding only names. Unknown names fail the whole call.
func (c *Catalog) Subset(names []string) (*Catalog, error) {
	sub := NewCatalog()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	for _, name := range names {
		e, ok := c.tools[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		sub.tools[name] = e
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, strings.Join(missing, ", "))
	}
	return sub, nil
}

func validateDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return errors.New("name is required")
	}
	if strings.ContainsAny(def.Name, " \t\n") {
		return fmt.Errorf("name %q must not contain whitespace", def.Name)
	}
	if def.Description == "" {
		return errors.New("description is required")
	}
	if (def.Capability == nil) == (def.Handler == nil) {
		return errors.New("exactly one of capability or handler is required")
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Name == "" {
			return errors.New("parameter name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case "string", "number", "integer", "boolean", "array", "object":
		default:
			return fmt.Errorf("parameter %s has invalid type %q", p.Name, p.Type)
		}
	}
	return nil
}

func schemaDocument(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := make([]interface{}, 0)

	for _, p := range def.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == "array" {
			items := p.Items
			if items == nil {
				items = map[string]interface{}{}
			}
			prop["items"] = items
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}
