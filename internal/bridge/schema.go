// internal/bridge/schema.go
package bridge

// Schema is the JSON Schema subset tool parameters are described with.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

func object(required []string, props map[string]*Schema) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

func str(desc string) *Schema     { return &Schema{Type: "string", Description: desc} }
func number(desc string) *Schema  { return &Schema{Type: "number", Description: desc} }
func integer(desc string) *Schema { return &Schema{Type: "integer", Description: desc} }
func boolean(desc string) *Schema { return &Schema{Type: "boolean", Description: desc} }

func array(desc string, items *Schema) *Schema {
	return &Schema{Type: "array", Description: desc, Items: items}
}

func enum(desc string, values ...string) *Schema {
	return &Schema{Type: "string", Description: desc, Enum: values}
}
