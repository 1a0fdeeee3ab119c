// internal/bridge/genai.go
package bridge

import (
	"context"

	"google.golang.org/genai"
)

var genaiTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
}

func (s *Schema) genai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiTypes[s.Type],
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       s.Items.genai(),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, p := range s.Properties {
			out.Properties[k] = p.genai()
		}
	}
	return out
}

// FunctionDeclarations describes every tool for Gemini function calling.
func (b *Bridge) FunctionDeclarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(b.order))
	for _, t := range b.Tools() {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters.genai(),
		})
	}
	return decls
}

// GenaiTool bundles the declarations for a GenerateContentConfig.
func (b *Bridge) GenaiTool() *genai.Tool {
	return &genai.Tool{FunctionDeclarations: b.FunctionDeclarations()}
}

// HandleFunctionCalls runs the model's function calls in order and returns
// one function response part per call, ready to append to the conversation.
func (b *Bridge) HandleFunctionCalls(ctx context.Context, calls []*genai.FunctionCall) []*genai.Part {
	parts := make([]*genai.Part, 0, len(calls))
	for _, fc := range calls {
		if fc == nil {
			continue
		}
		args, err := json.Marshal(fc.Args)
		var resp map[string]any
		if err != nil {
			resp = toMap(ErrorPayload{Error: "invalid arguments: " + err.Error()})
		} else {
			resp = toMap(b.Call(ctx, fc.Name, args))
		}
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: resp,
		}})
	}
	return parts
}

// toMap round-trips a tool result into the object shape FunctionResponse
// needs. Results that are not objects are wrapped under "output".
func toMap(v interface{}) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil && m != nil {
		return m
	}
	var out interface{}
	_ = json.Unmarshal(raw, &out)
	return map[string]any{"output": out}
}
