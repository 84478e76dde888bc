package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Definition() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echoes the input text back.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"text":   {Type: "string", Description: "Text to echo"},
				"repeat": {Type: "integer"},
			},
			Required: []string{"text"},
		},
	}
}

func (echoTool) Exec(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"echo": args["text"]}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))

	tool, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Definition().Name)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))
	require.Error(t, r.Register(echoTool{}))
}

func TestRegistrySealBlocksRegistration(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	assert.True(t, r.Sealed())
	require.Error(t, r.Register(echoTool{}))
	r.Seal() // idempotent
}

func TestDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(namedTool("zeta")))
	require.NoError(t, r.Register(namedTool("alpha")))
	require.NoError(t, r.Register(namedTool("mid")))

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
}

type stubTool struct{ name string }

func namedTool(name string) Tool { return stubTool{name: name} }

func (s stubTool) Definition() Definition { return Definition{Name: s.name, Description: s.name} }
func (s stubTool) Exec(_ context.Context, _ map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestValidateArgsRequired(t *testing.T) {
	schema := echoTool{}.Definition().InputSchema

	err := ValidateArgs(schema, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"text"`)

	require.NoError(t, ValidateArgs(schema, map[string]any{"text": "hi"}))
}

func TestValidateArgsTypes(t *testing.T) {
	schema := echoTool{}.Definition().InputSchema

	require.Error(t, ValidateArgs(schema, map[string]any{"text": 5}))
	// JSON numbers decode as float64; whole values pass integer checks.
	require.NoError(t, ValidateArgs(schema, map[string]any{"text": "hi", "repeat": float64(3)}))
	require.Error(t, ValidateArgs(schema, map[string]any{"text": "hi", "repeat": 2.5}))
}

func TestValidateArgsUnknownFieldsPass(t *testing.T) {
	schema := echoTool{}.Definition().InputSchema
	require.NoError(t, ValidateArgs(schema, map[string]any{"text": "hi", "extra": true}))
}

func TestValidateArgsNestedKinds(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"tags": {Type: "array", Items: &Property{Type: "string"}},
			"opts": {Type: "object"},
			"on":   {Type: "boolean"},
		},
	}

	require.NoError(t, ValidateArgs(schema, map[string]any{
		"tags": []any{"a", "b"},
		"opts": map[string]any{"k": "v"},
		"on":   true,
	}))
	require.Error(t, ValidateArgs(schema, map[string]any{"tags": "not-a-list"}))
	require.Error(t, ValidateArgs(schema, map[string]any{"on": "yes"}))
}
