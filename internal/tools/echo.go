package tools

import (
	"context"

	"github.com/arborhq/arbor/internal/platform"
)

// EchoTool returns its input unchanged. Useful for wiring checks and tests.
type EchoTool struct{}

func (t *EchoTool) Metadata() platform.ToolMetadata {
	return platform.ToolMetadata{
		Slug:        "echo",
		Name:        "Echo",
		Description: "Returns the given text unchanged.",
		Version:     "1.0.0",
		Category:    "utility",
		Mode:        platform.ExecSync,
		InputSchema: []platform.ParamSpec{
			{Name: "text", Type: platform.TypeString, Required: true, Description: "Text to echo back."},
		},
		OutputSchema: []platform.ParamSpec{
			{Name: "text", Type: platform.TypeString, Required: true},
		},
	}
}

func (t *EchoTool) Execute(_ context.Context, params map[string]any, _ Context) (*platform.ToolResult, error) {
	text, _ := StringParam(params, "text")
	return platform.ToolOK(map[string]any{"text": text}), nil
}
