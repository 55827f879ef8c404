package tools

import (
	"context"
	"encoding/json"

	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/platform/jsonx"
)

// JSONExtractTool pulls the best-effort JSON value out of free-form text,
// typically an LLM reply. Extraction failure is reported as a result, not an
// error, so agents can treat it as non-fatal.
type JSONExtractTool struct{}

func (t *JSONExtractTool) Metadata() platform.ToolMetadata {
	return platform.ToolMetadata{
		Slug:        "json-extract",
		Name:        "JSON Extract",
		Description: "Extracts a JSON value from free-form text (fenced blocks, truncated objects, embedded objects).",
		Version:     "1.0.0",
		Category:    "text",
		Mode:        platform.ExecSync,
		InputSchema: []platform.ParamSpec{
			{Name: "text", Type: platform.TypeString, Required: true, Description: "Text possibly containing JSON."},
		},
		OutputSchema: []platform.ParamSpec{
			{Name: "found", Type: platform.TypeBoolean, Required: true},
			{Name: "value", Type: platform.TypeObject},
			{Name: "raw", Type: platform.TypeString},
		},
	}
}

func (t *JSONExtractTool) Execute(_ context.Context, params map[string]any, _ Context) (*platform.ToolResult, error) {
	text, _ := StringParam(params, "text")

	raw, err := jsonx.ExtractRaw(text)
	if err != nil {
		return platform.ToolOK(map[string]any{"found": false}), nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return platform.ToolOK(map[string]any{"found": false}), nil
	}

	return platform.ToolOK(map[string]any{
		"found": true,
		"value": value,
		"raw":   raw,
	}), nil
}
