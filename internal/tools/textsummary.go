package tools

import (
	"context"
	"fmt"

	"github.com/arborhq/arbor/internal/platform"
)

const summaryPrompt = `Summarize the following text in at most %d sentences. Reply with the summary only.

%s`

// TextSummaryTool produces a short summary of a text through the calling
// agent's LLM handle.
type TextSummaryTool struct{}

func (t *TextSummaryTool) Metadata() platform.ToolMetadata {
	return platform.ToolMetadata{
		Slug:        "text-summary",
		Name:        "Text Summary",
		Description: "Summarizes a text using the agent's language model.",
		Version:     "1.0.0",
		Category:    "text",
		Mode:        platform.ExecSync,
		TimeoutSeconds: 120,
		InputSchema: []platform.ParamSpec{
			{Name: "text", Type: platform.TypeString, Required: true, Description: "Text to summarize."},
			{Name: "max_sentences", Type: platform.TypeInteger, Default: 3, Description: "Upper bound on summary length."},
		},
		OutputSchema: []platform.ParamSpec{
			{Name: "summary", Type: platform.TypeString, Required: true},
		},
	}
}

func (t *TextSummaryTool) Execute(ctx context.Context, params map[string]any, tc Context) (*platform.ToolResult, error) {
	if tc.LLM == nil {
		return platform.ToolFail(platform.ErrNotConnected, "no language model available"), nil
	}

	text, _ := StringParam(params, "text")
	maxSentences, ok := IntParam(params, "max_sentences")
	if !ok || maxSentences <= 0 {
		maxSentences = 3
	}

	summary, err := tc.LLM.Complete(ctx, fmt.Sprintf(summaryPrompt, maxSentences, text))
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	return platform.ToolOK(map[string]any{"summary": summary}), nil
}
