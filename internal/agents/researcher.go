package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arborhq/arbor/internal/platform"
)

// researcherBodyLimit caps how much fetched content a single turn returns.
const researcherBodyLimit = 8_000

// researcherChunkSize is the streaming granularity for fetched content.
const researcherChunkSize = 512

// ResearcherAgent fetches a URL named in the user's message through the
// http-fetch connector and returns its content, streaming it when asked.
type ResearcherAgent struct{}

var (
	_ Agent    = (*ResearcherAgent)(nil)
	_ Streamer = (*ResearcherAgent)(nil)
)

func (a *ResearcherAgent) Manifest() platform.AgentManifest {
	return platform.AgentManifest{
		Slug:               "researcher",
		Name:               "Researcher",
		Version:            "1.0.0",
		Description:        "Fetches a referenced web page and reports its content.",
		Category:           "research",
		RequiredConnectors: []string{"http-fetch"},
		Capabilities:       []string{platform.CapabilityStreaming},
	}
}

func (a *ResearcherAgent) HandleTurn(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error) {
	body, url, err := a.fetch(ctx, msg, tc)
	if err != nil {
		return nil, err
	}
	return &platform.AgentResponse{
		Content:  body,
		Metadata: map[string]any{"source_url": url},
	}, nil
}

func (a *ResearcherAgent) HandleTurnStream(ctx context.Context, msg *platform.UserMessage, tc *Context, emit func(platform.ResponseChunk)) error {
	body, url, err := a.fetch(ctx, msg, tc)
	if err != nil {
		return err
	}

	tc.SetProgress(50, "fetched "+url)
	for len(body) > 0 {
		n := researcherChunkSize
		if n > len(body) {
			n = len(body)
		}
		emit(platform.ResponseChunk{Content: body[:n]})
		body = body[n:]
	}
	emit(platform.ResponseChunk{
		IsFinal:  true,
		Metadata: map[string]any{"source_url": url},
	})
	return nil
}

func (a *ResearcherAgent) fetch(ctx context.Context, msg *platform.UserMessage, tc *Context) (body, url string, err error) {
	url = firstURL(msg.Content)
	if url == "" {
		return "", "", errors.New("no http(s) URL found in message")
	}

	result := tc.Connectors.Execute(ctx, "http-fetch", "get", map[string]any{"url": url})
	if !result.Success {
		return "", "", fmt.Errorf("fetch %s: %s", url, result.Error)
	}

	body, _ = result.Output["body"].(string)
	if len(body) > researcherBodyLimit {
		body = body[:researcherBodyLimit]
	}
	return body, url, nil
}

// firstURL returns the first http(s) URL token in the text.
func firstURL(text string) string {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return strings.TrimRight(field, ".,;)")
		}
	}
	return ""
}
