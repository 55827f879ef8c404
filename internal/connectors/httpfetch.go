package connectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/tools"
)

const (
	fetchDefaultTimeout = 30 * time.Second
	fetchMaxBodyBytes   = 4 << 20 // 4MB
)

// HTTPFetchConnector fetches URLs over HTTP(S) with a bounded timeout. Only
// http and https schemes are allowed; an optional host allowlist narrows the
// reachable surface further.
type HTTPFetchConnector struct {
	client       *http.Client
	allowedHosts map[string]bool
	logger       *logger.Logger
}

var _ Connector = (*HTTPFetchConnector)(nil)

// NewHTTPFetchConnector creates the http-fetch connector.
func NewHTTPFetchConnector(log *logger.Logger) *HTTPFetchConnector {
	return &HTTPFetchConnector{
		client: &http.Client{Timeout: fetchDefaultTimeout},
		logger: log.WithFields(zap.String("connector", "http-fetch")),
	}
}

func (c *HTTPFetchConnector) Metadata() platform.ConnectorMetadata {
	urlParam := platform.ParamSpec{
		Name: "url", Type: platform.TypeString, Required: true,
		Description: "Absolute http(s) URL.",
	}
	headersParam := platform.ParamSpec{
		Name: "headers", Type: platform.TypeObject,
		Description: "Request headers as a string map.",
	}
	return platform.ConnectorMetadata{
		Slug:           "http-fetch",
		Name:           "HTTP Fetch",
		Description:    "Fetches web resources over HTTP with a bounded timeout.",
		Version:        "1.0.0",
		Category:       "web",
		AuthType:       platform.AuthNone,
		TimeoutSeconds: int(fetchDefaultTimeout / time.Second),
		ConfigSchema: []platform.ParamSpec{
			{Name: "allowed_hosts", Type: platform.TypeArray, Description: "Optional host allowlist."},
			{Name: "timeout_seconds", Type: platform.TypeInteger, Description: "Per-request timeout."},
		},
		Actions: []platform.ActionSpec{
			{
				Name:        "get",
				Description: "HTTP GET returning the response body as text.",
				InputSchema: []platform.ParamSpec{urlParam, headersParam},
				OutputSchema: []platform.ParamSpec{
					{Name: "status", Type: platform.TypeInteger, Required: true},
					{Name: "body", Type: platform.TypeString, Required: true},
				},
			},
			{
				Name:        "post",
				Description: "HTTP POST with a text body.",
				InputSchema: []platform.ParamSpec{
					urlParam,
					headersParam,
					{Name: "body", Type: platform.TypeString, Default: ""},
					{Name: "content_type", Type: platform.TypeString, Default: "application/json"},
				},
				OutputSchema: []platform.ParamSpec{
					{Name: "status", Type: platform.TypeInteger, Required: true},
					{Name: "body", Type: platform.TypeString, Required: true},
				},
			},
		},
	}
}

// Connect applies the optional host allowlist and timeout.
func (c *HTTPFetchConnector) Connect(_ context.Context, config map[string]any) error {
	if hosts, ok := config["allowed_hosts"]; ok {
		allowed := make(map[string]bool)
		switch list := hosts.(type) {
		case []string:
			for _, h := range list {
				allowed[strings.ToLower(h)] = true
			}
		case []any:
			for _, h := range list {
				s, ok := h.(string)
				if !ok {
					return fmt.Errorf("allowed_hosts entries must be strings")
				}
				allowed[strings.ToLower(s)] = true
			}
		default:
			return fmt.Errorf("allowed_hosts must be an array of strings")
		}
		c.allowedHosts = allowed
	}
	if secs, ok := tools.IntParam(config, "timeout_seconds"); ok && secs > 0 {
		c.client.Timeout = time.Duration(secs) * time.Second
	}
	return nil
}

func (c *HTTPFetchConnector) Execute(ctx context.Context, action string, params map[string]any) (*platform.ConnectorResult, error) {
	rawURL, _ := tools.StringParam(params, "url")
	target, err := c.checkURL(rawURL)
	if err != nil {
		return platform.ConnectorFail(platform.ErrInvalidParams, err.Error()), nil
	}

	var req *http.Request
	switch action {
	case "get":
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	case "post":
		body, _ := tools.StringParam(params, "body")
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(body))
		if err == nil {
			contentType, _ := tools.StringParam(params, "content_type")
			req.Header.Set("Content-Type", contentType)
		}
	default:
		// Unreachable: the registry validates actions against metadata.
		return platform.ConnectorFail(platform.ErrInvalidAction, action), nil
	}
	if err != nil {
		return platform.ConnectorFail(platform.ErrInvalidParams, err.Error()), nil
	}

	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return platform.ConnectorFail(platform.ErrExternalAPI, err.Error()), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes))
	if err != nil {
		return platform.ConnectorFail(platform.ErrExternalAPI, err.Error()), nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return platform.ConnectorFail(platform.ErrRateLimited,
			fmt.Sprintf("rate limited by %s", target.Host)), nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return platform.ConnectorFail(platform.ErrAuthFailed,
			fmt.Sprintf("%s returned %d", target.Host, resp.StatusCode)), nil
	}

	return platform.ConnectorOK(map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}), nil
}

func (c *HTTPFetchConnector) checkURL(rawURL string) (*url.URL, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("scheme %q is not allowed", target.Scheme)
	}
	if len(c.allowedHosts) > 0 && !c.allowedHosts[strings.ToLower(target.Hostname())] {
		return nil, fmt.Errorf("host %q is not in the allowlist", target.Hostname())
	}
	return target, nil
}

// Disconnect drops idle connections.
func (c *HTTPFetchConnector) Disconnect(context.Context) {
	c.client.CloseIdleConnections()
}

// Health reports true; the connector has no persistent upstream session.
func (c *HTTPFetchConnector) Health(context.Context) bool { return true }
