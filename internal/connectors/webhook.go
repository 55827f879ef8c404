package connectors

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/tools"
)

const webhookSignatureHeader = "X-Arbor-Signature"

// WebhookConnector delivers JSON notifications to a configured endpoint,
// signing each payload with an HMAC-SHA256 shared secret.
type WebhookConnector struct {
	client   *http.Client
	endpoint string
	secret   []byte
	logger   *logger.Logger
}

var _ Connector = (*WebhookConnector)(nil)

// NewWebhookConnector creates the webhook connector.
func NewWebhookConnector(log *logger.Logger) *WebhookConnector {
	return &WebhookConnector{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.WithFields(zap.String("connector", "webhook")),
	}
}

func (c *WebhookConnector) Metadata() platform.ConnectorMetadata {
	return platform.ConnectorMetadata{
		Slug:           "webhook",
		Name:           "Webhook",
		Description:    "Delivers signed JSON notifications to a configured endpoint.",
		Version:        "1.0.0",
		Category:       "notifications",
		AuthType:       platform.AuthAPIKey,
		TimeoutSeconds: 30,
		ConfigSchema: []platform.ParamSpec{
			{Name: "endpoint", Type: platform.TypeString, Required: true, Description: "Delivery URL."},
			{Name: "secret", Type: platform.TypeString, Description: "HMAC-SHA256 signing secret."},
		},
		Actions: []platform.ActionSpec{
			{
				Name:        "notify",
				Description: "POST an event payload to the endpoint.",
				InputSchema: []platform.ParamSpec{
					{Name: "event", Type: platform.TypeString, Required: true, Description: "Event name."},
					{Name: "payload", Type: platform.TypeObject, Description: "Event payload."},
				},
				OutputSchema: []platform.ParamSpec{
					{Name: "status", Type: platform.TypeInteger, Required: true},
				},
			},
		},
	}
}

// Connect stores the endpoint and signing secret.
func (c *WebhookConnector) Connect(_ context.Context, config map[string]any) error {
	endpoint, ok := tools.StringParam(config, "endpoint")
	if !ok || endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("endpoint must be an absolute http(s) URL")
	}
	c.endpoint = endpoint

	if secret, ok := tools.StringParam(config, "secret"); ok {
		c.secret = []byte(secret)
	}
	return nil
}

func (c *WebhookConnector) Execute(ctx context.Context, action string, params map[string]any) (*platform.ConnectorResult, error) {
	if action != "notify" {
		return platform.ConnectorFail(platform.ErrInvalidAction, action), nil
	}
	if c.endpoint == "" {
		return platform.ConnectorFail(platform.ErrNotConnected, "webhook endpoint not configured"), nil
	}

	event, _ := tools.StringParam(params, "event")
	body, err := json.Marshal(map[string]any{
		"event":     event,
		"payload":   params["payload"],
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return platform.ConnectorFail(platform.ErrInvalidParams, err.Error()), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		req.Header.Set(webhookSignatureHeader, c.sign(body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return platform.ConnectorFail(platform.ErrExternalAPI, err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return platform.ConnectorFail(platform.ErrExternalAPI,
			fmt.Sprintf("webhook endpoint returned %d", resp.StatusCode)), nil
	}
	return platform.ConnectorOK(map[string]any{"status": resp.StatusCode}), nil
}

func (c *WebhookConnector) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Disconnect drops idle connections and forgets the endpoint.
func (c *WebhookConnector) Disconnect(context.Context) {
	c.client.CloseIdleConnections()
	c.endpoint = ""
	c.secret = nil
}

// Health reports whether an endpoint is configured.
func (c *WebhookConnector) Health(context.Context) bool { return c.endpoint != "" }
