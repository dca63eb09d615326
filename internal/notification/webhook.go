package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/saltyorg/quicksell/internal/httpclient"
)

// WebhookConfig holds generic webhook configuration
type WebhookConfig struct {
	URL         string
	Method      string            // HTTP method (POST, PUT, etc.)
	Body        string            // Template for request body
	Headers     map[string]string // Custom headers
	ContentType string            // Content-Type header
	Timeout     time.Duration
}

// WebhookProvider delivers events to an HTTP endpoint, typically a mail or
// SMS relay that knows how to reach the recipient.
type WebhookProvider struct {
	config WebhookConfig
	tmpl   *template.Template
	client *http.Client
}

// NewWebhookProvider creates a webhook provider. The body template is parsed
// up front so a broken template fails at startup.
func NewWebhookProvider(config WebhookConfig) (*WebhookProvider, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook URL not configured")
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.ContentType == "" {
		config.ContentType = "application/json"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	body := config.Body
	if body == "" {
		body = DefaultWebhookBody()
	}
	tmpl, err := template.New("webhook").Funcs(template.FuncMap{"json": jsonString}).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("invalid body template: %w", err)
	}

	return &WebhookProvider{
		config: config,
		tmpl:   tmpl,
		client: httpclient.NewTraceClient("webhook", config.Timeout),
	}, nil
}

// Name returns the provider name
func (w *WebhookProvider) Name() string {
	return "webhook"
}

// webhookTemplateData holds the data available for template rendering
type webhookTemplateData struct {
	Type       string
	Recipient  string
	Title      string
	Message    string
	Timestamp  string
	Fields     map[string]string
	FieldsJSON string
}

// Send sends a notification via the webhook
func (w *WebhookProvider) Send(ctx context.Context, event Event) error {
	body, err := w.renderBody(event)
	if err != nil {
		return fmt.Errorf("failed to render body template: %w", err)
	}
	return w.sendRequest(ctx, body)
}

// renderBody renders the body template with event data
func (w *WebhookProvider) renderBody(event Event) (string, error) {
	fieldsJSON := []byte("{}")
	if event.Fields != nil {
		b, err := json.Marshal(event.Fields)
		if err != nil {
			return "", err
		}
		fieldsJSON = b
	}

	data := webhookTemplateData{
		Type:       string(event.Type),
		Recipient:  event.Recipient,
		Title:      event.Title,
		Message:    event.Message,
		Timestamp:  event.Timestamp.Format(time.RFC3339),
		Fields:     event.Fields,
		FieldsJSON: string(fieldsJSON),
	}

	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// sendRequest sends the HTTP request to the webhook URL
func (w *WebhookProvider) sendRequest(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", w.config.ContentType)
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	return doRequest(w.client, req)
}

// DefaultWebhookBody returns the default webhook body template
func DefaultWebhookBody() string {
	return `{
  "event": {{json .Type}},
  "recipient": {{json .Recipient}},
  "title": {{json .Title}},
  "message": {{json .Message}},
  "timestamp": {{json .Timestamp}},
  "fields": {{.FieldsJSON}}
}`
}

// jsonString quotes s as a JSON string literal.
func jsonString(s string) (string, error) {
	b, err := json.Marshal(s)
	return string(b), err
}

// ParseWebhookHeaders parses "key:value" pairs separated by newlines or
// semicolons.
func ParseWebhookHeaders(headersStr string) map[string]string {
	headers := make(map[string]string)
	if headersStr == "" {
		return headers
	}

	lines := strings.FieldsFuncSeq(headersStr, func(r rune) bool { return r == '\n' || r == ';' })
	for line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}

	return headers
}
