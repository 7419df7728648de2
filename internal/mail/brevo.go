// Package mail sends audit reports through the Brevo transactional email API.
package mail

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/report"
)

// DefaultAPIURL is the Brevo send endpoint.
const DefaultAPIURL = "https://api.brevo.com/v3/smtp/email"

const (
	defaultTimeout     = 30 * time.Second
	topRecommendations = 3
)

//go:embed email.html.tmpl
var emailTemplate string

var tmpl = template.Must(template.New("email").Funcs(template.FuncMap{
	"color": func(score int) template.CSS {
		switch {
		case score >= 80:
			return "#10B981"
		case score >= 60:
			return "#F59E0B"
		default:
			return "#EF4444"
		}
	},
}).Parse(emailTemplate))

// Config configures the Brevo client.
type Config struct {
	APIKey      string
	APIURL      string
	SenderEmail string
	SenderName  string
	SiteURL     string
	Timeout     time.Duration
}

// Attachment is a file attached to a message.
type Attachment struct {
	Name    string
	Content []byte
}

// Message is one outgoing email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Client sends email through Brevo.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mail.api_key is required")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, errors.New("mail.sender_email is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.Named("mail"),
	}, nil
}

type party struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type attachmentPayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type sendPayload struct {
	Sender      party               `json:"sender"`
	To          []party             `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
	Attachment  []attachmentPayload `json:"attachment,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Send delivers msg and returns the provider message id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	id, err := c.send(ctx, msg)
	if err != nil {
		metrics.ObserveEmail("failed")
		c.logger.Error("email send failed", zap.Error(err))
		return "", err
	}
	metrics.ObserveEmail("sent")
	c.logger.Info("email sent", zap.String("message_id", id))
	return id, nil
}

func (c *Client) send(ctx context.Context, msg Message) (string, error) {
	payload := sendPayload{
		Sender:      party{Email: c.cfg.SenderEmail, Name: c.cfg.SenderName},
		To:          []party{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}
	for _, a := range msg.Attachments {
		payload.Attachment = append(payload.Attachment, attachmentPayload{
			Name:    a.Name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal email payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new email request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post email: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close email response body", zap.Error(cerr))
		}
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read email response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("brevo api error (%d %s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("brevo api error: %s", resp.Status)
	}
	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode email response: %w", err)
	}
	if out.MessageID == "" {
		out.MessageID = "unknown"
	}
	return out.MessageID, nil
}

type emailView struct {
	Domain             string
	Result             audit.Result
	TopRecommendations []string
	HasPDF             bool
	SiteURL            string
	SenderName         string
}

// SendAuditReport emails the audit summary with the PDF attached when pdf is non-empty.
func (c *Client) SendAuditReport(
	ctx context.Context,
	to, domain string,
	result audit.Result,
	pdf []byte,
	at time.Time,
) (string, error) {
	recs := result.Recommendations
	if len(recs) > topRecommendations {
		recs = recs[:topRecommendations]
	}
	var html bytes.Buffer
	err := tmpl.Execute(&html, emailView{
		Domain:             domain,
		Result:             result,
		TopRecommendations: recs,
		HasPDF:             len(pdf) > 0,
		SiteURL:            c.cfg.SiteURL,
		SenderName:         c.cfg.SenderName,
	})
	if err != nil {
		return "", fmt.Errorf("render email template: %w", err)
	}
	msg := Message{
		To:      to,
		Subject: fmt.Sprintf("Your SEO audit for %s is ready", domain),
		HTML:    html.String(),
	}
	if len(pdf) > 0 {
		msg.Attachments = []Attachment{{Name: report.AttachmentName(domain, at), Content: pdf}}
	}
	return c.Send(ctx, msg)
}
