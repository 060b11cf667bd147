package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/LovationAdmin/fleet-api/config"
	"github.com/LovationAdmin/fleet-api/metrics"
	"github.com/LovationAdmin/fleet-api/models"
)

var ErrTransportNotReady = errors.New("email transport not ready")

// relayPaths are the dashboard endpoints whose sends are relayed.
var relayPaths = []string{"/reportes/enviar-email", "/email/test"}

// MatchesRelayPath reports whether url targets one of the email relay endpoints.
func MatchesRelayPath(url string) bool {
	for _, p := range relayPaths {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// EmailTransport delivers a message to the configured recipient.
type EmailTransport interface {
	Name() string
	Send(ctx context.Context, msg models.EmailMessage) error
}

// NewEmailTransport picks the transport named in cfg.Transport.
func NewEmailTransport(cfg config.EmailConfig, client *http.Client) (EmailTransport, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	switch cfg.Transport {
	case "", "resend":
		return &ResendTransport{APIKey: cfg.ResendAPIKey, From: cfg.From, To: cfg.To, Endpoint: resendEndpoint, Client: client}, nil
	case "sendgrid":
		return &SendGridTransport{APIKey: cfg.SendGridAPIKey, From: cfg.From, To: cfg.To, Endpoint: sendGridEndpoint, Client: client}, nil
	case "emailjs":
		return NewEmailJSTransport(cfg, client), nil
	}
	return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
}

// Deliver sends msg through t, logging and counting the outcome.
func Deliver(ctx context.Context, t EmailTransport, msg models.EmailMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if err := t.Send(ctx, msg); err != nil {
		metrics.EmailsSent.WithLabelValues(t.Name(), "failure").Inc()
		log.Printf("❌ Email via %s failed: %v", t.Name(), err)
		return err
	}
	metrics.EmailsSent.WithLabelValues(t.Name(), "success").Inc()
	log.Printf("✅ Email sent successfully via %s", t.Name())
	return nil
}

// ============================================================================
// TEMPLATE
// ============================================================================

// TemplateFields are the named values every transport fills in.
type TemplateFields struct {
	ToEmail   string `json:"to_email"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Date      string `json:"fecha"`
	Vehicles  string `json:"vehiculos"`
	AlertKind string `json:"tipo_alerta"`
}

func templateFields(to string, msg models.EmailMessage) TemplateFields {
	f := TemplateFields{
		ToEmail:   to,
		Subject:   msg.Subject,
		Message:   msg.Content,
		Date:      msg.SentAt.Format("2/1/2006, 15:04:05"),
		Vehicles:  msg.Vehicles,
		AlertKind: msg.Kind,
	}
	if f.Subject == "" {
		f.Subject = "Alerta Sistema Vehicular"
	}
	if f.AlertKind == "" {
		f.AlertKind = "General"
	}
	return f
}

const reportEmailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background-color: #f3f4f6;">
    <table role="presentation" style="width: 100%; border-collapse: collapse;">
        <tr>
            <td style="padding: 30px 0; text-align: center; background: #1e3a5f;">
                <h1 style="margin: 0; color: #ffffff; font-size: 24px;">🚗 Sistema Vehicular</h1>
            </td>
        </tr>
        <tr>
            <td style="padding: 30px 20px;">
                <table role="presentation" style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 12px;">
                    <tr>
                        <td style="padding: 30px;">
                            <h2 style="margin: 0 0 10px 0; color: #1f2937;">{{.Subject}}</h2>
                            <p style="margin: 0 0 20px 0; color: #6b7280; font-size: 13px;">{{.AlertKind}} · {{.Date}}</p>
                            <div style="color: #374151; font-size: 15px; line-height: 1.6; white-space: pre-wrap;">{{.Message}}</div>
                            {{if .Vehicles}}<p style="margin-top: 20px; color: #374151;"><strong>Vehículos:</strong> {{.Vehicles}}</p>{{end}}
                        </td>
                    </tr>
                </table>
            </td>
        </tr>
    </table>
</body>
</html>
`

var reportTmpl = template.Must(template.New("report").Parse(reportEmailTemplate))

func renderReport(f TemplateFields) (string, error) {
	var body bytes.Buffer
	if err := reportTmpl.Execute(&body, f); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return body.String(), nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any, header http.Header) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func apiError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s API returned status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
}

// ============================================================================
// RESEND
// ============================================================================

const resendEndpoint = "https://api.resend.com/emails"

type ResendTransport struct {
	APIKey   string
	From     string
	To       string
	Endpoint string
	Client   *http.Client
}

func (t *ResendTransport) Name() string { return "resend" }

func (t *ResendTransport) Send(ctx context.Context, msg models.EmailMessage) error {
	if t.APIKey == "" {
		return fmt.Errorf("%w: RESEND_API_KEY not set", ErrTransportNotReady)
	}
	if t.To == "" {
		return fmt.Errorf("%w: EMAIL_TO not set", ErrTransportNotReady)
	}

	f := templateFields(t.To, msg)
	html, err := renderReport(f)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"from":    t.From,
		"to":      []string{t.To},
		"subject": f.Subject,
		"html":    html,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := postJSON(ctx, t.Client, t.Endpoint, payload, header)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError("resend", resp)
	}
	return nil
}

// ============================================================================
// SENDGRID
// ============================================================================

const sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

type SendGridTransport struct {
	APIKey   string
	From     string
	To       string
	Endpoint string
	Client   *http.Client
}

func (t *SendGridTransport) Name() string { return "sendgrid" }

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (t *SendGridTransport) Send(ctx context.Context, msg models.EmailMessage) error {
	if t.APIKey == "" {
		return fmt.Errorf("%w: SENDGRID_API_KEY not set", ErrTransportNotReady)
	}
	if t.To == "" {
		return fmt.Errorf("%w: EMAIL_TO not set", ErrTransportNotReady)
	}
	from, err := mail.ParseAddress(t.From)
	if err != nil {
		return fmt.Errorf("invalid FROM_EMAIL %q: %w", t.From, err)
	}

	f := templateFields(t.To, msg)
	html, err := renderReport(f)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []sendGridAddress{{Email: t.To}}},
		},
		"from":    sendGridAddress{Email: from.Address, Name: from.Name},
		"subject": f.Subject,
		"content": []map[string]string{
			{"type": "text/plain", "value": f.Message},
			{"type": "text/html", "value": html},
		},
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := postJSON(ctx, t.Client, t.Endpoint, payload, header)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return apiError("sendgrid", resp)
	}
	return nil
}

// ============================================================================
// EMAILJS
// ============================================================================

const emailJSEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// EmailJSTransport sends through an EmailJS template. The first send runs
// the init step; until it succeeds every send is rejected and the next call
// tries again.
type EmailJSTransport struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string
	To         string
	Endpoint   string
	Client     *http.Client

	// Init prepares the transport. Defaults to checking the credentials.
	Init func(ctx context.Context) error

	mu    sync.Mutex
	ready bool
}

func NewEmailJSTransport(cfg config.EmailConfig, client *http.Client) *EmailJSTransport {
	t := &EmailJSTransport{
		ServiceID:  cfg.EmailJSServiceID,
		TemplateID: cfg.EmailJSTemplateID,
		PublicKey:  cfg.EmailJSPublicKey,
		PrivateKey: cfg.EmailJSPrivateKey,
		To:         cfg.To,
		Endpoint:   emailJSEndpoint,
		Client:     client,
	}
	t.Init = t.checkCredentials
	return t
}

func (t *EmailJSTransport) Name() string { return "emailjs" }

func (t *EmailJSTransport) checkCredentials(ctx context.Context) error {
	var missing []string
	if t.PublicKey == "" {
		missing = append(missing, "EMAILJS_PUBLIC_KEY")
	}
	if t.ServiceID == "" {
		missing = append(missing, "EMAILJS_SERVICE_ID")
	}
	if t.TemplateID == "" {
		missing = append(missing, "EMAILJS_TEMPLATE_ID")
	}
	if t.To == "" {
		missing = append(missing, "EMAIL_TO")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (t *EmailJSTransport) ensureReady(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ready {
		return nil
	}
	if t.Init != nil {
		if err := t.Init(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportNotReady, err)
		}
	}
	t.ready = true
	log.Println("✅ EmailJS transport initialized")
	return nil
}

// Ready reports whether init has succeeded.
func (t *EmailJSTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *EmailJSTransport) Send(ctx context.Context, msg models.EmailMessage) error {
	if err := t.ensureReady(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"service_id":      t.ServiceID,
		"template_id":     t.TemplateID,
		"user_id":         t.PublicKey,
		"template_params": templateFields(t.To, msg),
	}
	if t.PrivateKey != "" {
		payload["accessToken"] = t.PrivateKey
	}

	resp, err := postJSON(ctx, t.Client, t.Endpoint, payload, nil)
	if err != nil {
		return fmt.Errorf("emailjs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError("emailjs", resp)
	}
	return nil
}
