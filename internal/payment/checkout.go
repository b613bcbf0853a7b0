package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Session statuses reported by the hosted checkout provider.
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"
)

// Webhook event types the application reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
// It is the sole integrity check protecting transaction transitions from forgery.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SessionMetadata travels with the hosted session and comes back on webhooks.
type SessionMetadata struct {
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`
}

// Session is a hosted checkout session.
type Session struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Status   string          `json:"status"`
	Metadata SessionMetadata `json:"metadata"`
}

// Event is a provider-signed webhook notification.
type Event struct {
	Type    string  `json:"type"`
	Session Session `json:"data"`
}

// ICheckoutProvider defines the interface to the hosted payment processor.
type ICheckoutProvider interface {
	CreateSession(ctx context.Context, amountCents int64, currency string, meta SessionMetadata) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}

// hostedProvider implements ICheckoutProvider over the provider's HTTP API.
type hostedProvider struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	successURL    string
	cancelURL     string
	httpClient    *http.Client
}

// Config carries the provider settings.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// NewHostedProvider creates a checkout provider client.
func NewHostedProvider(cfg Config) ICheckoutProvider {
	return &hostedProvider{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateSession opens a hosted checkout session and returns its redirect URL.
func (p *hostedProvider) CreateSession(ctx context.Context, amountCents int64, currency string, meta SessionMetadata) (*Session, error) {
	form := url.Values{
		"amount":               {strconv.FormatInt(amountCents, 10)},
		"currency":             {currency},
		"success_url":          {p.successURL + "?session_id={CHECKOUT_SESSION_ID}"},
		"cancel_url":           {p.cancelURL},
		"metadata[listingId]":  {meta.ListingID},
		"metadata[buyerId]":    {meta.BuyerID},
		"metadata[sellerId]":   {meta.SellerID},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.doSession(req)
}

// GetSession retrieves the current state of a hosted session.
func (p *hostedProvider) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session fetch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.doSession(req)
}

func (p *hostedProvider) doSession(req *http.Request) (*Session, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Printf("Error calling payment provider: %v", err)
		return nil, fmt.Errorf("failed to contact payment provider")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("Payment provider returned non-OK status: %d - Body: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse payment provider response: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("payment provider response is missing a session id")
	}
	return &session, nil
}

// VerifyWebhook checks a provider signature header of the form
// "t=<unix>,v1=<hex hmac>" where the HMAC-SHA256 is computed over
// "<unix>.<payload>" with the shared webhook secret. On success the decoded
// event is returned; any failure yields ErrInvalidSignature.
func (p *hostedProvider) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	var timestamp, signature string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signature = kv[1]
		}
	}
	if timestamp == "" || signature == "" {
		return nil, ErrInvalidSignature
	}

	expected := ComputeSignature(p.webhookSecret, timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return &event, nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<timestamp>.<payload>".
// Exposed so tests and the integration harness can forge valid headers.
func ComputeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
