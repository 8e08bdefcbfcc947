// Package payment wraps the third-party payment processor: checkout session
// creation and verification of its asynchronous completion webhooks.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"modelpixie/internal/domain"
)

// CreditPack maps a purchasable bundle to its price.
type CreditPack struct {
	Credits     int
	AmountCents int64
}

// Packs that can be bought through checkout.
var Packs = map[string]CreditPack{
	"starter": {Credits: 5, AmountCents: 499},
	"maker":   {Credits: 20, AmountCents: 1499},
	"studio":  {Credits: 60, AmountCents: 3499},
}

// Session is a created checkout session.
type Session struct {
	ID  string
	URL string
}

// Checkout is the contract for the payment processor.
type Checkout interface {
	CreateSession(ctx context.Context, userID, packID string, pack CreditPack, successURL, cancelURL string) (Session, error)
}

// Options configures the payment client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client implements Checkout against a Stripe-style form-encoded API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a payment client.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.stripe.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: client, baseURL: base, token: strings.TrimSpace(opts.APIKey)}
}

type sessionResponse struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a checkout session for one credit pack.
func (c *Client) CreateSession(ctx context.Context, userID, packID string, pack CreditPack, successURL, cancelURL string) (Session, error) {
	if c.token == "" {
		return Session{}, fmt.Errorf("payment provider: %w", domain.ErrConfigMissing)
	}
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("client_reference_id", userID)
	form.Set("metadata[user_id]", userID)
	form.Set("metadata[credits]", strconv.Itoa(pack.Credits))
	form.Set("metadata[pack]", packID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(pack.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("%d ModelPixie credits", pack.Credits))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return Session{}, fmt.Errorf("payment provider: http %d", resp.StatusCode)
		}
		return Session{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error.Message != "" {
			return Session{}, fmt.Errorf("payment provider error: %s", out.Error.Message)
		}
		return Session{}, fmt.Errorf("payment provider: http %d", resp.StatusCode)
	}
	if out.ID == "" || out.URL == "" {
		return Session{}, errors.New("payment provider: incomplete session response")
	}
	return Session{ID: out.ID, URL: out.URL}, nil
}

// VerifySignature checks the webhook signature header against the shared
// secret. The header carries `t=<unix>,v1=<hex hmac>` over `<t>.<payload>`.
func VerifySignature(payload []byte, header, secret string) error {
	if secret == "" {
		return errors.New("webhook secret not configured")
	}
	var timestamp, signature string
	for _, part := range strings.Split(header, ",") {
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
		return errors.New("malformed signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// SignPayload produces a signature header for a payload, used by tests and
// the development stub.
func SignPayload(payload []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

var _ Checkout = (*Client)(nil)
