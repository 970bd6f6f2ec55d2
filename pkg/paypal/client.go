package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davidecorsi/beatstore-backend/pkg/config"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
)

const (
	sandboxEnv = "sandbox"
	liveEnv    = "live"

	verificationSuccess = "SUCCESS"

	responseBodyReadLimit int64 = 1 << 20
)

var (
	errCredentialsRequired = errors.New("paypal client id and secret are required")
	errWebhookIDRequired   = errors.New("paypal webhook id is required")
	errInvalidPayPalEnv    = fmt.Errorf("paypal environment must be %q or %q", sandboxEnv, liveEnv)
	errLoggerRequired      = errors.New("paypal logger is required")

	// ErrOrderNotFound marks an explicit provider-side 404 on order lookup,
	// as opposed to a transport or server error. The distinction drives the
	// webhook-simulator fallback during event resolution.
	ErrOrderNotFound = errors.New("paypal: order not found")
)

var baseURLs = map[string]string{
	sandboxEnv: "https://api-m.sandbox.paypal.com",
	liveEnv:    "https://api-m.paypal.com",
}

// Client wraps the PayPal REST endpoints the settlement path depends on:
// oauth token issue, webhook signature verification, and order lookup.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	clientID    string
	secret      string
	webhookID   string
	environment string
	logger      *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient initializes the PayPal wrapper and validates the credentials.
func NewClient(cfg config.PayPalConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env := cfg.Environment()
	base, ok := baseURLs[env]
	if !ok {
		return nil, errInvalidPayPalEnv
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errCredentialsRequired
	}
	webhookID := strings.TrimSpace(cfg.WebhookID)
	if webhookID == "" {
		return nil, errWebhookIDRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     base,
		clientID:    clientID,
		secret:      secret,
		webhookID:   webhookID,
		environment: env,
		logger:      logg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Environment reports the normalized PayPal environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build oauth request")
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal oauth call")
	}
	defer drainBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paypal oauth status %d", resp.StatusCode))
	}

	var token tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(&token); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode oauth response")
	}
	if token.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "paypal oauth returned empty token")
	}
	return token.AccessToken, nil
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhookSignature asks PayPal whether the delivery headers match the
// raw body. The result is a boolean oracle: true only on an explicit SUCCESS.
func (c *Client) VerifyWebhookSignature(ctx context.Context, body json.RawMessage, headers http.Header) (bool, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return false, err
	}

	payload := verifyRequest{
		AuthAlgo:         headers.Get("Paypal-Auth-Algo"),
		CertURL:          headers.Get("Paypal-Cert-Url"),
		TransmissionID:   headers.Get("Paypal-Transmission-Id"),
		TransmissionSig:  headers.Get("Paypal-Transmission-Sig"),
		TransmissionTime: headers.Get("Paypal-Transmission-Time"),
		WebhookID:        c.webhookID,
		WebhookEvent:     body,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode verify request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(encoded))
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build verify request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal verify call")
	}
	defer drainBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return false, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paypal verify status %d", resp.StatusCode))
	}

	var verdict verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(&verdict); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode verify response")
	}

	c.log(ctx, "verify_webhook_signature", map[string]any{"status": verdict.VerificationStatus})
	return verdict.VerificationStatus == verificationSuccess, nil
}

type orderResponse struct {
	ID            string         `json:"id"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// OrderCustomID fetches the originating checkout order and returns the
// correlation token from its first purchase unit. An explicit provider 404
// returns ErrOrderNotFound; every other failure is a lookup error.
func (c *Client) OrderCustomID(ctx context.Context, orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/checkout/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build order lookup request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal order lookup")
	}
	defer drainBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.log(ctx, "order_lookup", map[string]any{"order_id": orderID, "status": "not_found"})
		return "", ErrOrderNotFound
	case resp.StatusCode != http.StatusOK:
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paypal order lookup status %d", resp.StatusCode))
	}

	var order orderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(&order); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode order response")
	}

	for _, unit := range order.PurchaseUnits {
		if unit.CustomID != "" {
			return unit.CustomID, nil
		}
		if unit.ReferenceID != "" {
			return unit.ReferenceID, nil
		}
	}
	return "", nil
}

func (c *Client) log(ctx context.Context, operation string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	entry := map[string]any{"provider": "paypal", "operation": operation}
	for k, v := range fields {
		entry[k] = v
	}
	c.logger.Info(c.logger.WithFields(ctx, entry), "paypal.call")
}

func drainBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, responseBodyReadLimit))
	_ = body.Close()
}
