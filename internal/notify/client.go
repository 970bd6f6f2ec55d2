package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidecorsi/beatstore-backend/pkg/config"
	"github.com/davidecorsi/beatstore-backend/pkg/enums"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
)

const (
	sendMessagePath = "/internal/send_message"
	tokenHeader     = "X-Internal-Token"

	defaultMaxAttempts = 3
	baseBackoff        = time.Second
)

// Request is the delivery payload for the bot gateway.
type Request struct {
	UserID        int64  `json:"user_id" validate:"required"`
	BeatTitle     string `json:"beat_title"`
	BundleID      string `json:"bundle_id,omitempty"`
	OrderType     string `json:"order_type" validate:"required"`
	TransactionID string `json:"transaction_id" validate:"required"`
}

var validate = validator.New()

type gatewayResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Client talks to the bot gateway that delivers purchased files to buyers.
// Delivery is retried with exponential backoff; the business outcome comes
// from the response body status, not the HTTP code.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	log         *logger.Logger
	maxAttempts int
	timeout     time.Duration
}

// Option customizes the client, mainly for tests.
type Option func(*Client)

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at a different gateway address.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewClient validates the bot configuration and builds a gateway client.
func NewClient(cfg config.BotConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.InternalURL) == "" {
		return nil, errors.New("bot internal url is required")
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &Client{
		baseURL:     strings.TrimRight(cfg.InternalURL, "/"),
		token:       cfg.InternalToken,
		httpClient:  &http.Client{},
		log:         logg,
		maxAttempts: attempts,
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Send delivers the purchase notification. Up to maxAttempts tries with
// 1s/2s/4s backoff; attempts after the first run on a shorter timeout so a
// hung gateway cannot stretch the webhook response unbounded. A 4xx from the
// gateway is final.
func (c *Client) Send(ctx context.Context, req Request) (enums.NotifyOutcome, error) {
	if err := validate.Struct(req); err != nil {
		return enums.NotifyOutcomeFailure, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notify request")
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		outcome, retryable, err := c.attempt(ctx, req, attempt)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if attempt == c.maxAttempts {
			break
		}
		backoff := baseBackoff << (attempt - 1)
		attemptCtx := c.log.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"backoff": backoff.String(),
			"error":   err.Error(),
		})
		c.log.Warn(attemptCtx, "notification attempt failed, backing off")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return enums.NotifyOutcomeFailure, ctx.Err()
		case <-timer.C:
		}
	}
	return enums.NotifyOutcomeFailure, lastErr
}

func (c *Client) attempt(ctx context.Context, req Request, attempt int) (enums.NotifyOutcome, bool, error) {
	timeout := c.timeout
	if attempt > 1 {
		timeout = c.timeout / 2
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return enums.NotifyOutcomeFailure, false, fmt.Errorf("encode notify payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+sendMessagePath, bytes.NewReader(payload))
	if err != nil {
		return enums.NotifyOutcomeFailure, false, fmt.Errorf("build notify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set(tokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return enums.NotifyOutcomeFailure, true, fmt.Errorf("notify gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return enums.NotifyOutcomeFailure, false, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("notify gateway rejected delivery with status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return enums.NotifyOutcomeFailure, true, fmt.Errorf("notify gateway returned status %d", resp.StatusCode)
	}

	var body gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return enums.NotifyOutcomeFailure, true, fmt.Errorf("decode notify response: %w", err)
	}
	return outcomeFromStatus(body.Status), false, nil
}

func outcomeFromStatus(status string) enums.NotifyOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "ok":
		return enums.NotifyOutcomeSuccess
	case "partial":
		return enums.NotifyOutcomePartial
	default:
		return enums.NotifyOutcomeFailure
	}
}

// SendWaitingNotice tells the buyer their payment was approved and delivery
// is pending capture. Single attempt, best effort.
func (c *Client) SendWaitingNotice(ctx context.Context, userID int64, transactionID string) error {
	if userID == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "notify user id is required")
	}
	_, _, err := c.attempt(ctx, Request{
		UserID:        userID,
		OrderType:     "waiting",
		TransactionID: transactionID,
	}, 1)
	return err
}
