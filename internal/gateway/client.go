package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mindbook/internal/config"

	"github.com/rs/zerolog"
)

// Verification statuses reported back to the orchestrator.
const (
	VerifyCompleted = "completed"
	VerifyPending   = "pending"
	VerifyFailed    = "failed"
	VerifyNotFound  = "not_found"
)

// GatewayError marks a transient provider failure. Callers retry with
// backoff; it is never confused with a business outcome.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
}

// InitiateRequest starts a payment at the wallet provider. OrderRef is the
// deterministic booking reference; the provider assigns its own transaction
// reference on every call.
type InitiateRequest struct {
	Amount   int64
	Currency string
	OrderRef string
	Email    string
}

type InitiateResult struct {
	TransactionRef string
	RedirectURL    string
}

// VerificationOutcome is the provider's view of one transaction. The call
// producing it is side-effect-free and safe to poll.
type VerificationOutcome struct {
	Status   string
	Amount   int64
	Currency string
}

// Client talks to the wallet provider's HTTP API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type initiatePayload struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Email    string            `json:"email,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type initiateResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference        string `json:"reference"`
		AuthorizationURL string `json:"authorization_url"`
	} `json:"data"`
}

// Initiate asks the provider to open a transaction. A fresh transaction
// reference comes back on every call; idempotency of the logical booking is
// the orchestrator's responsibility.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	payload := initiatePayload{
		Amount:   req.Amount,
		Currency: req.Currency,
		Email:    req.Email,
		Metadata: map[string]string{"order_ref": req.OrderRef},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode initiate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build initiate request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Op: "initiate", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{Op: "initiate", StatusCode: resp.StatusCode, Message: "provider rejected initiation"}
	}

	var decoded initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &GatewayError{Op: "initiate", Message: fmt.Sprintf("decode response: %v", err)}
	}
	if !decoded.Status || decoded.Data.Reference == "" {
		return nil, &GatewayError{Op: "initiate", Message: decoded.Message}
	}

	c.logger.Debug().
		Str("order_ref", req.OrderRef).
		Str("transaction_ref", decoded.Data.Reference).
		Msg("payment initiated")

	return &InitiateResult{
		TransactionRef: decoded.Data.Reference,
		RedirectURL:    decoded.Data.AuthorizationURL,
	}, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// Verify asks the provider for the state of one transaction. Unknown
// references are an outcome, not an error; the orchestrator decides what an
// unresolved transaction means.
func (c *Client) Verify(ctx context.Context, transactionRef string) (*VerificationOutcome, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/transaction/verify/"+transactionRef, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Op: "verify", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &VerificationOutcome{Status: VerifyNotFound}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{Op: "verify", StatusCode: resp.StatusCode, Message: "provider verify failed"}
	}

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &GatewayError{Op: "verify", Message: fmt.Sprintf("decode response: %v", err)}
	}

	outcome := &VerificationOutcome{
		Amount:   decoded.Data.Amount,
		Currency: decoded.Data.Currency,
	}
	switch decoded.Data.Status {
	case "success":
		outcome.Status = VerifyCompleted
	case "pending", "ongoing", "processing":
		outcome.Status = VerifyPending
	case "failed", "abandoned", "reversed":
		outcome.Status = VerifyFailed
	default:
		outcome.Status = VerifyPending
	}
	return outcome, nil
}
