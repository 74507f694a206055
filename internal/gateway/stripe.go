package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// StripeClient implements PaymentGateway over the processor's REST API.
// Requests are form-encoded with the secret key as Basic Auth username and
// an Idempotency-Key header so that at-least-once trigger delivery never
// doubles a money movement.
type StripeClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewStripeClient(secretKey string, timeout time.Duration) *StripeClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the client at a different API host. Used in tests.
func (c *StripeClient) WithBaseURL(base string) *StripeClient {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

func (c *StripeClient) AuthorizeAndConfirm(ctx context.Context, req ChargeRequest) (*Charge, error) {
	form := c.intentForm(req)
	form.Set("capture_method", "automatic")
	return c.postIntent(ctx, "authorize_and_confirm", "/payment_intents", form, req.IdempotencyKey)
}

func (c *StripeClient) CreateManualCaptureAuthorization(ctx context.Context, req ChargeRequest) (*Charge, error) {
	form := c.intentForm(req)
	form.Set("capture_method", "manual")
	return c.postIntent(ctx, "create_authorization", "/payment_intents", form, req.IdempotencyKey)
}

func (c *StripeClient) Capture(ctx context.Context, id string) (*Charge, error) {
	return c.postIntent(ctx, "capture", "/payment_intents/"+id+"/capture", url.Values{}, "capture-"+id)
}

func (c *StripeClient) Cancel(ctx context.Context, id string) (*Charge, error) {
	return c.postIntent(ctx, "cancel", "/payment_intents/"+id+"/cancel", url.Values{}, "cancel-"+id)
}

func (c *StripeClient) Refund(ctx context.Context, chargeID string, amount int64) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", chargeID)
	if amount > 0 {
		form.Set("amount", strconv.FormatInt(amount, 10))
	}

	body, err := c.do(ctx, "refund", http.MethodPost, "/refunds", form, fmt.Sprintf("refund-%s-%d", chargeID, amount))
	if err != nil {
		return nil, err
	}

	var rf Refund
	if err := json.Unmarshal(body, &rf); err != nil {
		return nil, fmt.Errorf("parse refund response: %w", err)
	}
	return &rf, nil
}

func (c *StripeClient) Retrieve(ctx context.Context, id string) (*Charge, error) {
	body, err := c.do(ctx, "retrieve", http.MethodGet, "/payment_intents/"+id, nil, "")
	if err != nil {
		return nil, err
	}
	return parseIntent(body)
}

func (c *StripeClient) intentForm(req ChargeRequest) url.Values {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("customer", req.CustomerID)
	form.Set("payment_method", req.PaymentMethodID)
	form.Set("confirm", "true")
	form.Set("off_session", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
	return form
}

func (c *StripeClient) postIntent(ctx context.Context, op, path string, form url.Values, idempotencyKey string) (*Charge, error) {
	body, err := c.do(ctx, op, http.MethodPost, path, form, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return parseIntent(body)
}

func (c *StripeClient) do(ctx context.Context, op, method, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	req.SetBasicAuth(c.secretKey, "")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failure or timeout: outcome unknown, the caller must
		// re-read state before acting again.
		return nil, &Error{Op: op, Code: "network_error", Message: err.Error()}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Op: op, Code: "read_error", Message: err.Error()}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		gwErr := &Error{Op: op, HTTPStatus: res.StatusCode, Message: string(body)}
		var wrapper struct {
			Error struct {
				Code    string `json:"code"`
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &wrapper) == nil && wrapper.Error.Message != "" {
			gwErr.Code = wrapper.Error.Code
			if gwErr.Code == "" {
				gwErr.Code = wrapper.Error.Type
			}
			gwErr.Message = wrapper.Error.Message
		}
		log.Printf("[GATEWAY] %s returned %d: %s", op, res.StatusCode, gwErr.Message)
		return nil, gwErr
	}

	return body, nil
}

func parseIntent(body []byte) (*Charge, error) {
	var raw struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		Amount         int64  `json:"amount"`
		AmountReceived int64  `json:"amount_received"`
		LastPaymentError *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"last_payment_error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse payment intent: %w", err)
	}

	ch := &Charge{
		ID:             raw.ID,
		Status:         raw.Status,
		Amount:         raw.Amount,
		AmountCaptured: raw.AmountReceived,
	}
	if raw.LastPaymentError != nil {
		ch.FailureCode = raw.LastPaymentError.Code
		ch.FailureMessage = raw.LastPaymentError.Message
	}
	return ch, nil
}
