package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPGateway calls a hosted gateway over JSON/HTTP.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (g *HTTPGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Checkout{}, gatewayError("create checkout", err)
	}
	var checkout Checkout
	if err := g.do(ctx, http.MethodPost, "/checkouts", body, &checkout); err != nil {
		return Checkout{}, gatewayError("create checkout", err)
	}
	if checkout.CheckoutURL == "" {
		return Checkout{}, gatewayError("create checkout", fmt.Errorf("empty checkout url"))
	}
	return checkout, nil
}

func (g *HTTPGateway) Status(ctx context.Context, transactionID string) (Result, error) {
	var result Result
	if err := g.do(ctx, http.MethodGet, "/checkouts/"+url.PathEscape(transactionID), nil, &result); err != nil {
		return Result{}, gatewayError("status", err)
	}
	switch result.Outcome {
	case OutcomePending, OutcomeSuccess, OutcomeFailed:
	default:
		return Result{}, gatewayError("status", fmt.Errorf("unknown status %q", result.Outcome))
	}
	return result, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway responded %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
