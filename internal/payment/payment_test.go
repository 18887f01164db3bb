package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"transaction_id":"t1","status":"success"}`)
	sig := Sign("whsec", body)

	assert.True(t, VerifySignature("whsec", body, sig))
	assert.True(t, VerifySignature("whsec", body, "sha256="+sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("whsec", []byte(`{}`), sig))
	assert.False(t, VerifySignature("whsec", body, "zz"))
	assert.False(t, VerifySignature("", body, sig))
}

func TestParseWebhook(t *testing.T) {
	event, err := ParseWebhook([]byte(`{"transaction_id":" t1 ","status":"failed","reason":"card declined"}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", event.TransactionID)
	assert.Equal(t, OutcomeFailed, event.Status)

	_, err = ParseWebhook([]byte(`{"transaction_id":"t1","status":"pending"}`))
	assert.True(t, errors.Is(err, store.ErrValidation))

	_, err = ParseWebhook([]byte(`nope`))
	assert.True(t, errors.Is(err, store.ErrValidation))
}

func TestSandboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox("http://pay.local/")
	checkout, err := s.CreateCheckout(ctx, CheckoutRequest{TransactionID: "t1", Amount: 500000})
	require.NoError(t, err)
	assert.Equal(t, "http://pay.local/checkout/sbx_t1", checkout.CheckoutURL)

	result, err := s.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, result.Outcome)

	id, found, ok := s.Checkout("sbx_t1")
	require.True(t, ok)
	assert.Equal(t, "t1", id)
	assert.Equal(t, OutcomePending, found.Outcome)
	_, _, ok = s.Checkout("t1")
	assert.False(t, ok)

	s.Settle("t1", OutcomeSuccess, "")
	result, err = s.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	s.FailNextCheckout()
	_, err = s.CreateCheckout(ctx, CheckoutRequest{TransactionID: "t2"})
	assert.True(t, errors.Is(err, store.ErrGateway))
	_, err = s.CreateCheckout(ctx, CheckoutRequest{TransactionID: "t3"})
	assert.NoError(t, err)
}

func TestHTTPGatewayCheckoutAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/checkouts":
			var req CheckoutRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(Checkout{GatewayRef: "ref-" + req.TransactionID, CheckoutURL: "https://pay/" + req.TransactionID})
		case r.Method == http.MethodGet && r.URL.Path == "/checkouts/t1":
			_ = json.NewEncoder(w).Encode(Result{Outcome: OutcomeSuccess, GatewayRef: "ref-t1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "key", time.Second)
	checkout, err := gw.CreateCheckout(context.Background(), CheckoutRequest{TransactionID: "t1", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, "https://pay/t1", checkout.CheckoutURL)

	result, err := gw.Status(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	_, err = gw.Status(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrGateway))
	assert.False(t, Ambiguous(err))
}

func TestHTTPGatewayTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "", 20*time.Millisecond)
	_, err := gw.CreateCheckout(context.Background(), CheckoutRequest{TransactionID: "t1"})
	assert.True(t, errors.Is(err, store.ErrGateway))
	assert.True(t, Ambiguous(err))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = NewHTTPGateway(server.URL, "", time.Second).Status(ctx, "t1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, Ambiguous(err))
}
