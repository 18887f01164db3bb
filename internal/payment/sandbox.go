package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const sandboxRefPrefix = "sbx_"

// Sandbox is an in-process gateway for local runs. Checkouts stay pending
// until Settle is called for them.
type Sandbox struct {
	mu       sync.Mutex
	baseURL  string
	outcomes map[string]Result
	failNext bool
}

func NewSandbox(baseURL string) *Sandbox {
	if baseURL == "" {
		baseURL = "http://localhost:8080/sandbox"
	}
	return &Sandbox{baseURL: strings.TrimRight(baseURL, "/"), outcomes: make(map[string]Result)}
}

func (s *Sandbox) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return Checkout{}, gatewayError("create checkout", errors.New("sandbox rejected checkout"))
	}
	ref := sandboxRefPrefix + req.TransactionID
	s.outcomes[req.TransactionID] = Result{Outcome: OutcomePending, GatewayRef: ref}
	return Checkout{GatewayRef: ref, CheckoutURL: s.baseURL + "/checkout/" + ref}, nil
}

func (s *Sandbox) Status(ctx context.Context, transactionID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.outcomes[transactionID]
	if !ok {
		return Result{}, gatewayError("status", errors.New("unknown checkout"))
	}
	return result, nil
}

// Checkout finds a sandbox checkout by its gateway reference.
func (s *Sandbox) Checkout(ref string) (string, Result, bool) {
	transactionID, ok := strings.CutPrefix(ref, sandboxRefPrefix)
	if !ok {
		return "", Result{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.outcomes[transactionID]
	return transactionID, result, ok
}

func (s *Sandbox) Settle(transactionID string, outcome Outcome, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.outcomes[transactionID]
	result.Outcome = outcome
	result.Reason = reason
	if result.GatewayRef == "" {
		result.GatewayRef = sandboxRefPrefix + transactionID
	}
	s.outcomes[transactionID] = result
}

// FailNextCheckout makes the next CreateCheckout call fail.
func (s *Sandbox) FailNextCheckout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}
