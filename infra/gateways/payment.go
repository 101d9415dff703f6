package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/giovaniif/stock-reservation/infra/tracing"
)

var ErrPaymentDeclined = errors.New("payment declined")

type PaymentGatewayHttp struct {
	baseURL    string
	httpClient *http.Client
}

func NewPaymentGatewayHttp(baseURL string, httpClient *http.Client) *PaymentGatewayHttp {
	return &PaymentGatewayHttp{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

type ChargeRequest struct {
	Amount float64 `json:"amount"`
}

func (p *PaymentGatewayHttp) Charge(ctx context.Context, amount float64) error {
	payloadBytes, err := json.Marshal(ChargeRequest{Amount: amount})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/charge", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.Inject(ctx, req.Header)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return NewNetworkError(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusGatewayTimeout {
		return NewTimeoutError("timeout charging payment")
	}
	if resp.StatusCode != http.StatusOK {
		return ErrPaymentDeclined
	}
	return nil
}

// PaymentGatewayMemory accepts every charge unless told to decline. It records the amounts charged.
type PaymentGatewayMemory struct {
	mu      sync.Mutex
	decline bool
	charges []float64
}

func NewPaymentGatewayMemory() *PaymentGatewayMemory {
	return &PaymentGatewayMemory{}
}

func (p *PaymentGatewayMemory) Charge(ctx context.Context, amount float64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decline || amount < 0 {
		return ErrPaymentDeclined
	}
	p.charges = append(p.charges, amount)
	return nil
}

func (p *PaymentGatewayMemory) SetDecline(decline bool) {
	p.mu.Lock()
	p.decline = decline
	p.mu.Unlock()
}

func (p *PaymentGatewayMemory) Charges() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.charges...)
}
