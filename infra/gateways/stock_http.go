package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/requestid"
	"github.com/giovaniif/stock-reservation/infra/tracing"
	"github.com/giovaniif/stock-reservation/protocols"
)

// StockGatewayHttp lets a cart or order process that runs separately call the reservation API.
type StockGatewayHttp struct {
	baseURL    string
	httpClient *http.Client
}

var _ protocols.StockGateway = (*StockGatewayHttp)(nil)

func NewStockGatewayHttp(baseURL string, httpClient *http.Client) *StockGatewayHttp {
	return &StockGatewayHttp{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

type ReserveRequest struct {
	ProductId string `json:"productId"`
	UserId    string `json:"userId"`
	Quantity  int    `json:"quantity"`
	SessionId string `json:"sessionId,omitempty"`
}

type ReserveResponse struct {
	Reserved      bool   `json:"reserved"`
	Result        string `json:"result"`
	ReservationId string `json:"reservationId,omitempty"`
	Available     int    `json:"available"`
}

type ReleaseRequest struct {
	ProductId string `json:"productId"`
	UserId    string `json:"userId"`
}

type ReleaseResponse struct {
	Released bool `json:"released"`
}

type ConfirmRequest struct {
	ProductId string `json:"productId"`
	UserId    string `json:"userId"`
	Quantity  int    `json:"quantity"`
}

type ConfirmResponse struct {
	Confirmed bool `json:"confirmed"`
}

type AvailableResponse struct {
	ProductId string `json:"productId"`
	Available int    `json:"available"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *StockGatewayHttp) ReserveStock(ctx context.Context, productId string, userId string, quantity int, sessionId string) (bool, error) {
	var out ReserveResponse
	err := s.do(ctx, http.MethodPost, "/reservations", ReserveRequest{
		ProductId: productId,
		UserId:    userId,
		Quantity:  quantity,
		SessionId: sessionId,
	}, &out)
	if err != nil {
		return false, fmt.Errorf("reserve stock: %w", err)
	}
	return out.Reserved, nil
}

func (s *StockGatewayHttp) ReleaseReservation(ctx context.Context, productId string, userId string) (bool, error) {
	var out ReleaseResponse
	if err := s.do(ctx, http.MethodPost, "/reservations/release", ReleaseRequest{ProductId: productId, UserId: userId}, &out); err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}
	return out.Released, nil
}

func (s *StockGatewayHttp) ConfirmReservation(ctx context.Context, productId string, userId string, quantity int) (bool, error) {
	var out ConfirmResponse
	if err := s.do(ctx, http.MethodPost, "/reservations/confirm", ConfirmRequest{ProductId: productId, UserId: userId, Quantity: quantity}, &out); err != nil {
		return false, fmt.Errorf("confirm reservation: %w", err)
	}
	return out.Confirmed, nil
}

func (s *StockGatewayHttp) GetAvailableStock(ctx context.Context, productId string) (int, error) {
	var out AvailableResponse
	if err := s.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productId)+"/available", nil, &out); err != nil {
		return 0, fmt.Errorf("get available stock: %w", err)
	}
	return out.Available, nil
}

func (s *StockGatewayHttp) do(ctx context.Context, method, path string, payload any, out any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var body *bytes.Buffer
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(payloadBytes)
	} else {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return NewTimeoutError(err.Error())
		}
		return NewNetworkError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGatewayTimeout {
		return NewTimeoutError(method + " " + path)
	}
	if resp.StatusCode >= 500 && resp.StatusCode <= 599 {
		return NewNetworkError(fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if domainErr := reservation.FromCode(errResp.Error); domainErr != nil {
			return domainErr
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
