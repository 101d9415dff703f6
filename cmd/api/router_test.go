package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/infra/gateways"
	"github.com/giovaniif/stock-reservation/infra/repositories"
	"github.com/giovaniif/stock-reservation/use_cases/checkout"
	"github.com/giovaniif/stock-reservation/use_cases/inventory"
	"go.uber.org/zap"
)

type testServer struct {
	router  *gin.Engine
	clock   *clock.Manual
	payment *gateways.PaymentGatewayMemory
}

func newTestServer(t *testing.T, stock map[string]int, checks map[string]HealthCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	engine := inventory.NewEngine(inventory.Dependencies{
		ReservationRepository: repositories.NewMemoryReservationRepository(clk),
		Catalog:               repositories.NewMemoryCatalog(stock),
		UnitOfWork:            repositories.NewMemoryUnitOfWork(),
		Clock:                 clk,
		Logger:                zap.NewNop(),
		HoldDuration:          10 * time.Minute,
	})
	payment := gateways.NewPaymentGatewayMemory()
	uc := checkout.NewCheckout(engine, payment, gateways.NewCheckoutGatewayMemory(), gateways.NewSleeper(), zap.NewNop())

	return &testServer{
		router: NewRouter(RouterDependencies{
			Engine:          engine,
			Checkout:        uc,
			CheckoutTimeout: 5 * time.Second,
			HealthChecks:    checks,
		}),
		clock:   clk,
		payment: payment,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestReservationRoutes(t *testing.T) {
	s := newTestServer(t, map[string]int{"sku-1": 10}, nil)

	w := s.do(t, http.MethodPost, "/reservations", gateways.ReserveRequest{ProductId: "sku-1", UserId: "u1", Quantity: 3, SessionId: "s1"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	reserved := decode[gateways.ReserveResponse](t, w)
	if !reserved.Reserved || reserved.Result != "reserved" || reserved.ReservationId == "" {
		t.Fatalf("unexpected reserve response: %+v", reserved)
	}

	w = s.do(t, http.MethodPost, "/reservations", gateways.ReserveRequest{ProductId: "sku-1", UserId: "u1", Quantity: 1}, nil)
	if dup := decode[gateways.ReserveResponse](t, w); dup.Reserved || dup.Result != "duplicate" {
		t.Fatalf("expected duplicate, got %+v", dup)
	}

	w = s.do(t, http.MethodGet, "/products/sku-1/available", nil, nil)
	if avail := decode[gateways.AvailableResponse](t, w); avail.Available != 7 || avail.ProductId != "sku-1" {
		t.Fatalf("expected 7 available, got %+v", avail)
	}

	w = s.do(t, http.MethodGet, "/reservations/"+reserved.ReservationId, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	res := decode[ReservationResponse](t, w)
	if res.Outcome != "active" || !res.IsActive || res.SessionId != "s1" || res.Quantity != 3 {
		t.Fatalf("unexpected reservation: %+v", res)
	}
	if !res.ExpiresAt.Equal(s.clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}

	w = s.do(t, http.MethodPost, "/reservations/confirm", gateways.ConfirmRequest{ProductId: "sku-1", UserId: "u1", Quantity: 2}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on mismatch, got %d", w.Code)
	}
	if body := decode[gateways.ErrorResponse](t, w); body.Error != "quantity_mismatch" {
		t.Fatalf("expected quantity_mismatch, got %+v", body)
	}

	w = s.do(t, http.MethodPost, "/reservations/confirm", gateways.ConfirmRequest{ProductId: "sku-1", UserId: "u1", Quantity: 3}, nil)
	if c := decode[gateways.ConfirmResponse](t, w); !c.Confirmed {
		t.Fatalf("expected confirmation, got %s", w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/reservations/"+reserved.ReservationId, nil, nil)
	if res := decode[ReservationResponse](t, w); res.Outcome != "confirmed" || res.IsActive {
		t.Fatalf("expected confirmed record, got %+v", res)
	}

	w = s.do(t, http.MethodPost, "/reservations/release", gateways.ReleaseRequest{ProductId: "sku-1", UserId: "u1"}, nil)
	if r := decode[gateways.ReleaseResponse](t, w); r.Released {
		t.Fatalf("expected nothing to release after confirmation")
	}

	w = s.do(t, http.MethodGet, "/products/sku-1/available", nil, nil)
	if avail := decode[gateways.AvailableResponse](t, w); avail.Available != 7 {
		t.Fatalf("expected 7 available after confirmation, got %d", avail.Available)
	}
}

func TestReservationRouteErrors(t *testing.T) {
	s := newTestServer(t, map[string]int{"sku-1": 1}, nil)

	t.Run("invalid quantity", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/reservations", gateways.ReserveRequest{ProductId: "sku-1", UserId: "u1", Quantity: 0}, nil)
		if w.Code != http.StatusBadRequest || decode[gateways.ErrorResponse](t, w).Error != "invalid_quantity" {
			t.Fatalf("expected 400 invalid_quantity, got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("unknown product", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/products/nope/available", nil, nil)
		if w.Code != http.StatusNotFound || decode[gateways.ErrorResponse](t, w).Error != "product_not_found" {
			t.Fatalf("expected 404 product_not_found, got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("unknown reservation", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/reservations/missing", nil, nil)
		if w.Code != http.StatusNotFound || decode[gateways.ErrorResponse](t, w).Error != "reservation_not_found" {
			t.Fatalf("expected 404 reservation_not_found, got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/reservations/release", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest || decode[gateways.ErrorResponse](t, w).Error != "invalid_request" {
			t.Fatalf("expected 400 invalid_request, got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("capacity rejection is not an error", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/reservations", gateways.ReserveRequest{ProductId: "sku-1", UserId: "u2", Quantity: 2}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if r := decode[gateways.ReserveResponse](t, w); r.Reserved || r.Result != "unavailable" || r.Available != 1 {
			t.Fatalf("unexpected response %+v", r)
		}
	})
}

func TestCheckoutRoute(t *testing.T) {
	s := newTestServer(t, map[string]int{"sku-1": 5, "sku-2": 1}, nil)
	body := CheckoutRequest{
		UserId: "u1",
		Lines:  []CheckoutLine{{ProductId: "sku-1", Quantity: 2}, {ProductId: "sku-2", Quantity: 1}},
		Amount: 30,
	}

	t.Run("requires idempotency key", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/checkout", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("completes and replays", func(t *testing.T) {
		headers := map[string]string{idempotencyKeyHeader: "key-1"}
		w := s.do(t, http.MethodPost, "/checkout", body, headers)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if out := decode[CheckoutResponse](t, w); out.Status != "completed" || out.Replayed {
			t.Fatalf("unexpected checkout response %+v", out)
		}

		w = s.do(t, http.MethodPost, "/checkout", body, headers)
		if out := decode[CheckoutResponse](t, w); !out.Replayed {
			t.Fatalf("expected replayed checkout, got %+v", out)
		}
		if charges := s.payment.Charges(); len(charges) != 1 || charges[0] != 30 {
			t.Fatalf("expected a single charge of 30, got %v", charges)
		}

		w = s.do(t, http.MethodGet, "/products/sku-1/available", nil, nil)
		if avail := decode[gateways.AvailableResponse](t, w); avail.Available != 3 {
			t.Fatalf("expected 3 left of sku-1, got %d", avail.Available)
		}
	})

	t.Run("unavailable line", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/checkout", CheckoutRequest{
			UserId: "u2",
			Lines:  []CheckoutLine{{ProductId: "sku-1", Quantity: 1}, {ProductId: "sku-2", Quantity: 1}},
			Amount: 10,
		}, map[string]string{idempotencyKeyHeader: "key-2"})
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", w.Code)
		}
		if out := decode[CheckoutResponse](t, w); out.Status != "unavailable" || out.UnavailableProductId != "sku-2" {
			t.Fatalf("unexpected response %+v", out)
		}
		w = s.do(t, http.MethodGet, "/products/sku-1/available", nil, nil)
		if avail := decode[gateways.AvailableResponse](t, w); avail.Available != 3 {
			t.Fatalf("expected the sku-1 hold to be released, got %d available", avail.Available)
		}
	})

	t.Run("declined payment", func(t *testing.T) {
		s.payment.SetDecline(true)
		defer s.payment.SetDecline(false)
		w := s.do(t, http.MethodPost, "/checkout", CheckoutRequest{
			UserId: "u3",
			Lines:  []CheckoutLine{{ProductId: "sku-1", Quantity: 1}},
			Amount: 10,
		}, map[string]string{idempotencyKeyHeader: "key-3"})
		if w.Code != http.StatusPaymentRequired {
			t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t, nil, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	w := s.do(t, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["database"] != "up" || body.Checks["redis"] != "down" {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestStockGatewayHttpAgainstRouter(t *testing.T) {
	s := newTestServer(t, map[string]int{"sku-1": 4}, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	gw := gateways.NewStockGatewayHttp(srv.URL, srv.Client())
	ctx := context.Background()

	ok, err := gw.ReserveStock(ctx, "sku-1", "u1", 3, "")
	if err != nil || !ok {
		t.Fatalf("expected reservation, got %v %v", ok, err)
	}
	if ok, _ := gw.ReserveStock(ctx, "sku-1", "u2", 2, ""); ok {
		t.Fatalf("expected capacity rejection")
	}
	if n, err := gw.GetAvailableStock(ctx, "sku-1"); err != nil || n != 1 {
		t.Fatalf("expected 1 available, got %d %v", n, err)
	}
	if _, err := gw.ConfirmReservation(ctx, "sku-1", "u1", 1); !errors.Is(err, reservation.ErrQuantityMismatch) {
		t.Fatalf("expected ErrQuantityMismatch, got %v", err)
	}
	if _, err := gw.GetAvailableStock(ctx, "nope"); !errors.Is(err, reservation.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if ok, err := gw.ConfirmReservation(ctx, "sku-1", "u1", 3); err != nil || !ok {
		t.Fatalf("expected confirmation, got %v %v", ok, err)
	}
	if ok, err := gw.ReleaseReservation(ctx, "sku-1", "u1"); err != nil || ok {
		t.Fatalf("expected nothing to release, got %v %v", ok, err)
	}
}
