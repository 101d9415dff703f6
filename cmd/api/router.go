package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/gateways"
	"github.com/giovaniif/stock-reservation/infra/metrics"
	"github.com/giovaniif/stock-reservation/infra/requestid"
	"github.com/giovaniif/stock-reservation/infra/tracing"
	"github.com/giovaniif/stock-reservation/use_cases/checkout"
	"github.com/giovaniif/stock-reservation/use_cases/inventory"
	"github.com/giovaniif/stock-reservation/use_cases/reserve"
	"go.uber.org/zap"
)

const idempotencyKeyHeader = "Idempotency-Key"

type HealthCheck func(ctx context.Context) error

type RouterDependencies struct {
	Engine          *inventory.Engine
	Checkout        *checkout.Checkout
	CheckoutTimeout time.Duration
	HealthChecks    map[string]HealthCheck
	Logger          *zap.Logger
}

type ReservationResponse struct {
	Id        string    `json:"id"`
	ProductId string    `json:"productId"`
	UserId    string    `json:"userId"`
	Quantity  int       `json:"quantity"`
	SessionId string    `json:"sessionId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CheckoutLine struct {
	ProductId string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	UserId    string         `json:"userId"`
	SessionId string         `json:"sessionId"`
	Lines     []CheckoutLine `json:"lines"`
	Amount    float64        `json:"amount"`
}

type CheckoutResponse struct {
	Status               string `json:"status"`
	UnavailableProductId string `json:"unavailableProductId,omitempty"`
	Replayed             bool   `json:"replayed"`
}

func NewRouter(deps RouterDependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), requestid.Middleware(), tracing.Middleware(), metrics.Middleware)

	r.GET("/health", h.health)
	r.GET("/metrics", metrics.Handler())

	r.POST("/reservations", h.reserve)
	r.POST("/reservations/release", h.release)
	r.POST("/reservations/confirm", h.confirm)
	r.GET("/reservations/:id", h.getReservation)
	r.GET("/products/:id/available", h.available)

	if deps.Checkout != nil {
		r.POST("/checkout", h.checkout)
	}
	return r
}

type handlers struct {
	deps RouterDependencies
}

func (h *handlers) health(c *gin.Context) {
	status := "healthy"
	checks := gin.H{}
	names := make([]string, 0, len(h.deps.HealthChecks))
	for name := range h.deps.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := h.deps.HealthChecks[name](ctx)
		cancel()
		if err != nil {
			status = "degraded"
			checks[name] = "down"
			continue
		}
		checks[name] = "up"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "checks": checks})
}

func (h *handlers) reserve(c *gin.Context) {
	var req gateways.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.deps.Engine.Reserve(c.Request.Context(), reserve.Input{
		ProductId: req.ProductId,
		UserId:    req.UserId,
		Quantity:  req.Quantity,
		SessionId: req.SessionId,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := gateways.ReserveResponse{
		Reserved:  out.Reserved,
		Result:    string(out.Result),
		Available: out.Available,
	}
	if out.Reservation != nil {
		resp.ReservationId = out.Reservation.Id
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) release(c *gin.Context) {
	var req gateways.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	released, err := h.deps.Engine.ReleaseReservation(c.Request.Context(), req.ProductId, req.UserId)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateways.ReleaseResponse{Released: released})
}

func (h *handlers) confirm(c *gin.Context) {
	var req gateways.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	confirmed, err := h.deps.Engine.ConfirmReservation(c.Request.Context(), req.ProductId, req.UserId, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateways.ConfirmResponse{Confirmed: confirmed})
}

func (h *handlers) getReservation(c *gin.Context) {
	res, err := h.deps.Engine.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReservationResponse{
		Id:        res.Id,
		ProductId: res.ProductId,
		UserId:    res.UserId,
		Quantity:  res.Quantity,
		SessionId: res.SessionId,
		ExpiresAt: res.ExpiresAt.UTC(),
		IsActive:  res.IsActive,
		Outcome:   string(res.Outcome),
		CreatedAt: res.CreatedAt.UTC(),
		UpdatedAt: res.UpdatedAt.UTC(),
	})
}

func (h *handlers) available(c *gin.Context) {
	productId := c.Param("id")
	available, err := h.deps.Engine.GetAvailableStock(c.Request.Context(), productId)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateways.AvailableResponse{ProductId: productId, Available: available})
}

func (h *handlers) checkout(c *gin.Context) {
	ctx := c.Request.Context()
	if h.deps.CheckoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deps.CheckoutTimeout)
		defer cancel()
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	idempotencyKey := c.GetHeader(idempotencyKeyHeader)
	if idempotencyKey == "" {
		c.JSON(http.StatusBadRequest, gateways.ErrorResponse{
			Error:   "missing_idempotency_key",
			Message: idempotencyKeyHeader + " header is required",
		})
		return
	}

	lines := make([]checkout.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, checkout.Line{ProductId: l.ProductId, Quantity: l.Quantity})
	}
	out, err := h.deps.Checkout.Checkout(ctx, checkout.Input{
		IdempotencyKey: idempotencyKey,
		UserId:         req.UserId,
		SessionId:      req.SessionId,
		Lines:          lines,
		Amount:         req.Amount,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := http.StatusOK
	if out.Status == checkout.StatusUnavailable {
		status = http.StatusConflict
	}
	c.JSON(status, CheckoutResponse{
		Status:               string(out.Status),
		UnavailableProductId: out.UnavailableProductId,
		Replayed:             out.Replayed,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gateways.ErrorResponse{Error: "invalid_request", Message: err.Error()})
}

func (h *handlers) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.deps.Logger.Error("request failed",
			requestid.Field(c.Request.Context()),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gateways.ErrorResponse{Error: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	if code := reservation.Code(err); code != "" {
		switch {
		case errors.Is(err, reservation.ErrInvalidQuantity), errors.Is(err, reservation.ErrInvalidId):
			return http.StatusBadRequest, code
		case errors.Is(err, reservation.ErrProductNotFound), errors.Is(err, reservation.ErrReservationNotFound):
			return http.StatusNotFound, code
		default:
			return http.StatusConflict, code
		}
	}
	switch {
	case errors.Is(err, checkout.ErrMissingIdempotencyKey), errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, gateways.ErrCheckoutInProgress):
		return http.StatusConflict, "checkout_in_progress"
	case errors.Is(err, gateways.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}
