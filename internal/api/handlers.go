package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ec-checkout-saga/internal/api/middleware"
	"github.com/example/ec-checkout-saga/internal/command"
	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/example/ec-checkout-saga/internal/domain/inventory"
	"github.com/example/ec-checkout-saga/internal/domain/order"
	"github.com/example/ec-checkout-saga/internal/domain/product"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/payment"
	"github.com/example/ec-checkout-saga/internal/query"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	logger       *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		logger:       logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Cart Handlers

type addToCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.cmdHandler.AddToCart(r.Context(), command.AddToCart{
		BuyerID:   middleware.BuyerID(r.Context()),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.RemoveFromCart(r.Context(), command.RemoveFromCart{
		BuyerID:   middleware.BuyerID(r.Context()),
		ProductID: chi.URLParam(r, "productId"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.GetCart(r.Context(), middleware.BuyerID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Checkout Handlers

type submitCheckoutRequest struct {
	BuyerEmail      string                  `json:"buyer_email"`
	ShippingAddress command.ShippingAddress `json:"shipping_address"`
	Items           []command.CheckoutItem  `json:"items,omitempty"`
}

type checkoutAccepted struct {
	OrderID     string       `json:"order_id"`
	OrderNumber string       `json:"order_number"`
	Status      order.Status `json:"status"`
	Total       string       `json:"total"`
}

// SubmitCheckout answers 202: stock reservation and payment happen after
// the response, and the client polls GET /orders/{id}.
func (h *Handlers) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	var req submitCheckoutRequest
	if !decode(w, r, &req) {
		return
	}

	email := req.BuyerEmail
	if email == "" {
		if claims, ok := middleware.Buyer(r.Context()); ok {
			email = claims.Email
		}
	}

	o, err := h.cmdHandler.SubmitCheckout(r.Context(), command.SubmitCheckout{
		BuyerID:         middleware.BuyerID(r.Context()),
		BuyerEmail:      email,
		ShippingAddress: req.ShippingAddress,
		Items:           req.Items,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/orders/"+o.ID)
	respondJSON(w, http.StatusAccepted, checkoutAccepted{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Status:      o.Status,
		Total:       o.Total.StringFixed(2),
	})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	rm, err := h.queryHandler.GetOrder(r.Context(), chi.URLParam(r, "id"), middleware.BuyerID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rm)
}

type simulatePaymentRequest struct {
	ShouldSucceed bool `json:"should_succeed"`
}

func (h *Handlers) SimulatePayment(w http.ResponseWriter, r *http.Request) {
	var req simulatePaymentRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.cmdHandler.SimulatePayment(r.Context(), command.SimulatePayment{
		OrderID:       chi.URLParam(r, "id"),
		BuyerID:       middleware.BuyerID(r.Context()),
		ShouldSucceed: req.ShouldSucceed,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"order_id":       o.ID,
		"status":         o.Status,
		"failure_reason": o.FailureReason,
	})
}

// Inventory Handlers

type adjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *Handlers) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if !decode(w, r, &req) {
		return
	}

	item, err := h.cmdHandler.AdjustStock(r.Context(), command.AdjustStock{
		ProductID: chi.URLParam(r, "productId"),
		Delta:     req.Delta,
		Reason:    req.Reason,
		Actor:     middleware.BuyerID(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"product_id":      item.ProductID,
		"on_hand":         item.QuantityOnHand,
		"available_stock": item.AvailableQuantity(),
		"is_low":          item.IsLow(),
	})
}

func (h *Handlers) GetStockLevel(w http.ResponseWriter, r *http.Request) {
	rm, err := h.queryHandler.GetStockLevel(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rm)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrValidation),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidItem),
		errors.Is(err, order.ErrBuyerEmailRequired),
		errors.Is(err, order.ErrShippingAddressMissing),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidProduct):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, inventory.ErrStockItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrNotPayable),
		errors.Is(err, store.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, product.ErrProductUnavailable),
		errors.Is(err, inventory.ErrNegativeResultingStock):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Error(r.Context(), h.logger, "request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondJSON(w, status, map[string]string{"error": "internal error"})
		return
	}

	body := map[string]any{"error": err.Error()}
	var verr *command.ValidationError
	if errors.As(err, &verr) {
		body["error"] = command.ErrValidation.Error()
		body["fields"] = verr.Fields
	}
	respondJSON(w, status, body)
}
