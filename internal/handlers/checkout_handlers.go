package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/services"
)

// CheckoutHandler exposes the payment flow: session initiation, the public
// gateway callback and the admin refund endpoint
type CheckoutHandler struct {
	checkout *services.CheckoutService
}

func NewCheckoutHandler(checkout *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// HandleInitiateCheckout opens (or resumes) a payment-page session for the
// user's cart
func (h *CheckoutHandler) HandleInitiateCheckout(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CallbackURL == "" {
		req.CallbackURL = os.Getenv("APP_BASE_URL") + "/checkout/finish"
	}

	result, err := h.checkout.InitiateCheckout(c.Request().Context(), user, req.ForceNew, req.CallbackURL)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyCart):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrCheckoutLocked):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrPaymentAlreadyMade):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to initiate checkout")
		}
	}

	return c.JSON(http.StatusOK, result)
}

// HandleGatewayCallback receives payment notifications from the gateway.
// Unauthenticated by design; the payload signature is verified instead.
func (h *CheckoutHandler) HandleGatewayCallback(c echo.Context) error {
	var payload map[string]interface{}
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid callback payload")
	}

	if err := h.checkout.HandleGatewayCallback(payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRefund refunds a completed purchase. Admin only.
func (h *CheckoutHandler) HandleRefund(c echo.Context) error {
	purchaseID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid purchase id")
	}

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	purchase, err := h.checkout.RefundPurchase(uint(purchaseID), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "purchase not found")
		case errors.Is(err, services.ErrAlreadyRefunded):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrNotRefundable):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to refund purchase")
		}
	}

	return c.JSON(http.StatusOK, purchase)
}
