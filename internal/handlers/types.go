package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omriozer/ludora-checkout/internal/models"
)

// currentUser pulls the authenticated user placed in the context by the auth
// middleware. Handlers behind RequireAuth can assume it is present.
func currentUser(c echo.Context) (models.User, error) {
	user, ok := c.Get("user").(models.User)
	if !ok {
		return models.User{}, echo.NewHTTPError(http.StatusUnauthorized, "missing session")
	}
	return user, nil
}

func parseProductType(raw string) (models.ProductType, error) {
	switch t := models.ProductType(raw); t {
	case models.ProductTypeFile,
		models.ProductTypeWorkshop,
		models.ProductTypeCourse,
		models.ProductTypeTool,
		models.ProductTypeGame,
		models.ProductTypeSubscription:
		return t, nil
	default:
		return "", echo.NewHTTPError(http.StatusBadRequest, "unknown entity type")
	}
}

// PurchaseItemRequest identifies an entity to add to the cart or grant
type PurchaseItemRequest struct {
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	Price      float64 `json:"price"`
}

// CheckoutRequest controls how a payment session is opened
type CheckoutRequest struct {
	ForceNew    bool   `json:"force_new"`
	CallbackURL string `json:"callback_url"`
}

// RefundRequest carries the admin's reason for the refund
type RefundRequest struct {
	Reason string `json:"reason"`
}
