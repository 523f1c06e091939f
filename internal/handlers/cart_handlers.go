package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omriozer/ludora-checkout/internal/models"
	"github.com/omriozer/ludora-checkout/internal/services"
)

// CartHandler exposes the cart and purchase-ownership endpoints
type CartHandler struct {
	query     *services.PurchaseQueryService
	purchases *services.PurchaseService
}

func NewCartHandler(query *services.PurchaseQueryService, purchases *services.PurchaseService) *CartHandler {
	return &CartHandler{query: query, purchases: purchases}
}

// HandleGetCart returns the user's cart with totals and the type grouping the
// frontend renders from
func (h *CartHandler) HandleGetCart(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	cart := h.query.CartPurchases(user.ID)
	groups := models.GroupByType(cart)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"purchases":            cart,
		"total_price":          models.TotalPrice(cart),
		"original_total_price": models.OriginalTotalPrice(cart),
		"groups":               groups,
	})
}

// HandleGetPending returns the user's legacy pending purchases
func (h *CartHandler) HandleGetPending(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	pending := h.query.PendingPurchases(user.ID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"purchases":   pending,
		"total_price": models.TotalPrice(pending),
	})
}

// HandleListPurchases returns every non-refunded purchase of the user
func (h *CartHandler) HandleListPurchases(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	purchases := h.query.AllNonRefunded(user.ID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"purchases": purchases,
		"groups":    models.GroupByType(purchases),
	})
}

// HandleAddToCart creates a cart purchase for the requested entity
func (h *CartHandler) HandleAddToCart(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req PurchaseItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	entityType, err := parseProductType(req.EntityType)
	if err != nil {
		return err
	}
	if req.EntityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing entity_id")
	}

	purchase, err := h.purchases.CreatePendingPurchase(services.PurchaseInput{
		UserID:     user.ID,
		EntityType: entityType,
		EntityID:   req.EntityID,
		Price:      req.Price,
	})
	if err != nil {
		return mapPurchaseError(err)
	}

	return c.JSON(http.StatusCreated, purchase)
}

// HandleFreeGrant grants the entity at no charge, completed immediately
func (h *CartHandler) HandleFreeGrant(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req PurchaseItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	entityType, err := parseProductType(req.EntityType)
	if err != nil {
		return err
	}
	if req.EntityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing entity_id")
	}

	purchase, err := h.purchases.CreateFreePurchase(services.PurchaseInput{
		UserID:     user.ID,
		EntityType: entityType,
		EntityID:   req.EntityID,
		Price:      req.Price,
	})
	if err != nil {
		return mapPurchaseError(err)
	}

	return c.JSON(http.StatusCreated, purchase)
}

// HandleClearCart deletes every cart purchase of the user
func (h *CartHandler) HandleClearCart(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	if err := h.purchases.ClearCartPurchases(user.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear cart")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleClearPending deletes the user's legacy pending purchases
func (h *CartHandler) HandleClearPending(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	if err := h.purchases.ClearPendingPurchases(user.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear pending purchases")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCheckOwnership reports whether the user already holds a non-refunded
// purchase of the entity
func (h *CartHandler) HandleCheckOwnership(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	entityType, err := parseProductType(c.QueryParam("entity_type"))
	if err != nil {
		return err
	}
	entityID := c.QueryParam("entity_id")
	if entityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing entity_id")
	}

	existing := h.query.CheckExistingPurchase(user.ID, entityType, entityID)
	resp := map[string]interface{}{"owned": existing != nil}
	if existing != nil {
		resp["purchase"] = existing
	}
	return c.JSON(http.StatusOK, resp)
}

// mapPurchaseError translates service errors to HTTP status codes
func mapPurchaseError(err error) error {
	var dup *services.DuplicatePurchaseError
	switch {
	case errors.Is(err, services.ErrNoMatchingProduct):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrPaymentInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &dup):
		return echo.NewHTTPError(http.StatusConflict, dup.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create purchase")
	}
}
