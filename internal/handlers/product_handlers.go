package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omriozer/ludora-checkout/internal/models"
	"github.com/omriozer/ludora-checkout/internal/services"
)

// ProductHandler serves the purchasable catalog
type ProductHandler struct {
	products *services.ProductService
}

func NewProductHandler(products *services.ProductService) *ProductHandler {
	return &ProductHandler{products: products}
}

// HandleListProducts returns the published catalog, optionally filtered by
// type via the `type` query parameter
func (h *ProductHandler) HandleListProducts(c echo.Context) error {
	var productType models.ProductType
	if raw := c.QueryParam("type"); raw != "" {
		parsed, err := parseProductType(raw)
		if err != nil {
			return err
		}
		productType = parsed
	}

	products, err := h.products.ListPublished(c.Request().Context(), productType)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load catalog")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"products": products})
}

// HandleResolveProduct finds the catalog record for an entity
func (h *ProductHandler) HandleResolveProduct(c echo.Context) error {
	entityType, err := parseProductType(c.QueryParam("entity_type"))
	if err != nil {
		return err
	}
	entityID := c.QueryParam("entity_id")
	if entityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing entity_id")
	}

	product, err := h.products.Resolve(c.Request().Context(), entityType, entityID)
	if err != nil {
		if errors.Is(err, services.ErrNoMatchingProduct) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve product")
	}

	return c.JSON(http.StatusOK, product)
}

type productRequest struct {
	ID          uint    `json:"id"`
	EntityType  string  `json:"entity_type"`
	EntityID    string  `json:"entity_id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	IsPublished bool    `json:"is_published"`
}

// HandleUpsertProduct creates or updates a catalog record. Admin only.
func (h *ProductHandler) HandleUpsertProduct(c echo.Context) error {
	var req productRequest
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
	if req.Price < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price must not be negative")
	}

	product := models.Product{
		ID:          req.ID,
		ProductType: entityType,
		EntityID:    req.EntityID,
		Name:        req.Name,
		Price:       req.Price,
		IsPublished: req.IsPublished,
	}
	if err := h.products.Upsert(c.Request().Context(), &product); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save product")
	}

	return c.JSON(http.StatusOK, product)
}
