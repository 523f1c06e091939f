package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

// UserHandler serves the admin user endpoints
type UserHandler struct {
	db *gorm.DB
}

func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// HandleListUsers returns all users with their purchases. Admin only.
func (h *UserHandler) HandleListUsers(c echo.Context) error {
	var users []models.User
	err := h.db.Preload("Purchases").Order("created_at asc").Find(&users).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load users")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"users": users})
}

type roleRequest struct {
	Role string `json:"role"`
}

// HandleSetUserRole changes a user's role. Admin only.
func (h *UserHandler) HandleSetUserRole(c echo.Context) error {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	role := models.UserRole(req.Role)
	if role != models.UserRoleAdmin && role != models.UserRoleMember {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown role")
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user")
	}

	user.Role = role
	if err := h.db.Save(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update user")
	}

	return c.JSON(http.StatusOK, user)
}
