package middleware

import (
	"errors"
	"net/http"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

// RequireAuth returns a middleware that verifies Firebase session cookies and
// resolves the local user record for downstream handlers
func RequireAuth(authClient *auth.Client, db *gorm.DB) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Check if Firebase is initialized
			if authClient == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication is not configured")
			}

			// Get the session cookie
			cookie, err := c.Cookie("session")
			if err != nil || cookie.Value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session")
			}

			// Verify the session cookie
			decodedToken, err := authClient.VerifySessionCookie(c.Request().Context(), cookie.Value)
			if err != nil {
				// Invalid session, clear the cookie so the client re-authenticates
				clearCookie := &http.Cookie{
					Name:     "session",
					Value:    "",
					MaxAge:   -1,
					HttpOnly: true,
					Path:     "/",
				}
				c.SetCookie(clearCookie)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
			}

			user, err := resolveUser(db, decodedToken)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve user")
			}

			c.Set("user", user)
			c.Set("userUID", decodedToken.UID)
			c.Set("userEmail", user.Email)

			return next(c)
		}
	}
}

// resolveUser finds the local mirror of the Firebase user, creating it on
// first sight so a fresh signup can buy immediately
func resolveUser(db *gorm.DB, token *auth.Token) (models.User, error) {
	var user models.User
	err := db.Where("firebase_uid = ?", token.UID).First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, err
	}

	user = models.User{
		FirebaseUID: token.UID,
		Role:        models.UserRoleMember,
	}
	if email, ok := token.Claims["email"].(string); ok {
		user.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		user.Name = name
	}
	if err := db.Create(&user).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

// RequireAdmin guards admin-only endpoints; it must run after RequireAuth
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := c.Get("user").(models.User)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session")
			}
			if !user.IsAdmin() {
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}
