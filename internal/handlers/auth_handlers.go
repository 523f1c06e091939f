package handlers

import (
	"net/http"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omriozer/ludora-checkout/internal/models"
)

const sessionExpiry = 5 * 24 * time.Hour

// AuthHandler exchanges Firebase ID tokens for session cookies and keeps the
// local user mirror in sync
type AuthHandler struct {
	authClient *auth.Client
	db         *gorm.DB
}

func NewAuthHandler(authClient *auth.Client, db *gorm.DB) *AuthHandler {
	return &AuthHandler{authClient: authClient, db: db}
}

type loginRequest struct {
	IDToken string `json:"idToken"`
}

// HandleLogin verifies the Firebase ID token and issues a session cookie
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	if h.authClient == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication is not configured")
	}

	var req loginRequest
	if err := c.Bind(&req); err != nil || req.IDToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing idToken")
	}

	ctx := c.Request().Context()
	decodedToken, err := h.authClient.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid ID token")
	}

	// Create the session cookie
	sessionCookie, err := h.authClient.SessionCookie(ctx, req.IDToken, sessionExpiry)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	user, err := h.upsertUser(decodedToken)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record user")
	}

	cookie := &http.Cookie{
		Name:     "session",
		Value:    sessionCookie,
		MaxAge:   int(sessionExpiry.Seconds()),
		HttpOnly: true,
		Secure:   c.Scheme() == "https",
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"user":   user,
	})
}

// upsertUser keeps the local mirror current with the token's profile claims
func (h *AuthHandler) upsertUser(token *auth.Token) (models.User, error) {
	user := models.User{
		FirebaseUID: token.UID,
		Role:        models.UserRoleMember,
	}
	if email, ok := token.Claims["email"].(string); ok {
		user.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		user.Name = name
	}

	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "firebase_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return models.User{}, err
	}

	// Re-read so the caller sees the stored role and ID
	err = h.db.Where("firebase_uid = ?", token.UID).First(&user).Error
	return user, err
}

// HandleLogout clears the session cookie
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	cookie := &http.Cookie{
		Name:     "session",
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMe returns the authenticated user's profile
func (h *AuthHandler) HandleMe(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}
