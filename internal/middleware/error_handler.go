package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIError is the JSON error envelope returned to clients
type APIError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// CustomErrorHandler creates a JSON error handler for Echo
func CustomErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	errorTitle := "Internal Server Error"
	errorMessage := ""

	// Check if it's an Echo HTTPError
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code

		// Try to extract message from HTTPError
		if msg, ok := he.Message.(string); ok && msg != "" {
			errorMessage = msg
		}

		switch code {
		case http.StatusNotFound:
			errorTitle = "Not Found"
			if errorMessage == "" {
				errorMessage = "The requested resource doesn't exist."
			}
		case http.StatusForbidden:
			errorTitle = "Access Denied"
			if errorMessage == "" {
				errorMessage = "You don't have permission to access this resource."
			}
		case http.StatusUnauthorized:
			errorTitle = "Unauthorized"
			if errorMessage == "" {
				errorMessage = "Please log in to continue."
			}
		case http.StatusBadRequest:
			errorTitle = "Bad Request"
			if errorMessage == "" {
				errorMessage = "The request could not be processed."
			}
		case http.StatusConflict:
			errorTitle = "Conflict"
			if errorMessage == "" {
				errorMessage = "The request conflicts with the current state."
			}
		default:
			if errorMessage == "" {
				errorMessage = "Something went wrong. Please try again later."
			}
		}
	} else {
		// Non-HTTPError, use default
		errorMessage = "Something went wrong. Please try again later."
	}

	// Log the error
	c.Logger().Error(err)

	if c.Response().Committed {
		return
	}

	resp := map[string]APIError{"error": {
		Code:    code,
		Title:   errorTitle,
		Message: errorMessage,
	}}

	if writeErr := c.JSON(code, resp); writeErr != nil {
		c.Logger().Error(writeErr)
	}
}
