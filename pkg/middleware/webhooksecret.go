package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

const (
	// HeaderWebhookSecret is the shared-secret header the external scrape
	// worker sends with every push.
	HeaderWebhookSecret = "x-webhook-secret"
)

// WebhookSecret rejects requests whose shared secret does not match the
// configured value. An empty configured secret means the endpoint is not
// provisioned and everything is rejected.
func WebhookSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return httperror.NewHTTPError(http.StatusUnauthorized, "webhook secret is not configured")
			}

			provided := c.Request().Header.Get(HeaderWebhookSecret)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				return httperror.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
			}

			return next(c)
		}
	}
}
