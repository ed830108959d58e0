package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/ratepulse/ratepulse/pkg/appcontext"
	"github.com/ratepulse/ratepulse/pkg/ingesterr"
)

// Logger emits one structured line per request. Failed requests log at warn
// with the ingestion error kind attached, so pipeline failures can be
// filtered by taxonomy. Must run after Context so the request id and user id
// are on the context.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			ctx := req.Context()
			fields := map[string]any{
				"request_id":    appcontext.GetRequestID(ctx),
				"method":        req.Method,
				"route":         c.Path(),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"user_agent":    req.UserAgent(),
				"response_time": time.Since(start),
				"response_size": strconv.FormatInt(res.Size, 10),
			}
			if userID := appcontext.GetUserID(ctx); userID != "" {
				fields["user_id"] = userID
			}

			entry := logger.WithContext(ctx).WithFields(fields)
			if err != nil {
				if ingErr, ok := ingesterr.AsError(err); ok {
					entry = entry.WithField("error_kind", string(ingErr.Kind))
				}
				entry.WithError(err).Warn("Request failed")
				return nil
			}
			entry.Info("Request")
			return nil
		}
	}
}
