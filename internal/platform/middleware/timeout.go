package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/qeditor/internal/platform/fhir"
)

// RequestTimeout puts a deadline on the request context. Handlers that fail
// because the deadline passed answer 504 with an OperationOutcome.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return c.JSON(http.StatusGatewayTimeout, fhir.NewOperationOutcome(
					fhir.IssueSeverityError, fhir.IssueTypeTimeout, "request processing exceeded the allowed time"))
			}
			return err
		}
	}
}
