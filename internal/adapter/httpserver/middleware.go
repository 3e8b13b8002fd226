package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/platform/correlation"
	apperrors "github.com/crxwnd/digitalizacionTV/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

const operatorKey = "operator"

// correlationMiddleware tags the request context with a correlation ID and,
// on routes addressing a screen by code, the screen code.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		if code := c.Param("code"); code != "" {
			ctx = correlation.WithScreen(ctx, code)
		}
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

// requireOperator verifies the bearer token and stores the operator on the context.
func (s *Server) requireOperator(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		op, err := s.auth.Verify(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return apperrors.UnauthorizedError("authentication required").WithField("reason", err.Error())
		}
		c.Set(operatorKey, *op)
		return next(c)
	}
}

// requireAdmin must run after requireOperator.
func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		op, err := operatorFrom(c)
		if err != nil {
			return err
		}
		if !op.IsAdmin() {
			return apperrors.ForbiddenError("admin role required").WithField("role", string(op.Role))
		}
		return next(c)
	}
}

func operatorFrom(c echo.Context) (domain.Operator, error) {
	op, ok := c.Get(operatorKey).(domain.Operator)
	if !ok {
		return domain.Operator{}, apperrors.InternalError("operator missing from request context", nil)
	}
	return op, nil
}

// renderErrors writes handler errors as structured JSON. echo.HTTPErrors are
// left for httpErrorHandler so routing failures keep their status.
func renderErrors(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		var httpErr *echo.HTTPError
		if err == nil || errors.As(err, &httpErr) {
			return err
		}
		return HandleError(c, err)
	}
}

type logFunc func(msg string, attrs ...any)

// logLevelFor routes client mistakes to info and server faults to error.
func logLevelFor(c echo.Context, t apperrors.ErrorType) (logFunc, string) {
	ctx := c.Request().Context()
	info := func(msg string, attrs ...any) { slog.InfoContext(ctx, msg, attrs...) }
	warn := func(msg string, attrs ...any) { slog.WarnContext(ctx, msg, attrs...) }
	fail := func(msg string, attrs ...any) { slog.ErrorContext(ctx, msg, attrs...) }

	switch t {
	case apperrors.TypeValidation:
		return info, "Rejected request"
	case apperrors.TypeNotFound:
		return info, "Not found"
	case apperrors.TypeUnauthorized, apperrors.TypeForbidden:
		return info, "Access denied"
	case apperrors.TypeConflict, apperrors.TypeRateLimited:
		return warn, "Request refused"
	case apperrors.TypeTimeout:
		return warn, "Screen did not answer in time"
	case apperrors.TypeExternal:
		return fail, "Backing service failed"
	default:
		return fail, "Internal error"
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"method", c.Request().Method,
		"route", c.Path(),
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if op, ok := c.Get(operatorKey).(domain.Operator); ok {
		attrs = append(attrs, "user_id", op.UserID, "role", op.Role)
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause)
	}

	log, msg := logLevelFor(c, err.Type)
	log(msg, attrs...)
}

// HandleError maps err onto a structured JSON response. Domain sentinels keep
// their status; anything unrecognised becomes a 500 without leaking the cause.
func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structured := apperrors.FromDomain(err)
	logError(c, structured)
	if err := c.JSON(structured.HTTPStatus(), structured.ToResponse()); err != nil {
		return fmt.Errorf("write error response: %w", err)
	}
	return nil
}

// httpErrorHandler renders errors that escape the middleware chain, such as
// unknown routes and binder failures, in the structured shape.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		_ = HandleError(c, err)
		return
	}

	if err := c.JSON(httpErr.Code, fromHTTPError(httpErr).ToResponse()); err != nil {
		slog.WarnContext(c.Request().Context(), "Failed to write error response", "error", err)
	}
}

var httpErrorTypes = map[int]apperrors.ErrorType{
	http.StatusBadRequest:           apperrors.TypeValidation,
	http.StatusUnsupportedMediaType: apperrors.TypeValidation,
	http.StatusUnauthorized:         apperrors.TypeUnauthorized,
	http.StatusForbidden:            apperrors.TypeForbidden,
	http.StatusNotFound:             apperrors.TypeNotFound,
	http.StatusMethodNotAllowed:     apperrors.TypeNotFound,
	http.StatusRequestTimeout:       apperrors.TypeTimeout,
	http.StatusConflict:             apperrors.TypeConflict,
	http.StatusTooManyRequests:      apperrors.TypeRateLimited,
	http.StatusBadGateway:           apperrors.TypeExternal,
	http.StatusServiceUnavailable:   apperrors.TypeExternal,
}

func fromHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	errType, ok := httpErrorTypes[httpErr.Code]
	if !ok {
		errType = apperrors.TypeInternal
	}

	message := "internal server error"
	if msg, ok := httpErr.Message.(string); ok && errType != apperrors.TypeInternal {
		message = msg
	}

	return &apperrors.Error{
		Type:    errType,
		Message: message,
		Cause:   httpErr.Internal,
		Context: map[string]any{},
	}
}
