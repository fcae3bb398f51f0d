package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
)

// retryAfter is the Retry-After (seconds) sent with concurrency errors.
const retryAfter = 1

// matrixErrorCode maps a matrix error to an HTTP status; ok is false for errors the matrix does not know.
func matrixErrorCode(err error) (code int, ok bool) {
	switch errors.Cause(err) {
	case matrix.ErrDuplicateNode, matrix.ErrRootAlreadyExists:
		return http.StatusConflict, true
	}

	switch matrix.Kind(err) {
	case matrix.KindStructural:
		return http.StatusNotFound, true
	case matrix.KindCapacity:
		return http.StatusConflict, true
	case matrix.KindConcurrency:
		return http.StatusServiceUnavailable, true
	case matrix.KindConfiguration:
		return http.StatusBadRequest, true
	default:
		return 0, false
	}
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
func newAppHTTPErrorHandler(logger core.Logger) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		if mCode, ok := matrixErrorCode(err); ok {
			code = mCode
			message = errors.Cause(err).Error()
			if code == http.StatusServiceUnavailable {
				ctx.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
		} else {
			switch origErr := errors.Cause(err).(type) {
			case *echo.HTTPError:
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case *core.ValidationError:
				if origErr.Fields != nil {
					fldErrs := make(map[string]string, len(origErr.Fields))
					for _, fErr := range origErr.Fields {
						fldErrs[fErr.Field] = fErr.Error
					}
					message = fldErrs
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				logger.Error(msg, errors.Wrap(err, msg), map[string]interface{}{
					"method": ctx.Request().Method,
					"path":   ctx.Request().URL.Path,
				})
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
