package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/downline/core/matrix"
)

const ctxNodeKey = "node"

var errNodeNotFoundInCtx = errors.New("node not found in echo.Context")

// nodeMiddleware loads the node named by the `:id` path param into the context.
func nodeMiddleware(svc Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			node, err := svc.GetNode(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				return errors.Wrap(err, "getting node")
			}
			ctx.Set(ctxNodeKey, node)
			return next(ctx)
		}
	}
}

func getContextNode(ctx echo.Context) (matrix.Node, error) {
	if node, ok := ctx.Get(ctxNodeKey).(matrix.Node); ok {
		return node, nil
	}
	return matrix.Node{}, errNodeNotFoundInCtx
}
