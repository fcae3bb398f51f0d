package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/downline/core"
)

var (
	depthParam = "depth"
	levelParam = "level"
)

const errNotAnInteger = "must be an integer"

// Depth is the `depth` query parameter of tree-like endpoints.
type Depth struct {
	Value int
}

// Bind reads `depth`, falling back to def when it is absent.
func (d *Depth) Bind(ctx echo.Context, def int) error {
	d.Value = def
	val := ctx.QueryParam(depthParam)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return core.NewValidationError(nil, core.FieldError{Field: depthParam, Error: "must be a non-negative integer"})
	}
	d.Value = n
	return nil
}

func pathLevel(ctx echo.Context) (int, error) {
	n, err := strconv.Atoi(ctx.Param(levelParam))
	if err != nil {
		return 0, core.NewValidationError(nil, core.FieldError{Field: levelParam, Error: errNotAnInteger})
	}
	return n, nil
}
