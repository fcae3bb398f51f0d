package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
)

// Service is what the API needs from the matrix.
type Service interface {
	Plan() plan.Plan
	PlaceInMatrix(ctx context.Context, req matrix.PlaceRequest) (matrix.Placement, error)
	ComputeCommissions(ctx context.Context, buyerID string, amount, pointValue decimal.Decimal) ([]matrix.Record, error)
	ProcessSale(ctx context.Context, sale matrix.Sale) (matrix.SaleResult, error)
	SaleCommissions(ctx context.Context, saleID string) ([]matrix.Record, error)
	EvaluateQualification(ctx context.Context, nodeID string, targetLevel int) (bool, error)
	HighestLevel(ctx context.Context, nodeID string) (int, error)
	GetNode(ctx context.Context, nodeID string) (matrix.Node, error)
	GetDescendants(ctx context.Context, nodeID string, maxDepth int) ([]matrix.Descendant, error)
	GetTree(ctx context.Context, nodeID string, depth int) (matrix.TreeNode, error)
	GetSpilloverStats(ctx context.Context, nodeID string) (matrix.SpilloverStats, error)
	GetStats(ctx context.Context, nodeID string) (matrix.Stats, error)
	SetTier(ctx context.Context, nodeID string, tier plan.Tier) (matrix.Node, error)
	SetActive(ctx context.Context, nodeID string, active bool) (matrix.Node, error)
	RunQualificationPass(ctx context.Context) (matrix.PassResult, error)
	RunMonthlyReset(ctx context.Context) error
}

var _ Service = (*matrix.Service)(nil)

// default depth of `/tree`; deeper trees are requested explicitly
const defaultTreeDepth = 3

type (
	PreviewRequest struct {
		BuyerID    string          `json:"buyer_id" validate:"required"`
		Amount     decimal.Decimal `json:"amount" validate:"gte=0"`
		PointValue decimal.Decimal `json:"point_value" validate:"gte=0"`
	}

	TierRequest struct {
		Tier plan.Tier `json:"tier" validate:"required"`
	}

	ActiveRequest struct {
		Active *bool `json:"active" validate:"required"`
	}

	QualificationResponse struct {
		UserID    string `json:"user_id"`
		Level     int    `json:"level"`
		Qualified bool   `json:"qualified"`
	}
)

type matrixApi struct {
	svc        Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerMatrixAPI(g *echo.Group, svc Service, validate *validator.Validate, translator ut.Translator) {
	api := matrixApi{svc: svc, validate: validate, translator: translator}

	g.GET("/plan", api.plan)

	mg := g.Group("/matrix")
	mg.POST("/placements", api.place)

	// detail endpoints
	ng := mg.Group("/nodes/:id", nodeMiddleware(svc))
	ng.GET("", api.retrieve)
	ng.GET("/descendants", api.descendants)
	ng.GET("/tree", api.tree)
	ng.GET("/spillover", api.spillover)
	ng.GET("/stats", api.stats)
	ng.GET("/qualification", api.highestLevel)
	ng.GET("/qualification/:level", api.qualification)
	ng.PUT("/tier", api.setTier)
	ng.PUT("/active", api.setActive)

	g.POST("/commissions/preview", api.preview)
	g.POST("/sales", api.processSale)
	g.GET("/sales/:id/commissions", api.saleCommissions)

	jg := g.Group("/jobs")
	jg.POST("/qualification", api.runQualification)
	jg.POST("/monthly-reset", api.runMonthlyReset)
}

func (api *matrixApi) bindAndValidate(ctx echo.Context, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		return core.NewValidationError(errors.Wrap(err, "invalid request body"))
	}
	return core.Validate(api.validate, api.translator, data)
}

// Handlers

func (api *matrixApi) plan(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Plan())
}

func (api *matrixApi) place(ctx echo.Context) error {
	var data matrix.PlaceRequest
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	placement, err := api.svc.PlaceInMatrix(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "placing in matrix")
	}
	return ctx.JSON(http.StatusCreated, placement)
}

func (api *matrixApi) retrieve(ctx echo.Context) error {
	node, err := getContextNode(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context node")
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *matrixApi) descendants(ctx echo.Context) error {
	var depth Depth
	if err := depth.Bind(ctx, 0); err != nil {
		return err
	}
	desc, err := api.svc.GetDescendants(ctx.Request().Context(), ctx.Param("id"), depth.Value)
	if err != nil {
		return errors.Wrap(err, "getting descendants")
	}
	return ctx.JSON(http.StatusOK, desc)
}

func (api *matrixApi) tree(ctx echo.Context) error {
	var depth Depth
	if err := depth.Bind(ctx, defaultTreeDepth); err != nil {
		return err
	}
	tree, err := api.svc.GetTree(ctx.Request().Context(), ctx.Param("id"), depth.Value)
	if err != nil {
		return errors.Wrap(err, "getting tree")
	}
	return ctx.JSON(http.StatusOK, tree)
}

func (api *matrixApi) spillover(ctx echo.Context) error {
	stats, err := api.svc.GetSpilloverStats(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting spillover stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *matrixApi) stats(ctx echo.Context) error {
	stats, err := api.svc.GetStats(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *matrixApi) highestLevel(ctx echo.Context) error {
	id := ctx.Param("id")
	level, err := api.svc.HighestLevel(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting highest level")
	}
	return ctx.JSON(http.StatusOK, QualificationResponse{UserID: id, Level: level, Qualified: level > 0})
}

func (api *matrixApi) qualification(ctx echo.Context) error {
	level, err := pathLevel(ctx)
	if err != nil {
		return err
	}
	id := ctx.Param("id")
	ok, err := api.svc.EvaluateQualification(ctx.Request().Context(), id, level)
	if err != nil {
		return errors.Wrap(err, "evaluating qualification")
	}
	return ctx.JSON(http.StatusOK, QualificationResponse{UserID: id, Level: level, Qualified: ok})
}

func (api *matrixApi) setTier(ctx echo.Context) error {
	var data TierRequest
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	node, err := api.svc.SetTier(ctx.Request().Context(), ctx.Param("id"), data.Tier)
	if err != nil {
		return errors.Wrap(err, "setting tier")
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *matrixApi) setActive(ctx echo.Context) error {
	var data ActiveRequest
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	node, err := api.svc.SetActive(ctx.Request().Context(), ctx.Param("id"), *data.Active)
	if err != nil {
		return errors.Wrap(err, "setting active")
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *matrixApi) preview(ctx echo.Context) error {
	var data PreviewRequest
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	records, err := api.svc.ComputeCommissions(ctx.Request().Context(), data.BuyerID, data.Amount, data.PointValue)
	if err != nil {
		return errors.Wrap(err, "computing commissions")
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *matrixApi) processSale(ctx echo.Context) error {
	var data matrix.Sale
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	res, err := api.svc.ProcessSale(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "processing sale")
	}
	code := http.StatusCreated
	if !res.Paid {
		code = http.StatusOK
	}
	return ctx.JSON(code, res)
}

func (api *matrixApi) saleCommissions(ctx echo.Context) error {
	records, err := api.svc.SaleCommissions(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting sale commissions")
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *matrixApi) runQualification(ctx echo.Context) error {
	res, err := api.svc.RunQualificationPass(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "running qualification pass")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *matrixApi) runMonthlyReset(ctx echo.Context) error {
	if err := api.svc.RunMonthlyReset(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "running monthly reset")
	}
	return ctx.NoContent(http.StatusNoContent)
}
