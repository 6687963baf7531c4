package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
)

type distributionApi struct {
	svc      distribution.Service
	auth     *authenticator
	validate *validator.Validate
}

func registerDistributionAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := distributionApi{
		svc:      s.deps.DistributionSvc,
		auth:     s.auth,
		validate: s.validate,
	}
	fm := foundationOnly(s.auth)

	dg := g.Group("/distributions", jwt, authed(s.auth))
	dg.GET("", api.query)
	dg.POST("/plan", api.plan, fm)
	dg.POST("/plan-period", api.planPeriod, fm)
	dg.POST("/reconcile", api.reconcilePending, fm)

	dg.GET("/:id", api.retrieve)
	dg.GET("/:id/evaluation", api.evaluate, fm)
	dg.POST("/:id/approve", api.approve, fm)
	dg.POST("/:id/reject", api.reject, fm)
	dg.POST("/:id/execute", api.execute, fm)
	dg.POST("/:id/reconcile", api.reconcile, fm)
	dg.POST("/:id/confirmation", api.confirm, fm)
}

// Handlers

func (api *distributionApi) query(ctx echo.Context) error {
	filter := new(distribution.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []distribution.Distribution{})
	}
	filter.Clean()

	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}
	if !p.IsFoundationManager() {
		filter.InstitutionID = p.InstitutionID
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ds, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying distributions")
	}
	if ds == nil {
		ds = []distribution.Distribution{}
	}
	return ctx.JSON(http.StatusOK, ds)
}

func (api *distributionApi) retrieve(ctx echo.Context) error {
	d, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if err = institutionAccess(api.auth, d.InstitutionID, ctx); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *distributionApi) plan(ctx echo.Context) error {
	var data distribution.PlanRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PlanRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Plan(ctx.Request().Context(), data.InstitutionID, data.Period())
	if err != nil {
		return errors.Wrap(err, "planning distribution")
	}
	if res.Distribution == nil {
		return ctx.JSON(http.StatusOK, res)
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *distributionApi) planPeriod(ctx echo.Context) error {
	var period core.Period
	if err := ctx.Bind(&period); err != nil {
		return errors.Wrap(err, "binding to Period")
	}

	results, err := api.svc.PlanPeriod(ctx.Request().Context(), period)
	if err != nil {
		return errors.Wrap(err, "planning period")
	}
	if results == nil {
		results = []distribution.PlanResult{}
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *distributionApi) evaluate(ctx echo.Context) error {
	decision, err := api.svc.Evaluate(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "evaluating distribution")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"decision": decision})
}

func (api *distributionApi) approve(ctx echo.Context) error {
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}
	d, err := api.svc.Approve(ctx.Request().Context(), ctx.Param("id"), p.ID)
	if err != nil {
		return errors.Wrap(err, "approving distribution")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *distributionApi) reject(ctx echo.Context) error {
	var data distribution.Rejection
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Rejection")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}

	d, err := api.svc.Reject(ctx.Request().Context(), ctx.Param("id"), p.ID, data.Reason)
	if err != nil {
		return errors.Wrap(err, "rejecting distribution")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *distributionApi) execute(ctx echo.Context) error {
	d, err := api.svc.Execute(ctx.Request().Context(), ctx.Param("id"))
	if core.IsSettlementTimeout(err) && d.Status == distribution.StatusReconciling {
		// pending verification: neither a success nor a failure
		return ctx.JSON(http.StatusAccepted, d)
	}
	if err != nil {
		return errors.Wrap(err, "executing distribution")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *distributionApi) reconcile(ctx echo.Context) error {
	d, err := api.svc.Reconcile(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "reconciling distribution")
	}
	if d.Status == distribution.StatusReconciling {
		return ctx.JSON(http.StatusAccepted, d)
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *distributionApi) reconcilePending(ctx echo.Context) error {
	n, err := api.svc.ReconcilePending(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "reconciling distributions")
	}
	return ctx.JSON(http.StatusOK, ReconcileResponse{Resolved: n})
}

func (api *distributionApi) confirm(ctx echo.Context) error {
	var data distribution.SettlementConfirmation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SettlementConfirmation")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}

	d, err := api.svc.Confirm(ctx.Request().Context(), ctx.Param("id"), p.ID, data)
	if err != nil {
		return errors.Wrap(err, "confirming settlement")
	}
	return ctx.JSON(http.StatusOK, d)
}
