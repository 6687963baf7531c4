package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/metrics"
)

type metricsApi struct {
	svc      metrics.Service
	auth     *authenticator
	validate *validator.Validate
}

// ScoreRequest previews the eligibility score of an institution.
type ScoreRequest struct {
	InstitutionID string `json:"institution_id" validate:"required,uuid"`
	eligibility.Input
}

func registerMetricsAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := metricsApi{
		svc:      s.deps.MetricsSvc,
		auth:     s.auth,
		validate: s.validate,
	}

	g.POST("/institutions/:id/metrics", api.submit, jwt, authed(s.auth))
	g.POST("/eligibility/score", api.score, jwt, authed(s.auth))

	mg := g.Group("/metrics", jwt, authed(s.auth))
	mg.GET("", api.query)
	mg.GET("/:id", api.retrieve)
	mg.POST("/:id/validation", api.review, foundationOnly(s.auth))
}

// Handlers

func (api *metricsApi) submit(ctx echo.Context) error {
	institutionID := ctx.Param("id")
	if err := institutionAccess(api.auth, institutionID, ctx); err != nil {
		return err
	}

	var data metrics.NewMetrics
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMetrics")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}

	m, err := api.svc.Submit(ctx.Request().Context(), institutionID, data, p.ID)
	if err != nil {
		return errors.Wrap(err, "submitting metrics")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *metricsApi) score(ctx echo.Context) error {
	var data ScoreRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ScoreRequest")
	}
	data.InstitutionID = core.CleanString(data.InstitutionID, true /* lower */)
	if err := api.validate.Struct(&data); err != nil {
		return err
	}
	if err := institutionAccess(api.auth, data.InstitutionID, ctx); err != nil {
		return err
	}

	res, err := api.svc.Score(ctx.Request().Context(), data.InstitutionID, data.Input)
	if err != nil {
		return errors.Wrap(err, "scoring metrics")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *metricsApi) query(ctx echo.Context) error {
	filter := new(metrics.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []metrics.MonthlyMetrics{})
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

	ms, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying metrics")
	}
	if ms == nil {
		ms = []metrics.MonthlyMetrics{}
	}
	return ctx.JSON(http.StatusOK, ms)
}

func (api *metricsApi) retrieve(ctx echo.Context) error {
	m, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if err = institutionAccess(api.auth, m.InstitutionID, ctx); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *metricsApi) review(ctx echo.Context) error {
	var data metrics.Review
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}

	m, err := api.svc.Validate(ctx.Request().Context(), ctx.Param("id"), p.ID, data)
	if err != nil {
		return errors.Wrap(err, "validating metrics")
	}
	return ctx.JSON(http.StatusOK, m)
}
