package echoapi

import (
	"net/http"
	"net/mail"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/analytics"
	"github.com/educhain/educhain/core/distribution"
)

type analyticsApi struct {
	svc      analytics.Service
	validate *validator.Validate
}

func registerAnalyticsAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := analyticsApi{
		svc:      s.deps.AnalyticsSvc,
		validate: s.validate,
	}

	fm := foundationOnly(s.auth)
	g.GET("/analytics/summary", api.summary, jwt, fm)
	g.GET("/reports/distributions", api.distributionReport, jwt, fm)
	g.POST("/reports/distributions/email", api.sendDistributionReport, jwt, fm)
}

func (api *analyticsApi) summary(ctx echo.Context) error {
	s, err := api.svc.Summary(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing summary")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *analyticsApi) distributionReport(ctx echo.Context) error {
	filter := new(distribution.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="distributions.csv"`)
	resp.WriteHeader(http.StatusOK)

	_, err := api.svc.DistributionReport(ctx.Request().Context(), resp, filter)
	return errors.Wrap(err, "writing distributions report")
}

func (api *analyticsApi) sendDistributionReport(ctx echo.Context) error {
	var data ReportRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReportRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	to := make([]mail.Address, 0, len(data.To))
	for _, addr := range data.To {
		to = append(to, mail.Address{Address: addr})
	}
	rep, err := api.svc.SendDistributionReport(ctx.Request().Context(), core.Period{Year: data.Year, Month: data.Month}, to...)
	if err != nil {
		return errors.Wrap(err, "sending distributions report")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"rows": rep.Rows, "total": rep.Total})
}
