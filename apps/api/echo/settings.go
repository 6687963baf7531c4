package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/settings"
)

type settingsApi struct {
	svc      settings.Service
	auth     *authenticator
	validate *validator.Validate
}

func registerSettingsAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := settingsApi{
		svc:      s.deps.SettingsSvc,
		auth:     s.auth,
		validate: s.validate,
	}

	sg := g.Group("/settings", jwt, authed(s.auth))
	sg.GET("/policy", api.policy)
	sg.GET("", api.list, foundationOnly(s.auth))
	sg.PUT("", api.set, foundationOnly(s.auth))
}

func (api *settingsApi) policy(ctx echo.Context) error {
	policy, err := api.svc.Policy(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "loading funding policy")
	}
	return ctx.JSON(http.StatusOK, policy)
}

func (api *settingsApi) list(ctx echo.Context) error {
	ss, err := api.svc.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing settings")
	}
	return ctx.JSON(http.StatusOK, ss)
}

func (api *settingsApi) set(ctx echo.Context) error {
	var data []settings.UpdateSetting
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to []UpdateSetting")
	}
	if len(data) == 0 {
		return core.NewValidationError(errors.New("no settings provided"))
	}
	for i := range data {
		if err := data[i].Validate(api.validate); err != nil {
			return err
		}
	}
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}

	ss, err := api.svc.Set(ctx.Request().Context(), p.ID, data...)
	if err != nil {
		return errors.Wrap(err, "updating settings")
	}
	return ctx.JSON(http.StatusOK, ss)
}
