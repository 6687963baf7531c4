package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core/profile"
)

type profileApi struct {
	svc      profile.Service
	auth     *authenticator
	validate *validator.Validate
}

func registerProfileAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := profileApi{
		svc:      s.deps.ProfileSvc,
		auth:     s.auth,
		validate: s.validate,
	}

	// un-authed endpoints
	g.POST("/auth/login", api.login)

	ag := g.Group("", jwt, authed(s.auth))
	ag.POST("/auth/token-refresh", api.refreshToken)

	pg := ag.Group("/profiles")
	pg.GET("/me", api.me)
	pg.GET("/roles", api.queryRoles)
	pg.POST("", api.create, foundationOnly(s.auth))
	pg.GET("", api.query, foundationOnly(s.auth))

	// detail endpoints
	dg := pg.Group("/:id", api.selfOrFoundationMiddleware())
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
}

// Handlers

func (api *profileApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	token, err := api.auth.authenticate(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *profileApi) refreshToken(ctx echo.Context) error {
	token, err := api.auth.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *profileApi) me(ctx echo.Context) error {
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *profileApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, profile.Roles)
}

func (api *profileApi) create(ctx echo.Context) error {
	var data profile.NewProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProfile")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	p, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating profile")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *profileApi) query(ctx echo.Context) error {
	filter := new(profile.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []profile.Profile{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	profiles, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying profiles")
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	return ctx.JSON(http.StatusOK, profiles)
}

func (api *profileApi) retrieve(ctx echo.Context) error {
	p, ok := ctx.Get("object").(profile.Profile)
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *profileApi) update(ctx echo.Context) error {
	p, ok := ctx.Get("object").(profile.Profile)
	if !ok {
		return errHttpNotFound
	}

	var data profile.UpdateProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}

	ctxProfile, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}
	// `IsActive` and `Permissions` can only be changed by foundation managers
	if !ctxProfile.IsFoundationManager() && (data.IsActive != nil || data.Permissions != nil) {
		return errHttpForbidden
	}
	if err = data.Validate(p, api.validate); err != nil {
		return err
	}

	p, err = api.svc.Update(ctx.Request().Context(), p.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *profileApi) selfOrFoundationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxProfile, err := api.auth.getContextProfile(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context profile")
			}

			if ctx.Param("id") == ctxProfile.ID || ctxProfile.IsFoundationManager() {
				p, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
				if err == nil {
					ctx.Set("object", p)
					return next(ctx)
				}
				return err
			}
			return errHttpNotFound
		}
	}
}
