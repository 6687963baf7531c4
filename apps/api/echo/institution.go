package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/teacher"
)

type institutionApi struct {
	svc        institution.Service
	teacherSvc teacher.Service
	auth       *authenticator
	validate   *validator.Validate
}

func registerInstitutionAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := institutionApi{
		svc:        s.deps.InstitutionSvc,
		teacherSvc: s.deps.TeacherSvc,
		auth:       s.auth,
		validate:   s.validate,
	}

	ig := g.Group("/institutions", jwt, authed(s.auth))
	ig.POST("", api.create, foundationOnly(s.auth))
	ig.GET("", api.query)

	dg := ig.Group("/:id", api.accessMiddleware())
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, foundationOnly(s.auth))
	dg.PUT("/suspension", api.suspend, foundationOnly(s.auth))
	dg.GET("/teachers", api.queryTeachers)
	dg.POST("/teachers", api.createTeacher)

	tg := g.Group("/teachers", jwt, authed(s.auth))
	tg.GET("/:id", api.retrieveTeacher)
	tg.DELETE("/:id", api.deactivateTeacher)
}

// Handlers

func (api *institutionApi) create(ctx echo.Context) error {
	var data institution.NewInstitution
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewInstitution")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	inst, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering institution")
	}
	return ctx.JSON(http.StatusCreated, inst)
}

func (api *institutionApi) query(ctx echo.Context) error {
	p, err := api.auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}
	if !p.IsFoundationManager() {
		// school managers only see their own institution
		inst, err := api.svc.GetByID(ctx.Request().Context(), p.InstitutionID)
		if core.IsNotFound(err) {
			return ctx.JSON(http.StatusOK, []institution.Institution{})
		}
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, []institution.Institution{inst})
	}

	filter := new(institution.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []institution.Institution{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	insts, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying institutions")
	}
	if insts == nil {
		insts = []institution.Institution{}
	}
	return ctx.JSON(http.StatusOK, insts)
}

func (api *institutionApi) retrieve(ctx echo.Context) error {
	inst, ok := ctx.Get("object").(institution.Institution)
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *institutionApi) update(ctx echo.Context) error {
	inst, ok := ctx.Get("object").(institution.Institution)
	if !ok {
		return errHttpNotFound
	}

	var data institution.UpdateInstitution
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateInstitution")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	inst, err := api.svc.Update(ctx.Request().Context(), inst.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating institution")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *institutionApi) suspend(ctx echo.Context) error {
	inst, ok := ctx.Get("object").(institution.Institution)
	if !ok {
		return errHttpNotFound
	}

	var data SuspendRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SuspendRequest")
	}

	inst, err := api.svc.SetSuspended(ctx.Request().Context(), inst.ID, data.Suspended)
	if err != nil {
		return errors.Wrap(err, "suspending institution")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *institutionApi) queryTeachers(ctx echo.Context) error {
	inst, ok := ctx.Get("object").(institution.Institution)
	if !ok {
		return errHttpNotFound
	}

	filter := new(teacher.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []teacher.Teacher{})
	}
	filter.Clean()
	filter.InstitutionID = inst.ID
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ts, err := api.teacherSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	if ts == nil {
		ts = []teacher.Teacher{}
	}
	return ctx.JSON(http.StatusOK, ts)
}

func (api *institutionApi) createTeacher(ctx echo.Context) error {
	inst, ok := ctx.Get("object").(institution.Institution)
	if !ok {
		return errHttpNotFound
	}

	var data teacher.NewTeacher
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTeacher")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	t, err := api.teacherSvc.Register(ctx.Request().Context(), inst.ID, data)
	if err != nil {
		return errors.Wrap(err, "registering teacher")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *institutionApi) contextTeacher(ctx echo.Context) (teacher.Teacher, error) {
	t, err := api.teacherSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return teacher.Teacher{}, err
	}
	if err = institutionAccess(api.auth, t.InstitutionID, ctx); err != nil {
		return teacher.Teacher{}, err
	}
	return t, nil
}

func (api *institutionApi) retrieveTeacher(ctx echo.Context) error {
	t, err := api.contextTeacher(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *institutionApi) deactivateTeacher(ctx echo.Context) error {
	t, err := api.contextTeacher(ctx)
	if err != nil {
		return err
	}
	t, err = api.teacherSvc.Deactivate(ctx.Request().Context(), t.ID)
	if err != nil {
		return errors.Wrap(err, "deactivating teacher")
	}
	return ctx.JSON(http.StatusOK, t)
}

// accessMiddleware loads the institution of the `:id` path param into the context.
func (api *institutionApi) accessMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id := ctx.Param("id")
			if err := institutionAccess(api.auth, id, ctx); err != nil {
				return err
			}
			inst, err := api.svc.GetByID(ctx.Request().Context(), id)
			if err != nil {
				return err
			}
			ctx.Set("object", inst)
			return next(ctx)
		}
	}
}
