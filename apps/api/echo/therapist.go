package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rehabquest/core/roster"
)

type therapistApi struct {
	auth     *authenticator
	svc      roster.ServiceInterface
	validate *validator.Validate
}

func registerTherapistAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth *authenticator,
	svc roster.ServiceInterface,
	validate *validator.Validate,
) {
	api := therapistApi{
		auth:     auth,
		svc:      svc,
		validate: validate,
	}

	pg := g.Group("/therapist/patients", jwt, therapistMiddleware(auth))
	pg.GET("", api.roster)
	pg.POST("", api.link)
	pg.GET("/:id", api.details)
	pg.DELETE("/:id", api.unlink)
}

// Handlers

func (api *therapistApi) roster(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	ov, err := api.svc.Roster(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "computing roster")
	}
	return ctx.JSON(http.StatusOK, ov)
}

func (api *therapistApi) link(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data roster.NewLink
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLink")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	link, err := api.svc.LinkPatient(ctx.Request().Context(), usr, data.Patient)
	if err != nil {
		return errors.Wrap(err, "linking patient")
	}
	return ctx.JSON(http.StatusCreated, link)
}

func (api *therapistApi) details(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	d, err := api.svc.PatientDetails(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting patient details")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *therapistApi) unlink(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.UnlinkPatient(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "unlinking patient")
	}
	return ctx.NoContent(http.StatusNoContent)
}
