package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/mission"
)

type missionApi struct {
	auth     *authenticator
	svc      mission.ServiceInterface
	validate *validator.Validate
	conf     *core.Config
}

func registerMissionAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth *authenticator,
	svc mission.ServiceInterface,
	validate *validator.Validate,
	conf *core.Config,
) {
	api := missionApi{
		auth:     auth,
		svc:      svc,
		validate: validate,
		conf:     conf,
	}

	mg := g.Group("/missions", jwt, patientMiddleware(auth))
	mg.GET("", api.missionMap)
	mg.GET("/progress", api.progress)
	mg.GET("/history", api.history)
	mg.POST("/:id/complete", api.complete)
}

// Handlers

func (api *missionApi) missionMap(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	entries, err := api.svc.Map(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "building mission map")
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *missionApi) progress(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	p, err := api.svc.Progress(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "summarizing progress")
	}
	weekly, err := api.svc.Weekly(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "counting weekly activity")
	}
	return ctx.JSON(http.StatusOK, ProgressResponse{Progress: p, Gems: usr.Gems, Weekly: weekly})
}

func (api *missionApi) history(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	limit := intQueryParam(ctx, "limit", api.conf.Ledger.HistoryLimit)
	results, err := api.svc.History(ctx.Request().Context(), usr.ID, limit)
	if err != nil {
		return errors.Wrap(err, "querying history")
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *missionApi) complete(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data CompleteRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CompleteRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	out, err := api.svc.CompleteMission(ctx.Request().Context(), usr.ID, ctx.Param("id"), data.DurationSeconds)
	if err != nil {
		return errors.Wrap(err, "completing mission")
	}
	return ctx.JSON(http.StatusOK, out)
}

type (
	CompleteRequest struct {
		DurationSeconds *int `json:"duration_seconds" validate:"omitempty,min=0"`
	}

	ProgressResponse struct {
		mission.Progress
		Gems   int                   `json:"gems"`
		Weekly []mission.DayActivity `json:"weekly_activity"`
	}
)
