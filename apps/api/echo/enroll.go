package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core/enroll"
	"github.com/rafikidev/rafiki/core/user"
)

type enrollApi struct {
	svc    enroll.ServiceInterface
	usrSvc user.ServiceInterface
}

func registerEnrollAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := enrollApi{
		svc:    deps.EnrollSvc,
		usrSvc: deps.UserSvc,
	}

	eg := g.Group("/enrollments", jwt)
	eg.POST("", api.enroll)
	eg.GET("", api.query, staffMiddleware())

	dg := eg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/withdraw", api.withdraw)
	dg.GET("/weeks", api.weekProgress)
	dg.GET("/progress", api.overallProgress)

	g.GET("/buddies/:id/dashboard", api.dashboard, jwt)
}

func (api *enrollApi) enroll(ctx echo.Context) error {
	var data EnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	bc, err := api.svc.Enroll(ctx.Request().Context(), actor, data.BuddyID, data.CurriculumID)
	if err != nil {
		return errors.Wrap(err, "enrolling buddy")
	}
	return ctx.JSON(http.StatusCreated, bc)
}

func (api *enrollApi) query(ctx echo.Context) error {
	filter := &enroll.QueryFilter{
		BuddyID:      ctx.QueryParam("buddy_id"),
		CurriculumID: ctx.QueryParam("curriculum_id"),
		Statuses:     csvParam(ctx, "status"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	enrollments, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrollments == nil {
		enrollments = []enroll.BuddyCurriculum{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *enrollApi) retrieve(ctx echo.Context) error {
	bc, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding enrollment")
	}
	return ctx.JSON(http.StatusOK, bc)
}

func (api *enrollApi) withdraw(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	bc, err := api.svc.Withdraw(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "withdrawing enrollment")
	}
	return ctx.JSON(http.StatusOK, bc)
}

func (api *enrollApi) weekProgress(ctx echo.Context) error {
	weeks, err := api.svc.WeekProgress(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying week progress")
	}
	if weeks == nil {
		weeks = []enroll.BuddyWeekProgress{}
	}
	return ctx.JSON(http.StatusOK, weeks)
}

func (api *enrollApi) overallProgress(ctx echo.Context) error {
	overall, err := api.svc.OverallProgress(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing overall progress")
	}
	return ctx.JSON(http.StatusOK, overall)
}

func (api *enrollApi) dashboard(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	dash, err := api.svc.Dashboard(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "building dashboard")
	}
	return ctx.JSON(http.StatusOK, dash)
}

type EnrollRequest struct {
	BuddyID      string `json:"buddy_id"`
	CurriculumID string `json:"curriculum_id"`
}
