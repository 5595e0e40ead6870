package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/user"
)

type curriculumApi struct {
	svc      curriculum.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerCurriculumAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := curriculumApi{
		svc:      deps.CurriculumSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	cg := g.Group("/curricula", jwt)
	cg.POST("", api.create)
	cg.GET("", api.query)

	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/publish", api.publish)
	dg.POST("/unpublish", api.unpublish)
	dg.POST("/archive", api.archive)
	dg.POST("/duplicate", api.duplicate)
	dg.POST("/weeks", api.addWeek)
	dg.GET("/weeks", api.queryWeeks)

	wg := g.Group("/weeks/:id", jwt)
	wg.GET("", api.retrieveWeek)
	wg.PUT("", api.updateWeek)
	wg.DELETE("", api.destroyWeek)
	wg.POST("/templates", api.addTemplate)
	wg.GET("/templates", api.queryTemplates)

	tg := g.Group("/templates/:id", jwt)
	tg.GET("", api.retrieveTemplate)
	tg.PUT("", api.updateTemplate)
	tg.DELETE("", api.destroyTemplate)
	tg.POST("/archive", api.archiveTemplate)
}

func (api *curriculumApi) create(ctx echo.Context) error {
	var data curriculum.NewCurriculum
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCurriculum")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	cur, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating curriculum")
	}
	return ctx.JSON(http.StatusCreated, cur)
}

func (api *curriculumApi) query(ctx echo.Context) error {
	filter := new(curriculum.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	curs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying curricula")
	}
	if curs == nil {
		curs = []curriculum.Curriculum{}
	}
	return ctx.JSON(http.StatusOK, curs)
}

func (api *curriculumApi) retrieve(ctx echo.Context) error {
	cur, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding curriculum")
	}
	return ctx.JSON(http.StatusOK, cur)
}

func (api *curriculumApi) update(ctx echo.Context) error {
	var data curriculum.UpdateCurriculum
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCurriculum")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	cur, err := api.svc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating curriculum")
	}
	return ctx.JSON(http.StatusOK, cur)
}

func (api *curriculumApi) destroy(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting curriculum")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// transition groups the four status actions behind one handler shape.
func (api *curriculumApi) transition(
	ctx echo.Context,
	op func(actor user.Actor, id string) (curriculum.Curriculum, error),
	msg string,
) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	cur, err := op(actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, msg)
	}
	return ctx.JSON(http.StatusOK, cur)
}

func (api *curriculumApi) publish(ctx echo.Context) error {
	return api.transition(ctx, func(actor user.Actor, id string) (curriculum.Curriculum, error) {
		return api.svc.Publish(ctx.Request().Context(), actor, id)
	}, "publishing curriculum")
}

func (api *curriculumApi) unpublish(ctx echo.Context) error {
	return api.transition(ctx, func(actor user.Actor, id string) (curriculum.Curriculum, error) {
		return api.svc.Unpublish(ctx.Request().Context(), actor, id)
	}, "unpublishing curriculum")
}

func (api *curriculumApi) archive(ctx echo.Context) error {
	return api.transition(ctx, func(actor user.Actor, id string) (curriculum.Curriculum, error) {
		return api.svc.Archive(ctx.Request().Context(), actor, id)
	}, "archiving curriculum")
}

func (api *curriculumApi) duplicate(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	cur, err := api.svc.Duplicate(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "duplicating curriculum")
	}
	return ctx.JSON(http.StatusCreated, cur)
}

// Weeks

func (api *curriculumApi) addWeek(ctx echo.Context) error {
	var data curriculum.NewWeek
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewWeek")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	week, err := api.svc.AddWeek(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding week")
	}
	return ctx.JSON(http.StatusCreated, week)
}

func (api *curriculumApi) queryWeeks(ctx echo.Context) error {
	weeks, err := api.svc.QueryWeeks(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying weeks")
	}
	if weeks == nil {
		weeks = []curriculum.Week{}
	}
	return ctx.JSON(http.StatusOK, weeks)
}

func (api *curriculumApi) retrieveWeek(ctx echo.Context) error {
	week, err := api.svc.GetWeek(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding week")
	}
	return ctx.JSON(http.StatusOK, week)
}

func (api *curriculumApi) updateWeek(ctx echo.Context) error {
	var data curriculum.NewWeek
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewWeek")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	week, err := api.svc.UpdateWeek(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating week")
	}
	return ctx.JSON(http.StatusOK, week)
}

func (api *curriculumApi) destroyWeek(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteWeek(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting week")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Task templates

func (api *curriculumApi) addTemplate(ctx echo.Context) error {
	var data curriculum.NewTaskTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTaskTemplate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	tpl, err := api.svc.AddTemplate(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding task template")
	}
	return ctx.JSON(http.StatusCreated, tpl)
}

func (api *curriculumApi) queryTemplates(ctx echo.Context) error {
	tpls, err := api.svc.QueryTemplates(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying task templates")
	}
	if tpls == nil {
		tpls = []curriculum.TaskTemplate{}
	}
	return ctx.JSON(http.StatusOK, tpls)
}

func (api *curriculumApi) retrieveTemplate(ctx echo.Context) error {
	tpl, err := api.svc.GetTemplate(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding task template")
	}
	return ctx.JSON(http.StatusOK, tpl)
}

func (api *curriculumApi) updateTemplate(ctx echo.Context) error {
	var data curriculum.NewTaskTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTaskTemplate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	tpl, err := api.svc.UpdateTemplate(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating task template")
	}
	return ctx.JSON(http.StatusOK, tpl)
}

func (api *curriculumApi) destroyTemplate(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteTemplate(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting task template")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *curriculumApi) archiveTemplate(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	tpl, err := api.svc.ArchiveTemplate(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "archiving task template")
	}
	return ctx.JSON(http.StatusOK, tpl)
}
