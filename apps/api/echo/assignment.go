package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core/assignment"
	"github.com/rafikidev/rafiki/core/user"
)

type assignmentApi struct {
	svc      assignment.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerAssignmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := assignmentApi{
		svc:      deps.AssignmentSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/assignments", jwt)
	ag.GET("", api.query)

	dg := ag.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/start", api.start)
	dg.POST("/submit", api.submit)
	dg.GET("/submissions", api.querySubmissions)
	dg.GET("/submissions/current", api.currentSubmission)

	sg := g.Group("/submissions/:id", jwt)
	sg.GET("", api.retrieveSubmission)
	sg.POST("/begin-review", api.beginReview)
	sg.POST("/approve", api.approve)
	sg.POST("/request-revision", api.requestRevision)
	sg.POST("/reject", api.reject)
	sg.GET("/feedback", api.queryFeedback)
	sg.POST("/feedback", api.addFeedback)

	fg := g.Group("/feedback/:id", jwt)
	fg.PUT("", api.updateFeedback)
	fg.DELETE("", api.destroyFeedback)

	g.GET("/review-queue", api.reviewQueue, jwt, staffMiddleware())
	g.GET("/curricula/:id/analytics", api.curriculumAnalytics, jwt, managerMiddleware())
}

func (api *assignmentApi) query(ctx echo.Context) error {
	filter := &assignment.QueryFilter{
		BuddyID:             ctx.QueryParam("buddy_id"),
		BuddyWeekProgressID: ctx.QueryParam("week_progress_id"),
		TemplateIDs:         csvParam(ctx, "template_id"),
		Statuses:            csvParam(ctx, "status"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	assignments, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if assignments == nil {
		assignments = []assignment.TaskAssignment{}
	}
	return ctx.JSON(http.StatusOK, assignments)
}

func (api *assignmentApi) retrieve(ctx echo.Context) error {
	a, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *assignmentApi) start(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	a, err := api.svc.Start(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "starting assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *assignmentApi) submit(ctx echo.Context) error {
	var data assignment.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sub, err := api.svc.Submit(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting assignment")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *assignmentApi) querySubmissions(ctx echo.Context) error {
	filter := &assignment.SubmissionFilter{AssignmentID: ctx.Param("id")}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	subs, err := api.svc.QuerySubmissions(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []assignment.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *assignmentApi) currentSubmission(ctx echo.Context) error {
	sub, err := api.svc.CurrentSubmission(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding current submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assignmentApi) retrieveSubmission(ctx echo.Context) error {
	sub, err := api.svc.GetSubmission(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assignmentApi) beginReview(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sub, err := api.svc.BeginReview(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "beginning review")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assignmentApi) approve(ctx echo.Context) error {
	var data ApproveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ApproveRequest")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sub, err := api.svc.Approve(ctx.Request().Context(), actor, ctx.Param("id"), data.Grade)
	if err != nil {
		return errors.Wrap(err, "approving submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assignmentApi) requestRevision(ctx echo.Context) error {
	var data ReviewMessageRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewMessageRequest")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sub, err := api.svc.RequestRevision(ctx.Request().Context(), actor, ctx.Param("id"), data.Message)
	if err != nil {
		return errors.Wrap(err, "requesting revision")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assignmentApi) reject(ctx echo.Context) error {
	var data ReviewMessageRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewMessageRequest")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sub, err := api.svc.Reject(ctx.Request().Context(), actor, ctx.Param("id"), data.Message)
	if err != nil {
		return errors.Wrap(err, "rejecting submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assignmentApi) queryFeedback(ctx echo.Context) error {
	fbs, err := api.svc.QueryFeedback(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying feedback")
	}
	if fbs == nil {
		fbs = []assignment.Feedback{}
	}
	return ctx.JSON(http.StatusOK, fbs)
}

func (api *assignmentApi) addFeedback(ctx echo.Context) error {
	var data assignment.NewFeedback
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeedback")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	fb, err := api.svc.AddFeedback(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding feedback")
	}
	return ctx.JSON(http.StatusCreated, fb)
}

func (api *assignmentApi) updateFeedback(ctx echo.Context) error {
	var data FeedbackMessageRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FeedbackMessageRequest")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	fb, err := api.svc.UpdateFeedback(ctx.Request().Context(), actor, ctx.Param("id"), data.Message)
	if err != nil {
		return errors.Wrap(err, "updating feedback")
	}
	return ctx.JSON(http.StatusOK, fb)
}

func (api *assignmentApi) destroyFeedback(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteFeedback(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting feedback")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *assignmentApi) reviewQueue(ctx echo.Context) error {
	var filter assignment.ReviewQueueFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to ReviewQueueFilter")
	}

	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	entries, err := api.svc.ReviewQueue(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying review queue")
	}
	if entries == nil {
		entries = []assignment.ReviewQueueEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *assignmentApi) curriculumAnalytics(ctx echo.Context) error {
	actor, err := getContextActor(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	analytics, err := api.svc.CurriculumAnalytics(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing curriculum analytics")
	}
	return ctx.JSON(http.StatusOK, analytics)
}

type (
	ApproveRequest struct {
		Grade string `json:"grade"`
	}

	ReviewMessageRequest struct {
		Message string `json:"message"`
	}

	FeedbackMessageRequest struct {
		Message string `json:"message"`
	}
)
