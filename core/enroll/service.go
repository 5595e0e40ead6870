package enroll

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/assignment"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/user"
)

var (
	// errors
	ErrNotFound        = core.NewError(core.KindNotFound, "enrollment not found")
	ErrWeekNotFound    = core.NewError(core.KindNotFound, "week progress not found")
	ErrAlreadyEnrolled = core.NewError(core.KindValidationFailed, "buddy already has an active enrollment")
	ErrNotPublished    = core.NewError(core.KindInvalidTransition, "only a published curriculum accepts enrollments")
	ErrNotActive       = core.NewError(core.KindInvalidTransition, "enrollment is not active")
	ErrEmptyCurriculum = core.NewError(core.KindValidationFailed, "curriculum has no weeks to enroll into")
	ErrBuddyRequired   = core.NewError(core.KindValidationFailed, "enrollment target must be an active buddy")
)

type (
	// WeekFanOut groups one week progress row with the assignments fanned
	// out under it; the repository links them once ids are assigned.
	WeekFanOut struct {
		Progress    BuddyWeekProgress
		Assignments []assignment.TaskAssignment
	}

	Repository interface {
		// CreateEnrollment persists the enrollment with its week progress
		// rows and task assignments in a single transaction: either the
		// whole fan-out lands or none of it does.
		CreateEnrollment(ctx context.Context, bc BuddyCurriculum, weeks []WeekFanOut) (BuddyCurriculum, error)
		GetEnrollment(ctx context.Context, id string) (BuddyCurriculum, error)
		// ActiveEnrollment returns the buddy's single active enrollment, or
		// ErrNotFound when there is none.
		ActiveEnrollment(ctx context.Context, buddyID string) (BuddyCurriculum, error)
		// QueryEnrollments applies AND operation on available QueryFilter fields.
		QueryEnrollments(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]BuddyCurriculum, error)
		UpdateEnrollment(ctx context.Context, bc BuddyCurriculum) (BuddyCurriculum, error)

		GetWeekProgress(ctx context.Context, id string) (BuddyWeekProgress, error)
		// QueryWeekProgress returns an enrollment's week rows ordered by week number.
		QueryWeekProgress(ctx context.Context, enrollmentID string) ([]BuddyWeekProgress, error)
		UpdateWeekProgress(ctx context.Context, wp BuddyWeekProgress) (BuddyWeekProgress, error)
	}

	// AssignmentSource reads task assignments for progress derivation;
	// satisfied by assignment.Repository.
	AssignmentSource interface {
		QueryAssignments(ctx context.Context, filter assignment.QueryFilter, ordering ...core.DBOrdering) ([]assignment.TaskAssignment, error)
	}

	// ContentStore exposes the read side of the curriculum content model;
	// satisfied by curriculum.ServiceInterface.
	ContentStore interface {
		GetByID(ctx context.Context, id string) (curriculum.Curriculum, error)
		QueryWeeks(ctx context.Context, curriculumID string) ([]curriculum.Week, error)
		QueryTemplates(ctx context.Context, weekID string) ([]curriculum.TaskTemplate, error)
	}

	// Directory resolves users for permission checks; satisfied by
	// user.ServiceInterface.
	Directory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ServiceInterface interface {
		Enroll(ctx context.Context, actor user.Actor, buddyID, curriculumID string) (BuddyCurriculum, error)
		GetByID(ctx context.Context, id string) (BuddyCurriculum, error)
		ActiveEnrollment(ctx context.Context, buddyID string) (BuddyCurriculum, error)
		Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]BuddyCurriculum, error)
		Withdraw(ctx context.Context, actor user.Actor, id string) (BuddyCurriculum, error)

		WeekProgress(ctx context.Context, enrollmentID string) ([]BuddyWeekProgress, error)
		RecomputeWeekProgress(ctx context.Context, buddyWeekProgressID string) error
		OverallProgress(ctx context.Context, enrollmentID string) (OverallProgress, error)
		Dashboard(ctx context.Context, actor user.Actor, buddyID string) (Dashboard, error)
	}

	service struct {
		repo        Repository
		assignments AssignmentSource
		content     ContentStore
		users       Directory
		mailSvc     core.EmailService
		conf        *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)
var _ assignment.ProgressTracker = (*service)(nil)

func NewService(
	repo Repository,
	assignments AssignmentSource,
	content ContentStore,
	users Directory,
	mailSvc core.EmailService,
	conf *core.Config,
) *service {
	return &service{
		repo:        repo,
		assignments: assignments,
		content:     content,
		users:       users,
		mailSvc:     mailSvc,
		conf:        conf,
	}
}

// Enroll enrolls a buddy into a published curriculum and fans out one week
// progress row per week and one task assignment per non-archived task
// template. Managers may enroll anyone; a mentor only their assigned buddies.
func (svc *service) Enroll(ctx context.Context, actor user.Actor, buddyID, curriculumID string) (BuddyCurriculum, error) {
	buddy, err := svc.users.GetByID(ctx, buddyID)
	if err != nil {
		return BuddyCurriculum{}, err
	}
	owners := user.Owners{BuddyUserID: buddy.ID, AssignedMentorUserID: buddy.AssignedMentorID}
	if d := user.Authorize(actor, user.PermEnrollBuddy, owners); !d.Allowed {
		return BuddyCurriculum{}, core.NewPermissionError(string(d.Permission))
	}
	if !buddy.IsBuddy() || !buddy.IsActive {
		return BuddyCurriculum{}, ErrBuddyRequired
	}

	cur, err := svc.content.GetByID(ctx, curriculumID)
	if err != nil {
		return BuddyCurriculum{}, err
	}
	if !cur.IsPublished() {
		return BuddyCurriculum{}, ErrNotPublished
	}
	if _, err = svc.repo.ActiveEnrollment(ctx, buddyID); err == nil {
		return BuddyCurriculum{}, ErrAlreadyEnrolled
	} else if err != ErrNotFound {
		return BuddyCurriculum{}, err
	}

	weeks, err := svc.content.QueryWeeks(ctx, curriculumID)
	if err != nil {
		return BuddyCurriculum{}, err
	}
	if len(weeks) == 0 {
		return BuddyCurriculum{}, ErrEmptyCurriculum
	}

	now := time.Now().UTC()
	bc := BuddyCurriculum{
		BuddyID:           buddy.ID,
		CurriculumID:      cur.ID,
		CurriculumVersion: cur.Version,
		Status:            StatusActive,
		EnrolledBy:        actor.ID,
		StartDate:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	var fanOut []WeekFanOut
	for _, wk := range weeks {
		tpls, err := svc.content.QueryTemplates(ctx, wk.ID)
		if err != nil {
			return BuddyCurriculum{}, err
		}
		week := WeekFanOut{
			Progress: BuddyWeekProgress{
				BuddyID:    buddy.ID,
				WeekID:     wk.ID,
				WeekNumber: wk.WeekNumber,
				Status:     WeekNotStarted,
				UpdatedAt:  now,
			},
		}
		for _, tpl := range tpls {
			if tpl.IsArchived {
				continue
			}
			week.Progress.TotalTasks++
			week.Assignments = append(week.Assignments, assignment.TaskAssignment{
				BuddyID:        buddy.ID,
				TaskTemplateID: tpl.ID,
				Status:         assignment.StatusNotStarted,
				AssignedAt:     now,
				UpdatedAt:      now,
			})
		}
		fanOut = append(fanOut, week)
	}
	bc, err = svc.repo.CreateEnrollment(ctx, bc, fanOut)
	if err != nil {
		return BuddyCurriculum{}, err
	}

	go svc.notifyEnrolled(buddy, cur)
	return bc, nil
}

func (svc *service) notifyEnrolled(buddy user.User, cur curriculum.Curriculum) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: buddy.Name, Address: buddy.Email}},
		Subject:      fmt.Sprintf("You are enrolled in %s", cur.Title),
		TemplateName: "enrollment-created",
		TemplateData: struct {
			CurriculumTitle string
			TotalWeeks      int
		}{cur.Title, cur.TotalWeeks},
		BodyStr: fmt.Sprintf("You are enrolled in %s (%d weeks): %s/dashboard", cur.Title, cur.TotalWeeks, svc.conf.FrontendBaseURL),
	})
}

func (svc *service) GetByID(ctx context.Context, id string) (BuddyCurriculum, error) {
	return svc.repo.GetEnrollment(ctx, id)
}

func (svc *service) ActiveEnrollment(ctx context.Context, buddyID string) (BuddyCurriculum, error) {
	return svc.repo.ActiveEnrollment(ctx, buddyID)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]BuddyCurriculum, error) {
	if filter == nil {
		filter = &QueryFilter{}
	}
	return svc.repo.QueryEnrollments(ctx, *filter, ordering...)
}

// Withdraw ends an active enrollment. Existing assignments and submissions
// are kept for the record; only the enrollment status changes.
func (svc *service) Withdraw(ctx context.Context, actor user.Actor, id string) (BuddyCurriculum, error) {
	bc, err := svc.repo.GetEnrollment(ctx, id)
	if err != nil {
		return BuddyCurriculum{}, err
	}
	buddy, err := svc.users.GetByID(ctx, bc.BuddyID)
	if err != nil {
		return BuddyCurriculum{}, err
	}
	owners := user.Owners{BuddyUserID: buddy.ID, AssignedMentorUserID: buddy.AssignedMentorID}
	if d := user.Authorize(actor, user.PermEnrollBuddy, owners); !d.Allowed {
		return BuddyCurriculum{}, core.NewPermissionError(string(d.Permission))
	}
	if !bc.IsActive() {
		return BuddyCurriculum{}, ErrNotActive
	}
	bc.Status = StatusWithdrawn
	bc.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateEnrollment(ctx, bc)
}

func (svc *service) WeekProgress(ctx context.Context, enrollmentID string) ([]BuddyWeekProgress, error) {
	if _, err := svc.repo.GetEnrollment(ctx, enrollmentID); err != nil {
		return nil, err
	}
	return svc.repo.QueryWeekProgress(ctx, enrollmentID)
}

// RecomputeWeekProgress rederives one week's counters and status from its
// task assignments. Idempotent: recomputing an unchanged week is a no-op.
// Completing the last outstanding week also completes the enrollment.
func (svc *service) RecomputeWeekProgress(ctx context.Context, buddyWeekProgressID string) error {
	wp, err := svc.repo.GetWeekProgress(ctx, buddyWeekProgressID)
	if err != nil {
		return err
	}
	tasks, err := svc.assignments.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wp.ID})
	if err != nil {
		return err
	}

	var completed int
	var anyStarted bool
	for _, a := range tasks {
		if a.IsCompleted() {
			completed++
		}
		if a.Status != assignment.StatusNotStarted {
			anyStarted = true
		}
	}

	now := time.Now().UTC()
	wp.TotalTasks = len(tasks)
	wp.CompletedTasks = completed
	wp.ProgressPercentage = core.Percentage(completed, wp.TotalTasks)
	switch {
	case wp.TotalTasks > 0 && completed == wp.TotalTasks:
		wp.Status = WeekCompleted
		if wp.CompletedAt.IsZero() {
			wp.CompletedAt = now
		}
	case anyStarted:
		wp.Status = WeekInProgress
		wp.CompletedAt = time.Time{}
	default:
		wp.Status = WeekNotStarted
		wp.CompletedAt = time.Time{}
	}
	wp.UpdatedAt = now
	if _, err = svc.repo.UpdateWeekProgress(ctx, wp); err != nil {
		return err
	}
	return svc.syncEnrollmentStatus(ctx, wp.BuddyCurriculumID)
}

// syncEnrollmentStatus completes an active enrollment once every week is
// completed, and reopens a completed one if a week falls back.
func (svc *service) syncEnrollmentStatus(ctx context.Context, enrollmentID string) error {
	bc, err := svc.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if bc.Status == StatusWithdrawn {
		return nil
	}
	wps, err := svc.repo.QueryWeekProgress(ctx, enrollmentID)
	if err != nil {
		return err
	}
	done := len(wps) > 0
	for _, wp := range wps {
		if wp.Status != WeekCompleted {
			done = false
			break
		}
	}

	now := time.Now().UTC()
	switch {
	case done && bc.Status == StatusActive:
		bc.Status = StatusCompleted
		bc.CompletedAt = now
	case !done && bc.Status == StatusCompleted:
		bc.Status = StatusActive
		bc.CompletedAt = time.Time{}
	default:
		return nil
	}
	bc.UpdatedAt = now
	_, err = svc.repo.UpdateEnrollment(ctx, bc)
	return err
}

// OverallProgress weights each week by its task count: the enrollment
// percentage is completed tasks over total tasks across all weeks.
func (svc *service) OverallProgress(ctx context.Context, enrollmentID string) (OverallProgress, error) {
	wps, err := svc.WeekProgress(ctx, enrollmentID)
	if err != nil {
		return OverallProgress{}, err
	}
	var op OverallProgress
	op.TotalWeeks = len(wps)
	for _, wp := range wps {
		op.CompletedTasks += wp.CompletedTasks
		op.TotalTasks += wp.TotalTasks
		if wp.Status == WeekCompleted {
			op.CompletedWeeks++
		}
	}
	op.Percentage = core.Percentage(op.CompletedTasks, op.TotalTasks)
	return op, nil
}

// Dashboard assembles the buddy's active enrollment view: curriculum, week
// breakdown with assignments, and overall progress. Viewable by the buddy,
// their assigned mentor and managers.
func (svc *service) Dashboard(ctx context.Context, actor user.Actor, buddyID string) (Dashboard, error) {
	buddy, err := svc.users.GetByID(ctx, buddyID)
	if err != nil {
		return Dashboard{}, err
	}
	owners := user.Owners{BuddyUserID: buddy.ID, AssignedMentorUserID: buddy.AssignedMentorID}
	if d := user.Authorize(actor, user.PermViewBuddyProgress, owners); !d.Allowed {
		return Dashboard{}, core.NewPermissionError(string(d.Permission))
	}

	bc, err := svc.repo.ActiveEnrollment(ctx, buddyID)
	if err != nil {
		return Dashboard{}, err
	}
	cur, err := svc.content.GetByID(ctx, bc.CurriculumID)
	if err != nil {
		return Dashboard{}, err
	}
	wps, err := svc.repo.QueryWeekProgress(ctx, bc.ID)
	if err != nil {
		return Dashboard{}, err
	}

	weeks, err := svc.content.QueryWeeks(ctx, bc.CurriculumID)
	if err != nil {
		return Dashboard{}, err
	}
	weeksByID := make(map[string]curriculum.Week, len(weeks))
	for _, wk := range weeks {
		weeksByID[wk.ID] = wk
	}

	dash := Dashboard{Enrollment: bc, Curriculum: cur}
	for _, wp := range wps {
		tasks, err := svc.assignments.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wp.ID})
		if err != nil {
			return Dashboard{}, err
		}
		dash.Weeks = append(dash.Weeks, WeekDashboard{
			Week:        weeksByID[wp.WeekID],
			Progress:    wp,
			Assignments: tasks,
		})
		dash.Overall.CompletedTasks += wp.CompletedTasks
		dash.Overall.TotalTasks += wp.TotalTasks
		if wp.Status == WeekCompleted {
			dash.Overall.CompletedWeeks++
		}
	}
	dash.Overall.TotalWeeks = len(wps)
	dash.Overall.Percentage = core.Percentage(dash.Overall.CompletedTasks, dash.Overall.TotalTasks)
	return dash, nil
}
