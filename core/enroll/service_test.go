package enroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/assignment"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/enroll"
	"github.com/rafikidev/rafiki/core/user"
	emailsvc "github.com/rafikidev/rafiki/services/email"
	inmemdb "github.com/rafikidev/rafiki/storage/database/inmem"
	testutil "github.com/rafikidev/rafiki/tests"
)

type env struct {
	usrRepo    user.Repository
	curRepo    curriculum.Repository
	assignRepo assignment.Repository
	enrollRepo enroll.Repository

	svc enroll.ServiceInterface

	manager user.User
	mentor  user.User
	buddy   user.User
}

func setup(t *testing.T) *env {
	t.Helper()

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	conf := testutil.NewTestConfig()
	mailSvc := emailsvc.NewConsoleServiceMock(conf)

	e := &env{
		usrRepo:    inmemdb.NewUserRepository(db),
		curRepo:    inmemdb.NewCurriculumRepository(db),
		assignRepo: inmemdb.NewAssignmentRepository(db),
		enrollRepo: inmemdb.NewEnrollRepository(db),
	}
	usrSvc := user.NewServiceMock(e.usrRepo, mailSvc, conf)
	curSvc := curriculum.NewService(e.curRepo, e.assignRepo)
	e.svc = enroll.NewService(e.enrollRepo, e.assignRepo, curSvc, usrSvc, mailSvc, conf)

	e.manager = testutil.CreateManager(t, e.usrRepo, "Grace Manager", "grace")
	e.mentor = testutil.CreateMentor(t, e.usrRepo, "Mark Mentor", "mark")
	e.buddy = testutil.CreateBuddy(t, e.usrRepo, "Bree Buddy", "bree", user.DomainBackend, e.mentor.ID)
	return e
}

func publishedCurriculum(t *testing.T, e *env, weeks, tasksPerWeek int) curriculum.Curriculum {
	t.Helper()
	cur, _, _ := testutil.CreateCurriculum(t, e.curRepo, "Backend Onboarding", user.DomainBackend, curriculum.StatusPublished, weeks, tasksPerWeek)
	return cur
}

func TestService_Enroll_permissions(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur := publishedCurriculum(t, e, 1, 1)

	strayMentor := testutil.CreateMentor(t, e.usrRepo, "Omar Other", "omar")
	denied := []user.Actor{e.buddy.Actor(), strayMentor.Actor()}
	for _, actor := range denied {
		if _, err := e.svc.Enroll(ctx, actor, e.buddy.ID, cur.ID); !core.IsKind(err, core.KindPermissionDenied) {
			t.Errorf("Enroll() as %s error = %v, want permission denied", actor.Role, err)
		}
	}

	// the assigned mentor may enroll their own buddy
	if _, err := e.svc.Enroll(ctx, e.mentor.Actor(), e.buddy.ID, cur.ID); err != nil {
		t.Errorf("Enroll() as assigned mentor failed: %v", err)
	}

	// a manager may enroll any buddy
	other := testutil.CreateBuddy(t, e.usrRepo, "Nia New", "nia", user.DomainBackend, "")
	if _, err := e.svc.Enroll(ctx, e.manager.Actor(), other.ID, cur.ID); err != nil {
		t.Errorf("Enroll() as manager failed: %v", err)
	}
}

func TestService_Enroll_validation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur := publishedCurriculum(t, e, 1, 1)

	// only active buddies can be enrolled
	if _, err := e.svc.Enroll(ctx, e.manager.Actor(), e.mentor.ID, cur.ID); errors.Cause(err) != enroll.ErrBuddyRequired {
		t.Errorf("Enroll() of a mentor error = %v, want %v", err, enroll.ErrBuddyRequired)
	}
	inactive := testutil.CreateUser(t, e.usrRepo, "Ina Inactive", "ina", "ina@rafiki.test", "", []string{user.RoleBuddy}, false)
	if _, err := e.svc.Enroll(ctx, e.manager.Actor(), inactive.ID, cur.ID); errors.Cause(err) != enroll.ErrBuddyRequired {
		t.Errorf("Enroll() of inactive buddy error = %v, want %v", err, enroll.ErrBuddyRequired)
	}

	// the curriculum must be published and non-empty
	draft, _, _ := testutil.CreateCurriculum(t, e.curRepo, "WIP", user.DomainBackend, curriculum.StatusDraft, 1, 1)
	if _, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, draft.ID); errors.Cause(err) != enroll.ErrNotPublished {
		t.Errorf("Enroll() into draft error = %v, want %v", err, enroll.ErrNotPublished)
	}
	empty, _, _ := testutil.CreateCurriculum(t, e.curRepo, "Empty", user.DomainBackend, curriculum.StatusPublished, 0, 0)
	if _, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, empty.ID); errors.Cause(err) != enroll.ErrEmptyCurriculum {
		t.Errorf("Enroll() into empty curriculum error = %v, want %v", err, enroll.ErrEmptyCurriculum)
	}

	// one active enrollment per buddy, across curricula
	bc, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	if _, err = e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID); errors.Cause(err) != enroll.ErrAlreadyEnrolled {
		t.Errorf("Enroll() twice error = %v, want %v", err, enroll.ErrAlreadyEnrolled)
	}
	second := publishedCurriculum(t, e, 1, 1)
	if _, err = e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, second.ID); errors.Cause(err) != enroll.ErrAlreadyEnrolled {
		t.Errorf("Enroll() into second curriculum error = %v, want %v", err, enroll.ErrAlreadyEnrolled)
	}

	// withdrawing frees the buddy up for re-enrollment
	if _, err = e.svc.Withdraw(ctx, e.manager.Actor(), bc.ID); err != nil {
		t.Fatalf("Withdraw() failed: %v", err)
	}
	if _, err = e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, second.ID); err != nil {
		t.Errorf("Enroll() after withdrawal failed: %v", err)
	}
}

func TestService_Enroll_fanOut(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur, weeks, tpls := testutil.CreateCurriculum(t, e.curRepo, "Backend Onboarding", user.DomainBackend, curriculum.StatusPublished, 2, 2)

	// archived templates are left out of new enrollments
	archived := tpls[len(tpls)-1]
	archived.IsArchived = true
	if _, err := e.curRepo.UpdateTemplate(ctx, archived); err != nil {
		t.Fatalf("UpdateTemplate() failed: %v", err)
	}

	bc, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	if bc.CurriculumVersion != cur.Version {
		t.Errorf("enrollment version = %d, want %d", bc.CurriculumVersion, cur.Version)
	}
	if bc.Status != enroll.StatusActive || bc.EnrolledBy != e.manager.ID {
		t.Errorf("enrollment = %+v, want active, enrolled by manager", bc)
	}

	wps, err := e.svc.WeekProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("WeekProgress() failed: %v", err)
	}
	if len(wps) != len(weeks) {
		t.Fatalf("WeekProgress() returned %d rows, want %d", len(wps), len(weeks))
	}
	wantTotals := []int{2, 1} // second week lost its archived template
	for i, wp := range wps {
		if wp.WeekNumber != i+1 {
			t.Errorf("week %d number = %d, want %d", i, wp.WeekNumber, i+1)
		}
		if wp.Status != enroll.WeekNotStarted || wp.TotalTasks != wantTotals[i] || wp.CompletedTasks != 0 {
			t.Errorf("week %d = %+v, want not_started with %d tasks", i+1, wp, wantTotals[i])
		}

		tasks, err := e.assignRepo.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wp.ID})
		if err != nil {
			t.Fatalf("QueryAssignments() failed: %v", err)
		}
		if len(tasks) != wp.TotalTasks {
			t.Errorf("week %d has %d assignments, want %d", i+1, len(tasks), wp.TotalTasks)
		}
		for _, a := range tasks {
			if a.Status != assignment.StatusNotStarted || a.BuddyID != e.buddy.ID {
				t.Errorf("assignment = %+v, want not_started for buddy", a)
			}
			if a.TaskTemplateID == archived.ID {
				t.Error("archived template was fanned out")
			}
		}
	}
}

func completeAssignment(t *testing.T, e *env, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.assignRepo.MarkStarted(ctx, id, time.Now().UTC()); err != nil {
		t.Fatalf("MarkStarted() failed: %v", err)
	}
	if _, err := e.assignRepo.MarkCompleted(ctx, id, time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted() failed: %v", err)
	}
}

func TestService_RecomputeWeekProgress(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur := publishedCurriculum(t, e, 1, 2)
	bc, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	wps, err := e.svc.WeekProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("WeekProgress() failed: %v", err)
	}
	wp := wps[0]
	tasks, err := e.assignRepo.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wp.ID})
	if err != nil {
		t.Fatalf("QueryAssignments() failed: %v", err)
	}

	// starting one task moves the week to in_progress
	if _, err = e.assignRepo.MarkStarted(ctx, tasks[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkStarted() failed: %v", err)
	}
	if err = e.svc.RecomputeWeekProgress(ctx, wp.ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() failed: %v", err)
	}
	if wp, err = e.enrollRepo.GetWeekProgress(ctx, wp.ID); err != nil {
		t.Fatalf("GetWeekProgress() failed: %v", err)
	}
	if wp.Status != enroll.WeekInProgress || wp.CompletedTasks != 0 || wp.ProgressPercentage != 0 {
		t.Errorf("week after start = %+v, want in_progress 0%%", wp)
	}

	// completing all tasks completes the week
	completeAssignment(t, e, tasks[0].ID)
	completeAssignment(t, e, tasks[1].ID)
	if err = e.svc.RecomputeWeekProgress(ctx, wp.ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() failed: %v", err)
	}
	if wp, err = e.enrollRepo.GetWeekProgress(ctx, wp.ID); err != nil {
		t.Fatalf("GetWeekProgress() failed: %v", err)
	}
	if wp.Status != enroll.WeekCompleted || wp.ProgressPercentage != 100 || wp.CompletedAt.IsZero() {
		t.Errorf("week after completion = %+v, want completed 100%%", wp)
	}
	completedAt := wp.CompletedAt

	// recomputing an unchanged week is a no-op
	if err = e.svc.RecomputeWeekProgress(ctx, wp.ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() twice failed: %v", err)
	}
	if wp, err = e.enrollRepo.GetWeekProgress(ctx, wp.ID); err != nil {
		t.Fatalf("GetWeekProgress() failed: %v", err)
	}
	if !wp.CompletedAt.Equal(completedAt) {
		t.Errorf("recompute moved CompletedAt: %v -> %v", completedAt, wp.CompletedAt)
	}

	if err = e.svc.RecomputeWeekProgress(ctx, "nope"); errors.Cause(err) != enroll.ErrWeekNotFound {
		t.Errorf("RecomputeWeekProgress() unknown id error = %v, want %v", err, enroll.ErrWeekNotFound)
	}
}

func TestService_enrollmentCompletionAndReopen(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur := publishedCurriculum(t, e, 2, 1)
	bc, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	wps, err := e.svc.WeekProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("WeekProgress() failed: %v", err)
	}

	var taskIDs []string
	for _, wp := range wps {
		tasks, err := e.assignRepo.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wp.ID})
		if err != nil {
			t.Fatalf("QueryAssignments() failed: %v", err)
		}
		taskIDs = append(taskIDs, tasks[0].ID)
	}

	// first week alone does not complete the enrollment
	completeAssignment(t, e, taskIDs[0])
	if err = e.svc.RecomputeWeekProgress(ctx, wps[0].ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() failed: %v", err)
	}
	if bc, err = e.svc.GetByID(ctx, bc.ID); err != nil || bc.Status != enroll.StatusActive {
		t.Errorf("enrollment after week 1 = %s (err %v), want %s", bc.Status, err, enroll.StatusActive)
	}

	// the last week completing flips the enrollment to completed
	completeAssignment(t, e, taskIDs[1])
	if err = e.svc.RecomputeWeekProgress(ctx, wps[1].ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() failed: %v", err)
	}
	if bc, err = e.svc.GetByID(ctx, bc.ID); err != nil || bc.Status != enroll.StatusCompleted || bc.CompletedAt.IsZero() {
		t.Errorf("enrollment after week 2 = %+v (err %v), want completed", bc, err)
	}

	// a task falling back to revision reopens the enrollment
	if _, err = e.assignRepo.MarkNeedsRevision(ctx, taskIDs[1]); err != nil {
		t.Fatalf("MarkNeedsRevision() failed: %v", err)
	}
	if err = e.svc.RecomputeWeekProgress(ctx, wps[1].ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() failed: %v", err)
	}
	if bc, err = e.svc.GetByID(ctx, bc.ID); err != nil || bc.Status != enroll.StatusActive || !bc.CompletedAt.IsZero() {
		t.Errorf("enrollment after fallback = %+v (err %v), want active again", bc, err)
	}
}

// Overall progress weights weeks by task count rather than averaging week
// percentages: completing both tasks of a two task week out of three total
// tasks is 67%, not 50%.
func TestService_OverallProgress(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur, _, tpls := testutil.CreateCurriculum(t, e.curRepo, "Backend Onboarding", user.DomainBackend, curriculum.StatusPublished, 2, 2)

	// shrink week 2 to a single task
	archived := tpls[len(tpls)-1]
	archived.IsArchived = true
	if _, err := e.curRepo.UpdateTemplate(ctx, archived); err != nil {
		t.Fatalf("UpdateTemplate() failed: %v", err)
	}

	bc, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	wps, err := e.svc.WeekProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("WeekProgress() failed: %v", err)
	}
	tasks, err := e.assignRepo.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wps[0].ID})
	if err != nil {
		t.Fatalf("QueryAssignments() failed: %v", err)
	}
	for _, a := range tasks {
		completeAssignment(t, e, a.ID)
	}
	if err = e.svc.RecomputeWeekProgress(ctx, wps[0].ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() failed: %v", err)
	}

	overall, err := e.svc.OverallProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("OverallProgress() failed: %v", err)
	}
	want := enroll.OverallProgress{CompletedTasks: 2, TotalTasks: 3, Percentage: 67, CompletedWeeks: 1, TotalWeeks: 2}
	if overall != want {
		t.Errorf("OverallProgress() = %+v, want %+v", overall, want)
	}
}

func TestService_Withdraw(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur := publishedCurriculum(t, e, 1, 1)
	bc, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	if _, err = e.svc.Withdraw(ctx, e.buddy.Actor(), bc.ID); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Withdraw() as buddy error = %v, want permission denied", err)
	}

	bc, err = e.svc.Withdraw(ctx, e.mentor.Actor(), bc.ID)
	if err != nil {
		t.Fatalf("Withdraw() as assigned mentor failed: %v", err)
	}
	if bc.Status != enroll.StatusWithdrawn {
		t.Errorf("Withdraw() status = %s, want %s", bc.Status, enroll.StatusWithdrawn)
	}

	if _, err = e.svc.Withdraw(ctx, e.manager.Actor(), bc.ID); errors.Cause(err) != enroll.ErrNotActive {
		t.Errorf("Withdraw() twice error = %v, want %v", err, enroll.ErrNotActive)
	}

	// a withdrawn enrollment never auto-completes
	wps, err := e.svc.WeekProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("WeekProgress() failed: %v", err)
	}
	tasks, err := e.assignRepo.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wps[0].ID})
	if err != nil {
		t.Fatalf("QueryAssignments() failed: %v", err)
	}
	completeAssignment(t, e, tasks[0].ID)
	if err = e.svc.RecomputeWeekProgress(ctx, wps[0].ID); err != nil {
		t.Fatalf("RecomputeWeekProgress() failed: %v", err)
	}
	if bc, err = e.svc.GetByID(ctx, bc.ID); err != nil || bc.Status != enroll.StatusWithdrawn {
		t.Errorf("withdrawn enrollment status = %s (err %v), want %s", bc.Status, err, enroll.StatusWithdrawn)
	}
}

func TestService_Dashboard(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	cur := publishedCurriculum(t, e, 2, 2)
	bc, err := e.svc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	// only the buddy, their mentor and managers see the dashboard
	stray := testutil.CreateBuddy(t, e.usrRepo, "Sam Stray", "sam", user.DomainQA, "")
	if _, err = e.svc.Dashboard(ctx, stray.Actor(), e.buddy.ID); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Dashboard() as other buddy error = %v, want permission denied", err)
	}
	strayMentor := testutil.CreateMentor(t, e.usrRepo, "Omar Other", "omar")
	if _, err = e.svc.Dashboard(ctx, strayMentor.Actor(), e.buddy.ID); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Dashboard() as unassigned mentor error = %v, want permission denied", err)
	}

	for _, actor := range []user.Actor{e.buddy.Actor(), e.mentor.Actor(), e.manager.Actor()} {
		if _, err = e.svc.Dashboard(ctx, actor, e.buddy.ID); err != nil {
			t.Errorf("Dashboard() as %s failed: %v", actor.Role, err)
		}
	}

	dash, err := e.svc.Dashboard(ctx, e.buddy.Actor(), e.buddy.ID)
	if err != nil {
		t.Fatalf("Dashboard() failed: %v", err)
	}
	if dash.Enrollment.ID != bc.ID || dash.Curriculum.ID != cur.ID {
		t.Errorf("Dashboard() enrollment/curriculum = %s/%s, want %s/%s", dash.Enrollment.ID, dash.Curriculum.ID, bc.ID, cur.ID)
	}
	if len(dash.Weeks) != 2 {
		t.Fatalf("Dashboard() has %d weeks, want 2", len(dash.Weeks))
	}
	for i, wk := range dash.Weeks {
		if wk.Week.WeekNumber != i+1 || wk.Progress.WeekID != wk.Week.ID {
			t.Errorf("dashboard week %d = %+v, want matching week row", i+1, wk)
		}
		if len(wk.Assignments) != 2 {
			t.Errorf("dashboard week %d has %d assignments, want 2", i+1, len(wk.Assignments))
		}
	}
	if dash.Overall.TotalTasks != 4 || dash.Overall.TotalWeeks != 2 || dash.Overall.Percentage != 0 {
		t.Errorf("Dashboard() overall = %+v, want 0/4 over 2 weeks", dash.Overall)
	}

	// no active enrollment, no dashboard
	if _, err = e.svc.Withdraw(ctx, e.manager.Actor(), bc.ID); err != nil {
		t.Fatalf("Withdraw() failed: %v", err)
	}
	if _, err = e.svc.Dashboard(ctx, e.buddy.Actor(), e.buddy.ID); errors.Cause(err) != enroll.ErrNotFound {
		t.Errorf("Dashboard() after withdrawal error = %v, want %v", err, enroll.ErrNotFound)
	}
}
