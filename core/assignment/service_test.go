package assignment_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
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

	enrollSvc enroll.ServiceInterface
	assignSvc assignment.ServiceInterface

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

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)

	mailSvc := emailsvc.NewConsoleServiceMock(conf)

	e := &env{
		usrRepo:    inmemdb.NewUserRepository(db),
		curRepo:    inmemdb.NewCurriculumRepository(db),
		assignRepo: inmemdb.NewAssignmentRepository(db),
		enrollRepo: inmemdb.NewEnrollRepository(db),
	}
	usrSvc := user.NewServiceMock(e.usrRepo, mailSvc, conf)
	curSvc := curriculum.NewService(e.curRepo, e.assignRepo)
	e.enrollSvc = enroll.NewService(e.enrollRepo, e.assignRepo, curSvc, usrSvc, mailSvc, conf)
	e.assignSvc = assignment.NewService(e.assignRepo, usrSvc, curSvc, e.enrollSvc, mailSvc, validate, conf)

	e.manager = testutil.CreateManager(t, e.usrRepo, "Grace Manager", "grace")
	e.mentor = testutil.CreateMentor(t, e.usrRepo, "Mark Mentor", "mark")
	e.buddy = testutil.CreateBuddy(t, e.usrRepo, "Bree Buddy", "bree", user.DomainBackend, e.mentor.ID)
	return e
}

// enrollBuddy enrolls env.buddy into a fresh published curriculum of
// `weeks` x `tasksPerWeek` and returns the fanned-out assignments ordered by
// week then template order.
func enrollBuddy(t *testing.T, e *env, weeks, tasksPerWeek int) (enroll.BuddyCurriculum, [][]assignment.TaskAssignment) {
	t.Helper()
	ctx := context.Background()

	_, _, _ = testutil.CreateCurriculum(t, e.curRepo, "Backend Onboarding", user.DomainBackend, curriculum.StatusPublished, 0, 0)
	cur, _, _ := testutil.CreateCurriculum(t, e.curRepo, "Backend Onboarding", user.DomainBackend, curriculum.StatusPublished, weeks, tasksPerWeek)
	bc, err := e.enrollSvc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	wps, err := e.enrollSvc.WeekProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("WeekProgress() failed: %v", err)
	}
	byWeek := make([][]assignment.TaskAssignment, 0, len(wps))
	for _, wp := range wps {
		tasks, err := e.assignRepo.QueryAssignments(ctx, assignment.QueryFilter{BuddyWeekProgressID: wp.ID})
		if err != nil {
			t.Fatalf("QueryAssignments() failed: %v", err)
		}
		byWeek = append(byWeek, tasks)
	}
	return bc, byWeek
}

func submission(description string) assignment.NewSubmission {
	return assignment.NewSubmission{
		Description: description,
		Resources: []assignment.Resource{
			{Type: "code", Label: "PR", URL: "https://git.rafiki.test/pr/1"},
		},
	}
}

func TestService_Start(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 1, 2)
	task := byWeek[0][0]

	// managers are deliberately locked out of progress entry
	if _, err := e.assignSvc.Start(ctx, e.manager.Actor(), task.ID); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Start() as manager error = %v, want permission denied", err)
	}
	strayMentor := testutil.CreateMentor(t, e.usrRepo, "Omar Other", "omar")
	if _, err := e.assignSvc.Start(ctx, strayMentor.Actor(), task.ID); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Start() as unassigned mentor error = %v, want permission denied", err)
	}

	started, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if started.Status != assignment.StatusInProgress {
		t.Errorf("Start() status = %s, want %s", started.Status, assignment.StatusInProgress)
	}
	if started.StartedAt.IsZero() {
		t.Error("Start() did not stamp StartedAt")
	}

	// idempotent
	again, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID)
	if err != nil {
		t.Fatalf("Start() twice failed: %v", err)
	}
	if !again.StartedAt.Equal(started.StartedAt) {
		t.Errorf("Start() twice moved StartedAt: %v -> %v", started.StartedAt, again.StartedAt)
	}

	// the assigned mentor may start the other task on the buddy's behalf
	if _, err = e.assignSvc.Start(ctx, e.mentor.Actor(), byWeek[0][1].ID); err != nil {
		t.Errorf("Start() as assigned mentor failed: %v", err)
	}

	// a submitted assignment cannot be restarted
	if _, err = e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1")); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if _, err = e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); errors.Cause(err) != assignment.ErrNotStartable {
		t.Errorf("Start() on submitted error = %v, want %v", err, assignment.ErrNotStartable)
	}
}

func TestService_Submit(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 1, 1)
	task := byWeek[0][0]

	// submitting requires the assignment to have been started
	if _, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1")); errors.Cause(err) != assignment.ErrNotSubmittable {
		t.Fatalf("Submit() on not_started error = %v, want %v", err, assignment.ErrNotSubmittable)
	}
	if _, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// submitting is buddy-only, even for the assigned mentor
	if _, err := e.assignSvc.Submit(ctx, e.mentor.Actor(), task.ID, submission("v1")); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Submit() as mentor error = %v, want permission denied", err)
	}

	// the template's required resource type must be covered
	bare := assignment.NewSubmission{Description: "no resources"}
	if _, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, bare); err == nil {
		t.Error("Submit() without required resource succeeded")
	} else if verr, ok := errors.Cause(err).(*core.ValidationError); !ok || len(verr.Fields) == 0 {
		t.Errorf("Submit() without required resource error = %v, want field validation error", err)
	}

	// resource types must come from the template's expected resource types
	offTopic := submission("v1")
	offTopic.Resources = append(offTopic.Resources, assignment.Resource{
		Type: "video", Label: "Walkthrough", URL: "https://videos.rafiki.test/walkthrough",
	})
	if _, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, offTopic); err == nil {
		t.Error("Submit() with an unexpected resource type succeeded")
	} else if verr, ok := errors.Cause(err).(*core.ValidationError); !ok || len(verr.Fields) != 1 {
		t.Errorf("Submit() with an unexpected resource type error = %v, want one field validation error", err)
	}

	sub, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if sub.Version != 1 {
		t.Errorf("Submit() version = %d, want 1", sub.Version)
	}
	if sub.ReviewStatus != assignment.ReviewPending {
		t.Errorf("Submit() review status = %s, want %s", sub.ReviewStatus, assignment.ReviewPending)
	}

	updated, err := e.assignSvc.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if updated.Status != assignment.StatusSubmitted {
		t.Errorf("Submit() assignment status = %s, want %s", updated.Status, assignment.StatusSubmitted)
	}
	if updated.FirstSubmissionAt.IsZero() {
		t.Error("Submit() did not stamp FirstSubmissionAt")
	}
	if updated.SubmissionCount != 1 {
		t.Errorf("Submit() submission count = %d, want 1", updated.SubmissionCount)
	}

	// a submitted assignment does not accept another submission
	if _, err = e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v2")); errors.Cause(err) != assignment.ErrNotSubmittable {
		t.Errorf("Submit() while awaiting review error = %v, want %v", err, assignment.ErrNotSubmittable)
	}
}

func TestService_reviewProtocol(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 1, 2)
	task := byWeek[0][0]

	if _, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sub, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	// buddies and unassigned mentors cannot review
	if _, err = e.assignSvc.Approve(ctx, e.buddy.Actor(), sub.ID, ""); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Approve() as buddy error = %v, want permission denied", err)
	}
	strayMentor := testutil.CreateMentor(t, e.usrRepo, "Omar Other", "omar")
	if _, err = e.assignSvc.Approve(ctx, strayMentor.Actor(), sub.ID, ""); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("Approve() as unassigned mentor error = %v, want permission denied", err)
	}

	// optional explicit begin-review step
	sub, err = e.assignSvc.BeginReview(ctx, e.mentor.Actor(), sub.ID)
	if err != nil {
		t.Fatalf("BeginReview() failed: %v", err)
	}
	if sub.ReviewStatus != assignment.ReviewUnderReview {
		t.Errorf("BeginReview() review status = %s, want %s", sub.ReviewStatus, assignment.ReviewUnderReview)
	}
	if task, err = e.assignSvc.GetByID(ctx, task.ID); err != nil || task.Status != assignment.StatusUnderReview {
		t.Errorf("BeginReview() assignment status = %s (err %v), want %s", task.Status, err, assignment.StatusUnderReview)
	}

	sub, err = e.assignSvc.Approve(ctx, e.mentor.Actor(), sub.ID, assignment.GradeGood)
	if err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	if sub.ReviewStatus != assignment.ReviewApproved || sub.Grade != assignment.GradeGood || sub.ReviewedBy != e.mentor.ID {
		t.Errorf("Approve() = %+v, want approved/%s by mentor", sub, assignment.GradeGood)
	}

	task, err = e.assignSvc.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if task.Status != assignment.StatusCompleted || task.CompletedAt.IsZero() {
		t.Errorf("Approve() assignment = %+v, want completed with timestamp", task)
	}

	// approval is terminal
	if _, err = e.assignSvc.Approve(ctx, e.mentor.Actor(), sub.ID, ""); errors.Cause(err) != assignment.ErrAlreadyReviewed {
		t.Errorf("Approve() twice error = %v, want %v", err, assignment.ErrAlreadyReviewed)
	}
	if _, err = e.assignSvc.RequestRevision(ctx, e.mentor.Actor(), sub.ID, "nope"); errors.Cause(err) != assignment.ErrAlreadyReviewed {
		t.Errorf("RequestRevision() after approval error = %v, want %v", err, assignment.ErrAlreadyReviewed)
	}

	// completion rolled up into week progress: 1 of 2 tasks
	wp, err := e.enrollRepo.GetWeekProgress(ctx, task.BuddyWeekProgressID)
	if err != nil {
		t.Fatalf("GetWeekProgress() failed: %v", err)
	}
	if wp.CompletedTasks != 1 || wp.TotalTasks != 2 || wp.ProgressPercentage != 50 {
		t.Errorf("week progress = %d/%d (%d%%), want 1/2 (50%%)", wp.CompletedTasks, wp.TotalTasks, wp.ProgressPercentage)
	}
	if wp.Status != enroll.WeekInProgress {
		t.Errorf("week status = %s, want %s", wp.Status, enroll.WeekInProgress)
	}
}

func TestService_revisionLoop(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 1, 1)
	task := byWeek[0][0]

	if _, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	v1, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	// a message to the buddy is mandatory
	if _, err = e.assignSvc.RequestRevision(ctx, e.mentor.Actor(), v1.ID, "  "); err == nil {
		t.Error("RequestRevision() with empty message succeeded")
	}

	v1, err = e.assignSvc.RequestRevision(ctx, e.mentor.Actor(), v1.ID, "tests are missing")
	if err != nil {
		t.Fatalf("RequestRevision() failed: %v", err)
	}
	if v1.ReviewStatus != assignment.ReviewNeedsRevision {
		t.Errorf("RequestRevision() review status = %s, want %s", v1.ReviewStatus, assignment.ReviewNeedsRevision)
	}
	if task, err = e.assignSvc.GetByID(ctx, task.ID); err != nil || task.Status != assignment.StatusNeedsRevision {
		t.Errorf("RequestRevision() assignment status = %s (err %v), want %s", task.Status, err, assignment.StatusNeedsRevision)
	}

	// the reviewer's message landed in the feedback thread
	thread, err := e.assignSvc.QueryFeedback(ctx, v1.ID)
	if err != nil {
		t.Fatalf("QueryFeedback() failed: %v", err)
	}
	if len(thread) != 1 || thread[0].FeedbackType != assignment.FeedbackRevisionRequest || thread[0].Message != "tests are missing" {
		t.Errorf("QueryFeedback() = %+v, want one revision_request", thread)
	}

	// resubmission gets the next version, v1 stays on record
	v2, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v2"))
	if err != nil {
		t.Fatalf("Submit() v2 failed: %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("Submit() v2 version = %d, want 2", v2.Version)
	}

	// the superseded version is no longer reviewable
	if _, err = e.assignSvc.Approve(ctx, e.mentor.Actor(), v1.ID, ""); errors.Cause(err) != assignment.ErrAlreadyReviewed {
		t.Errorf("Approve() on reviewed v1 error = %v, want %v", err, assignment.ErrAlreadyReviewed)
	}

	// reject also sends the assignment back for revision
	v2, err = e.assignSvc.Reject(ctx, e.mentor.Actor(), v2.ID, "wrong task entirely")
	if err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}
	if v2.ReviewStatus != assignment.ReviewRejected {
		t.Errorf("Reject() review status = %s, want %s", v2.ReviewStatus, assignment.ReviewRejected)
	}
	if task, err = e.assignSvc.GetByID(ctx, task.ID); err != nil || task.Status != assignment.StatusNeedsRevision {
		t.Errorf("Reject() assignment status = %s (err %v), want %s", task.Status, err, assignment.StatusNeedsRevision)
	}

	v3, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v3"))
	if err != nil {
		t.Fatalf("Submit() v3 failed: %v", err)
	}
	if v3.Version != 3 {
		t.Errorf("Submit() v3 version = %d, want 3", v3.Version)
	}
}

func TestService_staleVersionNotReviewable(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 1, 1)
	task := byWeek[0][0]

	if _, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	v1, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if _, err = e.assignSvc.RequestRevision(ctx, e.mentor.Actor(), v1.ID, "redo"); err != nil {
		t.Fatalf("RequestRevision() failed: %v", err)
	}
	v2, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v2"))
	if err != nil {
		t.Fatalf("Submit() v2 failed: %v", err)
	}

	// craft a pending but superseded submission: v2 pending, then v3 arrives
	if _, err = e.assignSvc.RequestRevision(ctx, e.mentor.Actor(), v2.ID, "again"); err != nil {
		t.Fatalf("RequestRevision() v2 failed: %v", err)
	}
	v3, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v3"))
	if err != nil {
		t.Fatalf("Submit() v3 failed: %v", err)
	}

	cur, err := e.assignSvc.CurrentSubmission(ctx, task.ID)
	if err != nil {
		t.Fatalf("CurrentSubmission() failed: %v", err)
	}
	if cur.ID != v3.ID {
		t.Errorf("CurrentSubmission() = v%d, want v3", cur.Version)
	}
	if _, err = e.assignSvc.Approve(ctx, e.mentor.Actor(), v3.ID, ""); err != nil {
		t.Errorf("Approve() current failed: %v", err)
	}
}

func TestRepository_AllocateSubmissionVersion_concurrent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 1, 1)
	task := byWeek[0][0]

	const n = 50
	versions := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := e.assignRepo.AllocateSubmissionVersion(ctx, task.ID)
			if err != nil {
				t.Errorf("AllocateSubmissionVersion() failed: %v", err)
				return
			}
			versions[i] = v
		}(i)
	}
	wg.Wait()

	sort.Ints(versions)
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("versions not dense: got %v", versions)
		}
	}
}

func TestService_feedbackThread(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 1, 1)
	task := byWeek[0][0]

	if _, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sub, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	comment, err := e.assignSvc.AddFeedback(ctx, e.mentor.Actor(), sub.ID, assignment.NewFeedback{
		Message:      "looks solid overall",
		FeedbackType: assignment.FeedbackComment,
	})
	if err != nil {
		t.Fatalf("AddFeedback() failed: %v", err)
	}
	if comment.AuthorRole != user.RoleMentor {
		t.Errorf("AddFeedback() author role = %s, want %s", comment.AuthorRole, user.RoleMentor)
	}

	// a reply must reference a parent on the same submission
	if _, err = e.assignSvc.AddFeedback(ctx, e.buddy.Actor(), sub.ID, assignment.NewFeedback{
		Message:      "thanks!",
		FeedbackType: assignment.FeedbackReply,
	}); err == nil {
		t.Error("AddFeedback() reply without parent succeeded")
	}
	reply, err := e.assignSvc.AddFeedback(ctx, e.buddy.Actor(), sub.ID, assignment.NewFeedback{
		Message:          "thanks!",
		FeedbackType:     assignment.FeedbackReply,
		ParentFeedbackID: comment.ID,
	})
	if err != nil {
		t.Fatalf("AddFeedback() reply failed: %v", err)
	}

	// a buddy cannot comment on somebody else's submission
	stray := testutil.CreateBuddy(t, e.usrRepo, "Sam Stray", "sam", user.DomainQA, "")
	if _, err = e.assignSvc.AddFeedback(ctx, stray.Actor(), sub.ID, assignment.NewFeedback{
		Message:      "mine too?",
		FeedbackType: assignment.FeedbackComment,
	}); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("AddFeedback() as other buddy error = %v, want permission denied", err)
	}

	// only the author edits their message
	if _, err = e.assignSvc.UpdateFeedback(ctx, e.buddy.Actor(), comment.ID, "hijacked"); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("UpdateFeedback() by non-author error = %v, want permission denied", err)
	}
	edited, err := e.assignSvc.UpdateFeedback(ctx, e.mentor.Actor(), comment.ID, "looks great")
	if err != nil {
		t.Fatalf("UpdateFeedback() failed: %v", err)
	}
	if edited.Message != "looks great" || edited.FeedbackType != assignment.FeedbackComment {
		t.Errorf("UpdateFeedback() = %+v, want message-only edit", edited)
	}

	// deleting a parent orphans but keeps its replies
	if err = e.assignSvc.DeleteFeedback(ctx, e.manager.Actor(), comment.ID); err != nil {
		t.Fatalf("DeleteFeedback() as manager failed: %v", err)
	}
	thread, err := e.assignSvc.QueryFeedback(ctx, sub.ID)
	if err != nil {
		t.Fatalf("QueryFeedback() failed: %v", err)
	}
	if len(thread) != 1 || thread[0].ID != reply.ID {
		t.Fatalf("QueryFeedback() after delete = %+v, want only the reply", thread)
	}
	if thread[0].ParentFeedbackID != comment.ID {
		t.Error("orphaned reply lost its parent reference")
	}

	// non-author non-manager cannot delete
	if err = e.assignSvc.DeleteFeedback(ctx, stray.Actor(), reply.ID); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("DeleteFeedback() by non-author error = %v, want permission denied", err)
	}
}

func TestService_ReviewQueue(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, byWeek := enrollBuddy(t, e, 2, 1)
	task := byWeek[0][0]

	if _, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sub, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if _, err = e.assignSvc.ReviewQueue(ctx, e.buddy.Actor(), assignment.ReviewQueueFilter{}); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("ReviewQueue() as buddy error = %v, want permission denied", err)
	}

	queue, err := e.assignSvc.ReviewQueue(ctx, e.mentor.Actor(), assignment.ReviewQueueFilter{})
	if err != nil {
		t.Fatalf("ReviewQueue() failed: %v", err)
	}
	if len(queue) != 1 || queue[0].Submission.ID != sub.ID {
		t.Fatalf("ReviewQueue() = %+v, want the pending submission", queue)
	}

	// an unassigned mentor sees an empty queue, a manager sees everything
	strayMentor := testutil.CreateMentor(t, e.usrRepo, "Omar Other", "omar")
	if queue, err = e.assignSvc.ReviewQueue(ctx, strayMentor.Actor(), assignment.ReviewQueueFilter{}); err != nil || len(queue) != 0 {
		t.Errorf("ReviewQueue() as unassigned mentor = %d entries (err %v), want 0", len(queue), err)
	}
	if queue, err = e.assignSvc.ReviewQueue(ctx, e.manager.Actor(), assignment.ReviewQueueFilter{}); err != nil || len(queue) != 1 {
		t.Errorf("ReviewQueue() as manager = %d entries (err %v), want 1", len(queue), err)
	}

	// reviewed submissions leave the queue
	if _, err = e.assignSvc.Approve(ctx, e.mentor.Actor(), sub.ID, ""); err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	if queue, err = e.assignSvc.ReviewQueue(ctx, e.mentor.Actor(), assignment.ReviewQueueFilter{}); err != nil || len(queue) != 0 {
		t.Errorf("ReviewQueue() after approval = %d entries (err %v), want 0", len(queue), err)
	}
}

func TestService_CurriculumAnalytics(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	cur, _, _ := testutil.CreateCurriculum(t, e.curRepo, "Backend Onboarding", user.DomainBackend, curriculum.StatusPublished, 2, 2)
	if _, err := e.enrollSvc.Enroll(ctx, e.manager.Actor(), e.buddy.ID, cur.ID); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	tasks, err := e.assignRepo.QueryAssignments(ctx, assignment.QueryFilter{BuddyID: e.buddy.ID})
	if err != nil {
		t.Fatalf("QueryAssignments() failed: %v", err)
	}

	if _, err = e.assignSvc.Start(ctx, e.buddy.Actor(), tasks[0].ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sub, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), tasks[0].ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if _, err = e.assignSvc.Approve(ctx, e.mentor.Actor(), sub.ID, assignment.GradeExcellent); err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	if _, err = e.assignSvc.Start(ctx, e.buddy.Actor(), tasks[1].ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if _, err = e.assignSvc.CurriculumAnalytics(ctx, e.mentor.Actor(), cur.ID); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("CurriculumAnalytics() as mentor error = %v, want permission denied", err)
	}

	stats, err := e.assignSvc.CurriculumAnalytics(ctx, e.manager.Actor(), cur.ID)
	if err != nil {
		t.Fatalf("CurriculumAnalytics() failed: %v", err)
	}
	if stats.TotalAssignments != 4 {
		t.Errorf("analytics total = %d, want 4", stats.TotalAssignments)
	}
	if stats.CompletedAssignments != 1 || stats.CompletionRate != 25 {
		t.Errorf("analytics completed = %d (%d%%), want 1 (25%%)", stats.CompletedAssignments, stats.CompletionRate)
	}
	if stats.InProgress != 1 {
		t.Errorf("analytics in progress = %d, want 1", stats.InProgress)
	}
	if stats.TotalSubmissions != 1 {
		t.Errorf("analytics submissions = %d, want 1", stats.TotalSubmissions)
	}
	if stats.GradeCounts[assignment.GradeExcellent] != 1 {
		t.Errorf("analytics grades = %+v, want one excellent", stats.GradeCounts)
	}
}

// The canonical first-week walkthrough: two weeks of two tasks; one task goes
// through a revision loop and completes; week progress lands at 50% and the
// enrollment at 25%.
func TestService_onboardingWalkthrough(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	bc, byWeek := enrollBuddy(t, e, 2, 2)
	task := byWeek[0][0]

	if _, err := e.assignSvc.Start(ctx, e.buddy.Actor(), task.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	v1, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v1"))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if _, err = e.assignSvc.RequestRevision(ctx, e.mentor.Actor(), v1.ID, "needs tests"); err != nil {
		t.Fatalf("RequestRevision() failed: %v", err)
	}
	v2, err := e.assignSvc.Submit(ctx, e.buddy.Actor(), task.ID, submission("v2"))
	if err != nil {
		t.Fatalf("Submit() v2 failed: %v", err)
	}
	if _, err = e.assignSvc.Approve(ctx, e.mentor.Actor(), v2.ID, assignment.GradeGood); err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}

	wps, err := e.enrollSvc.WeekProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("WeekProgress() failed: %v", err)
	}
	if wps[0].ProgressPercentage != 50 || wps[0].Status != enroll.WeekInProgress {
		t.Errorf("week 1 = %d%% %s, want 50%% %s", wps[0].ProgressPercentage, wps[0].Status, enroll.WeekInProgress)
	}
	if wps[1].ProgressPercentage != 0 || wps[1].Status != enroll.WeekNotStarted {
		t.Errorf("week 2 = %d%% %s, want 0%% %s", wps[1].ProgressPercentage, wps[1].Status, enroll.WeekNotStarted)
	}

	overall, err := e.enrollSvc.OverallProgress(ctx, bc.ID)
	if err != nil {
		t.Fatalf("OverallProgress() failed: %v", err)
	}
	if overall.Percentage != 25 || overall.CompletedTasks != 1 || overall.TotalTasks != 4 {
		t.Errorf("overall = %+v, want 1/4 (25%%)", overall)
	}
}
