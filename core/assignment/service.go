package assignment

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/user"
)

var (
	// errors
	ErrAssignmentNotFound = core.NewError(core.KindNotFound, "task assignment not found")
	ErrSubmissionNotFound = core.NewError(core.KindNotFound, "submission not found")
	ErrFeedbackNotFound   = core.NewError(core.KindNotFound, "feedback not found")
	ErrNotStartable       = core.NewError(core.KindInvalidTransition, "assignment can no longer be started")
	ErrNotSubmittable     = core.NewError(core.KindInvalidTransition, "assignment must be in progress or needing revision to accept a submission")
	ErrNotAwaitingReview  = core.NewError(core.KindInvalidTransition, "assignment is not awaiting review")
	ErrNotCurrentVersion  = core.NewError(core.KindConflictingVersion, "a newer submission version exists; review the current one")
	ErrVersionConflict    = core.NewError(core.KindConflictingVersion, "submission version was allocated concurrently, retry")
	ErrAlreadyReviewed    = core.NewError(core.KindAlreadyReviewed, "submission already carries a review verdict")
)

// Grades a reviewer may attach on approval.
const (
	GradeExcellent        = "excellent"
	GradeGood             = "good"
	GradeSatisfactory     = "satisfactory"
	GradeNeedsImprovement = "needs_improvement"
)

type (
	Repository interface {
		GetAssignment(ctx context.Context, id string) (TaskAssignment, error)
		// QueryAssignments applies AND operation on available QueryFilter fields.
		QueryAssignments(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]TaskAssignment, error)
		// ActiveAssignmentCount counts assignments on the given templates that
		// are neither not_started nor completed.
		ActiveAssignmentCount(ctx context.Context, templateIDs []string) (int, error)
		MarkStarted(ctx context.Context, id string, at time.Time) (TaskAssignment, error)
		MarkSubmitted(ctx context.Context, id string, at time.Time) (TaskAssignment, error)
		MarkUnderReview(ctx context.Context, id string) (TaskAssignment, error)
		MarkCompleted(ctx context.Context, id string, at time.Time) (TaskAssignment, error)
		MarkNeedsRevision(ctx context.Context, id string) (TaskAssignment, error)

		// AllocateSubmissionVersion atomically increments the assignment's
		// submission counter and returns the new value. Two concurrent calls
		// never observe the same version.
		AllocateSubmissionVersion(ctx context.Context, assignmentID string) (int, error)
		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, id string) (Submission, error)
		// CurrentSubmission returns the submission with the highest version.
		CurrentSubmission(ctx context.Context, assignmentID string) (Submission, error)
		QuerySubmissions(ctx context.Context, filter SubmissionFilter, ordering ...core.DBOrdering) ([]Submission, error)
		MarkSubmissionUnderReview(ctx context.Context, id string) (Submission, error)
		// SetSubmissionReview records a verdict iff the submission has none
		// yet; returns ErrAlreadyReviewed otherwise.
		SetSubmissionReview(ctx context.Context, id string, upd ReviewUpdate) (Submission, error)

		CreateFeedback(ctx context.Context, fb Feedback) (Feedback, error)
		GetFeedback(ctx context.Context, id string) (Feedback, error)
		// QueryFeedback returns a submission's feedback thread ordered by creation time.
		QueryFeedback(ctx context.Context, submissionID string) ([]Feedback, error)
		UpdateFeedbackMessage(ctx context.Context, id, message string, at time.Time) (Feedback, error)
		DeleteFeedback(ctx context.Context, id string) error
	}

	// Directory resolves users for permission checks and notifications;
	// satisfied by user.ServiceInterface.
	Directory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		AssignedMentorID(ctx context.Context, buddyID string) (string, error)
	}

	// ContentStore exposes the read side of the curriculum content model;
	// satisfied by curriculum.ServiceInterface.
	ContentStore interface {
		GetByID(ctx context.Context, id string) (curriculum.Curriculum, error)
		QueryWeeks(ctx context.Context, curriculumID string) ([]curriculum.Week, error)
		QueryTemplates(ctx context.Context, weekID string) ([]curriculum.TaskTemplate, error)
		GetTemplate(ctx context.Context, id string) (curriculum.TaskTemplate, error)
	}

	// ProgressTracker is notified whenever an assignment's status changes in a
	// way that affects week progress; implemented by the enrollment service.
	ProgressTracker interface {
		RecomputeWeekProgress(ctx context.Context, buddyWeekProgressID string) error
	}

	ServiceInterface interface {
		GetByID(ctx context.Context, id string) (TaskAssignment, error)
		Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]TaskAssignment, error)

		Start(ctx context.Context, actor user.Actor, id string) (TaskAssignment, error)
		Submit(ctx context.Context, actor user.Actor, id string, ns NewSubmission) (Submission, error)
		BeginReview(ctx context.Context, actor user.Actor, submissionID string) (Submission, error)
		Approve(ctx context.Context, actor user.Actor, submissionID, grade string) (Submission, error)
		RequestRevision(ctx context.Context, actor user.Actor, submissionID, message string) (Submission, error)
		Reject(ctx context.Context, actor user.Actor, submissionID, message string) (Submission, error)

		GetSubmission(ctx context.Context, id string) (Submission, error)
		CurrentSubmission(ctx context.Context, assignmentID string) (Submission, error)
		QuerySubmissions(ctx context.Context, filter *SubmissionFilter, ordering ...core.DBOrdering) ([]Submission, error)

		AddFeedback(ctx context.Context, actor user.Actor, submissionID string, nf NewFeedback) (Feedback, error)
		QueryFeedback(ctx context.Context, submissionID string) ([]Feedback, error)
		UpdateFeedback(ctx context.Context, actor user.Actor, id, message string) (Feedback, error)
		DeleteFeedback(ctx context.Context, actor user.Actor, id string) error

		ReviewQueue(ctx context.Context, actor user.Actor, filter ReviewQueueFilter) ([]ReviewQueueEntry, error)
		CurriculumAnalytics(ctx context.Context, actor user.Actor, curriculumID string) (CurriculumAnalytics, error)
	}

	service struct {
		repo     Repository
		users    Directory
		content  ContentStore
		progress ProgressTracker
		mailSvc  core.EmailService
		validate *validator.Validate
		conf     *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	users Directory,
	content ContentStore,
	progress ProgressTracker,
	mailSvc core.EmailService,
	validate *validator.Validate,
	conf *core.Config,
) *service {
	return &service{
		repo:     repo,
		users:    users,
		content:  content,
		progress: progress,
		mailSvc:  mailSvc,
		validate: validate,
		conf:     conf,
	}
}

func (svc *service) GetByID(ctx context.Context, id string) (TaskAssignment, error) {
	return svc.repo.GetAssignment(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]TaskAssignment, error) {
	if filter == nil {
		filter = &QueryFilter{}
	}
	return svc.repo.QueryAssignments(ctx, *filter, ordering...)
}

// Start moves a not_started assignment to in_progress and stamps StartedAt.
// Allowed for the buddy themself or their assigned mentor; managers are
// denied. Starting an assignment already in progress is a no-op.
func (svc *service) Start(ctx context.Context, actor user.Actor, id string) (TaskAssignment, error) {
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return TaskAssignment{}, err
	}
	buddy, err := svc.users.GetByID(ctx, a.BuddyID)
	if err != nil {
		return TaskAssignment{}, err
	}
	if d := user.CanUpdateBuddyProgress(actor, buddy); !d.Allowed {
		return TaskAssignment{}, core.NewPermissionError(string(d.Permission))
	}

	switch a.Status {
	case StatusInProgress:
		return a, nil
	case StatusNotStarted:
	default:
		return TaskAssignment{}, ErrNotStartable
	}

	a, err = svc.repo.MarkStarted(ctx, id, time.Now().UTC())
	if err != nil {
		return TaskAssignment{}, err
	}
	if err = svc.progress.RecomputeWeekProgress(ctx, a.BuddyWeekProgressID); err != nil {
		return TaskAssignment{}, err
	}
	return a, nil
}

// Submit creates the next submission version for an assignment and moves it
// to submitted. Buddy-only, and only on their own assignment; the assignment
// must be in_progress or needs_revision. Resources are validated for shape
// and against the template's required resource types.
func (svc *service) Submit(ctx context.Context, actor user.Actor, id string, ns NewSubmission) (Submission, error) {
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if d := user.Authorize(actor, user.PermSubmitAssignment, user.Owners{BuddyUserID: a.BuddyID}); !d.Allowed {
		return Submission{}, core.NewPermissionError(string(d.Permission))
	}
	if a.Status != StatusInProgress && a.Status != StatusNeedsRevision {
		return Submission{}, ErrNotSubmittable
	}
	if err = ns.Validate(svc.validate); err != nil {
		return Submission{}, err
	}
	tpl, err := svc.content.GetTemplate(ctx, a.TaskTemplateID)
	if err != nil {
		return Submission{}, err
	}
	if err = checkRequiredResources(tpl, ns.Resources); err != nil {
		return Submission{}, err
	}

	version, err := svc.repo.AllocateSubmissionVersion(ctx, a.ID)
	if err != nil {
		return Submission{}, err
	}
	now := time.Now().UTC()
	sub, err := svc.repo.CreateSubmission(ctx, Submission{
		TaskAssignmentID: a.ID,
		BuddyID:          a.BuddyID,
		Version:          version,
		Description:      ns.Description,
		Notes:            ns.Notes,
		ReviewStatus:     ReviewPending,
		SubmittedAt:      now,
		Resources:        ns.Resources,
	})
	if err != nil {
		return Submission{}, err
	}
	if _, err = svc.repo.MarkSubmitted(ctx, a.ID, now); err != nil {
		return Submission{}, err
	}

	go svc.notifyMentor(a, sub)
	return sub, nil
}

// BeginReview moves a pending current submission (and its assignment) to
// under_review. Idempotent when already under review.
func (svc *service) BeginReview(ctx context.Context, actor user.Actor, submissionID string) (Submission, error) {
	sub, a, err := svc.getReviewable(ctx, actor, submissionID)
	if err != nil {
		return Submission{}, err
	}
	if sub.ReviewStatus == ReviewUnderReview {
		return sub, nil
	}

	sub, err = svc.repo.MarkSubmissionUnderReview(ctx, sub.ID)
	if err != nil {
		return Submission{}, err
	}
	if _, err = svc.repo.MarkUnderReview(ctx, a.ID); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Approve records the approved verdict on the current submission, completes
// the assignment and triggers a week progress recompute. Grade is optional.
func (svc *service) Approve(ctx context.Context, actor user.Actor, submissionID, grade string) (Submission, error) {
	if err := checkGrade(grade); err != nil {
		return Submission{}, err
	}
	sub, a, err := svc.getReviewable(ctx, actor, submissionID)
	if err != nil {
		return Submission{}, err
	}

	now := time.Now().UTC()
	sub, err = svc.repo.SetSubmissionReview(ctx, sub.ID, ReviewUpdate{
		Status:     ReviewApproved,
		ReviewedBy: actor.ID,
		ReviewedAt: now,
		Grade:      grade,
	})
	if err != nil {
		return Submission{}, err
	}
	if a, err = svc.repo.MarkCompleted(ctx, a.ID, now); err != nil {
		return Submission{}, err
	}
	if err = svc.progress.RecomputeWeekProgress(ctx, a.BuddyWeekProgressID); err != nil {
		return Submission{}, err
	}

	go svc.notifyBuddy(a, sub, "approved")
	return sub, nil
}

// RequestRevision records the needs_revision verdict, moves the assignment
// back to needs_revision and threads the reviewer's message as a
// revision_request feedback entry. Message is required.
func (svc *service) RequestRevision(ctx context.Context, actor user.Actor, submissionID, message string) (Submission, error) {
	return svc.sendBack(ctx, actor, submissionID, message, ReviewNeedsRevision)
}

// Reject records the rejected verdict; like RequestRevision the assignment
// moves to needs_revision so the buddy can submit a fresh attempt.
func (svc *service) Reject(ctx context.Context, actor user.Actor, submissionID, message string) (Submission, error) {
	return svc.sendBack(ctx, actor, submissionID, message, ReviewRejected)
}

func (svc *service) sendBack(ctx context.Context, actor user.Actor, submissionID, message, verdict string) (Submission, error) {
	message = core.CleanString(message)
	if message == "" {
		return Submission{}, core.NewValidationError(nil, core.FieldError{Field: "message", Error: "a message to the buddy is required"})
	}
	sub, a, err := svc.getReviewable(ctx, actor, submissionID)
	if err != nil {
		return Submission{}, err
	}

	now := time.Now().UTC()
	sub, err = svc.repo.SetSubmissionReview(ctx, sub.ID, ReviewUpdate{
		Status:     verdict,
		ReviewedBy: actor.ID,
		ReviewedAt: now,
	})
	if err != nil {
		return Submission{}, err
	}
	if a, err = svc.repo.MarkNeedsRevision(ctx, a.ID); err != nil {
		return Submission{}, err
	}
	if _, err = svc.repo.CreateFeedback(ctx, Feedback{
		SubmissionID: sub.ID,
		AuthorID:     actor.ID,
		AuthorRole:   actor.Role,
		Message:      message,
		FeedbackType: FeedbackRevisionRequest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return Submission{}, err
	}

	go svc.notifyBuddy(a, sub, verdict)
	return sub, nil
}

// getReviewable loads a submission with its assignment and runs every
// precondition shared by the review operations: reviewer permission, the
// submission being current, no verdict recorded yet and the assignment
// awaiting review.
func (svc *service) getReviewable(ctx context.Context, actor user.Actor, submissionID string) (Submission, TaskAssignment, error) {
	sub, err := svc.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return Submission{}, TaskAssignment{}, err
	}
	a, err := svc.repo.GetAssignment(ctx, sub.TaskAssignmentID)
	if err != nil {
		return Submission{}, TaskAssignment{}, err
	}
	mentorID, err := svc.users.AssignedMentorID(ctx, a.BuddyID)
	if err != nil {
		return Submission{}, TaskAssignment{}, err
	}
	owners := user.Owners{BuddyUserID: a.BuddyID, AssignedMentorUserID: mentorID}
	if d := user.Authorize(actor, user.PermReviewSubmission, owners); !d.Allowed {
		return Submission{}, TaskAssignment{}, core.NewPermissionError(string(d.Permission))
	}

	if sub.Reviewed() {
		return Submission{}, TaskAssignment{}, ErrAlreadyReviewed
	}
	cur, err := svc.repo.CurrentSubmission(ctx, a.ID)
	if err != nil {
		return Submission{}, TaskAssignment{}, err
	}
	if cur.ID != sub.ID {
		return Submission{}, TaskAssignment{}, ErrNotCurrentVersion
	}
	if !a.AwaitingReview() {
		return Submission{}, TaskAssignment{}, ErrNotAwaitingReview
	}
	return sub, a, nil
}

func (svc *service) GetSubmission(ctx context.Context, id string) (Submission, error) {
	return svc.repo.GetSubmission(ctx, id)
}

func (svc *service) CurrentSubmission(ctx context.Context, assignmentID string) (Submission, error) {
	return svc.repo.CurrentSubmission(ctx, assignmentID)
}

func (svc *service) QuerySubmissions(ctx context.Context, filter *SubmissionFilter, ordering ...core.DBOrdering) ([]Submission, error) {
	if filter == nil {
		filter = &SubmissionFilter{}
	}
	return svc.repo.QuerySubmissions(ctx, *filter, ordering...)
}

// AddFeedback appends an entry to a submission's feedback thread. Mentors and
// managers may comment on any submission, a buddy only on their own. Replies
// must reference a parent on the same submission.
func (svc *service) AddFeedback(ctx context.Context, actor user.Actor, submissionID string, nf NewFeedback) (Feedback, error) {
	sub, err := svc.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return Feedback{}, err
	}
	if d := user.Authorize(actor, user.PermAddFeedback, user.Owners{BuddyUserID: sub.BuddyID}); !d.Allowed {
		return Feedback{}, core.NewPermissionError(string(d.Permission))
	}
	if err = nf.Validate(svc.validate); err != nil {
		return Feedback{}, err
	}
	if nf.ParentFeedbackID != "" {
		if nf.FeedbackType != FeedbackReply {
			return Feedback{}, core.NewValidationError(nil, core.FieldError{Field: "feedback_type", Error: "threaded feedback must be of type reply"})
		}
		parent, err := svc.repo.GetFeedback(ctx, nf.ParentFeedbackID)
		if err != nil {
			return Feedback{}, err
		}
		if parent.SubmissionID != sub.ID {
			return Feedback{}, core.NewValidationError(nil, core.FieldError{Field: "parent_feedback_id", Error: "parent feedback belongs to a different submission"})
		}
	} else if nf.FeedbackType == FeedbackReply {
		return Feedback{}, core.NewValidationError(nil, core.FieldError{Field: "parent_feedback_id", Error: "a reply requires a parent feedback"})
	}

	now := time.Now().UTC()
	return svc.repo.CreateFeedback(ctx, Feedback{
		SubmissionID:     sub.ID,
		AuthorID:         actor.ID,
		AuthorRole:       actor.Role,
		Message:          nf.Message,
		FeedbackType:     nf.FeedbackType,
		ParentFeedbackID: nf.ParentFeedbackID,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (svc *service) QueryFeedback(ctx context.Context, submissionID string) ([]Feedback, error) {
	return svc.repo.QueryFeedback(ctx, submissionID)
}

// UpdateFeedback edits the message of one's own feedback entry. Only the
// message is editable; type and threading are fixed at creation.
func (svc *service) UpdateFeedback(ctx context.Context, actor user.Actor, id, message string) (Feedback, error) {
	fb, err := svc.repo.GetFeedback(ctx, id)
	if err != nil {
		return Feedback{}, err
	}
	if fb.AuthorID != actor.ID {
		return Feedback{}, core.NewPermissionError(string(user.PermModerateFeedback))
	}
	message = core.CleanString(message)
	if message == "" {
		return Feedback{}, core.NewValidationError(nil, core.FieldError{Field: "message", Error: "message is required"})
	}
	return svc.repo.UpdateFeedbackMessage(ctx, id, message, time.Now().UTC())
}

// DeleteFeedback hard-deletes a feedback entry; the author may delete their
// own, managers may moderate any. Replies to the deleted entry are kept and
// keep their (now dangling) parent reference.
func (svc *service) DeleteFeedback(ctx context.Context, actor user.Actor, id string) error {
	fb, err := svc.repo.GetFeedback(ctx, id)
	if err != nil {
		return err
	}
	if fb.AuthorID != actor.ID {
		if d := user.Authorize(actor, user.PermModerateFeedback, user.Owners{}); !d.Allowed {
			return core.NewPermissionError(string(d.Permission))
		}
	}
	return svc.repo.DeleteFeedback(ctx, id)
}

// ReviewQueue lists submissions awaiting a verdict, oldest first. Mentors see
// only their assigned buddies' submissions; managers see everything.
func (svc *service) ReviewQueue(ctx context.Context, actor user.Actor, filter ReviewQueueFilter) ([]ReviewQueueEntry, error) {
	if d := user.Authorize(actor, user.PermViewReviewQueue, user.Owners{}); !d.Allowed {
		return nil, core.NewPermissionError(string(d.Permission))
	}

	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{
		BuddyID:        filter.BuddyID,
		ReviewStatuses: []string{ReviewPending, ReviewUnderReview},
	}, core.DBOrdering{Field: "submitted_at", Ascending: true})
	if err != nil {
		return nil, err
	}

	var weekTemplates map[string]bool
	if filter.WeekID != "" {
		tpls, err := svc.content.QueryTemplates(ctx, filter.WeekID)
		if err != nil {
			return nil, err
		}
		weekTemplates = make(map[string]bool, len(tpls))
		for _, tpl := range tpls {
			weekTemplates[tpl.ID] = true
		}
	}

	entries := make([]ReviewQueueEntry, 0, len(subs))
	assignments := make(map[string]TaskAssignment)
	mentors := make(map[string]string)
	for _, sub := range subs {
		a, ok := assignments[sub.TaskAssignmentID]
		if !ok {
			if a, err = svc.repo.GetAssignment(ctx, sub.TaskAssignmentID); err != nil {
				return nil, err
			}
			assignments[sub.TaskAssignmentID] = a
		}
		// stale versions stay queryable but are not actionable
		if sub.Version != a.SubmissionCount {
			continue
		}
		if weekTemplates != nil && !weekTemplates[a.TaskTemplateID] {
			continue
		}
		if actor.Role == user.RoleMentor {
			mentorID, ok := mentors[a.BuddyID]
			if !ok {
				if mentorID, err = svc.users.AssignedMentorID(ctx, a.BuddyID); err != nil {
					return nil, err
				}
				mentors[a.BuddyID] = mentorID
			}
			if mentorID != actor.ID {
				continue
			}
		}
		entries = append(entries, ReviewQueueEntry{Submission: sub, Assignment: a})
	}
	return entries, nil
}

// CurriculumAnalytics aggregates assignment and grade stats over every task
// template of a curriculum. Manager-only.
func (svc *service) CurriculumAnalytics(ctx context.Context, actor user.Actor, curriculumID string) (CurriculumAnalytics, error) {
	if d := user.Authorize(actor, user.PermViewAnalytics, user.Owners{}); !d.Allowed {
		return CurriculumAnalytics{}, core.NewPermissionError(string(d.Permission))
	}
	if _, err := svc.content.GetByID(ctx, curriculumID); err != nil {
		return CurriculumAnalytics{}, err
	}

	weeks, err := svc.content.QueryWeeks(ctx, curriculumID)
	if err != nil {
		return CurriculumAnalytics{}, err
	}
	var templateIDs []string
	for _, wk := range weeks {
		tpls, err := svc.content.QueryTemplates(ctx, wk.ID)
		if err != nil {
			return CurriculumAnalytics{}, err
		}
		for _, tpl := range tpls {
			templateIDs = append(templateIDs, tpl.ID)
		}
	}

	stats := CurriculumAnalytics{CurriculumID: curriculumID, GradeCounts: make(map[string]int)}
	if len(templateIDs) == 0 {
		return stats, nil
	}
	assignments, err := svc.repo.QueryAssignments(ctx, QueryFilter{TemplateIDs: templateIDs})
	if err != nil {
		return CurriculumAnalytics{}, err
	}
	assignmentIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		assignmentIDs = append(assignmentIDs, a.ID)
		stats.TotalAssignments++
		stats.TotalSubmissions += a.SubmissionCount
		switch a.Status {
		case StatusCompleted:
			stats.CompletedAssignments++
		case StatusInProgress, StatusNeedsRevision:
			stats.InProgress++
		case StatusSubmitted, StatusUnderReview:
			stats.AwaitingReview++
		}
	}
	stats.CompletionRate = core.Percentage(stats.CompletedAssignments, stats.TotalAssignments)

	if len(assignmentIDs) > 0 {
		approved, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{
			AssignmentIDs:  assignmentIDs,
			ReviewStatuses: []string{ReviewApproved},
		})
		if err != nil {
			return CurriculumAnalytics{}, err
		}
		for _, sub := range approved {
			if sub.Grade != "" {
				stats.GradeCounts[sub.Grade]++
			}
		}
	}
	return stats, nil
}

// checkRequiredResources ensures every required expected resource type of the
// template is covered by at least one submitted resource. When the template
// requires resources, submitted types must also be drawn from its expected
// resource types.
func checkRequiredResources(tpl curriculum.TaskTemplate, resources []Resource) error {
	provided := make(map[string]bool, len(resources))
	for _, res := range resources {
		provided[res.Type] = true
	}
	var fieldErrs []core.FieldError
	for _, rt := range tpl.RequiredResourceTypes() {
		if !provided[rt.Type] {
			fieldErrs = append(fieldErrs, core.FieldError{
				Field: "resources",
				Error: fmt.Sprintf("a resource of type %q is required", rt.Type),
			})
		}
	}
	if len(tpl.RequiredResourceTypes()) > 0 {
		expected := make(map[string]bool, len(tpl.ExpectedResourceTypes))
		for _, rt := range tpl.ExpectedResourceTypes {
			expected[rt.Type] = true
		}
		flagged := make(map[string]bool)
		for _, res := range resources {
			if !expected[res.Type] && !flagged[res.Type] {
				flagged[res.Type] = true
				fieldErrs = append(fieldErrs, core.FieldError{
					Field: "resources",
					Error: fmt.Sprintf("resource type %q is not expected by this task", res.Type),
				})
			}
		}
	}
	if len(fieldErrs) > 0 {
		return core.NewValidationError(nil, fieldErrs...)
	}
	return nil
}

func checkGrade(grade string) error {
	switch grade {
	case "", GradeExcellent, GradeGood, GradeSatisfactory, GradeNeedsImprovement:
		return nil
	}
	return core.NewValidationError(nil, core.FieldError{Field: "grade", Error: "unknown grade"})
}

func (svc *service) notifyMentor(a TaskAssignment, sub Submission) {
	ctx := context.Background()
	mentorID, err := svc.users.AssignedMentorID(ctx, a.BuddyID)
	if err != nil || mentorID == "" {
		return
	}
	mentor, err := svc.users.GetByID(ctx, mentorID)
	if err != nil {
		return
	}
	buddy, err := svc.users.GetByID(ctx, a.BuddyID)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: mentor.Name, Address: mentor.Email}},
		Subject:      fmt.Sprintf("%s submitted work for review (v%d)", buddy.Name, sub.Version),
		TemplateName: "submission-received",
		TemplateData: struct {
			BuddyName string
			Version   int
		}{buddy.Name, sub.Version},
		BodyStr: fmt.Sprintf("%s submitted version %d for review: %s/review-queue", buddy.Name, sub.Version, svc.conf.FrontendBaseURL),
	})
}

func (svc *service) notifyBuddy(a TaskAssignment, sub Submission, verdict string) {
	buddy, err := svc.users.GetByID(context.Background(), a.BuddyID)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: buddy.Name, Address: buddy.Email}},
		Subject:      fmt.Sprintf("Your submission was %s", verdict),
		TemplateName: "submission-reviewed",
		TemplateData: struct {
			Verdict string
			Version int
			Grade   string
		}{verdict, sub.Version, sub.Grade},
		BodyStr: fmt.Sprintf("Your submission (v%d) was %s: %s/assignments/%s", sub.Version, verdict, svc.conf.FrontendBaseURL, a.ID),
	})
}
