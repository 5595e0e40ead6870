package assignment

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rafikidev/rafiki/core"
)

// Assignment lifecycle statuses.
//
//	not_started -> in_progress -> submitted -> under_review -> completed
//	                    ^                          |
//	                    +------ needs_revision <---+
//
// `submitted` and `under_review` are both "awaiting review" but are distinct
// in storage: `submitted` is set the instant a Submission is created, a
// reviewer's optional "begin review" moves it to `under_review`.
const (
	StatusNotStarted    = "not_started"
	StatusInProgress    = "in_progress"
	StatusSubmitted     = "submitted"
	StatusUnderReview   = "under_review"
	StatusCompleted     = "completed"
	StatusNeedsRevision = "needs_revision"
)

// Submission review statuses.
const (
	ReviewPending       = "pending"
	ReviewUnderReview   = "under_review"
	ReviewApproved      = "approved"
	ReviewNeedsRevision = "needs_revision"
	ReviewRejected      = "rejected"
)

// Feedback types.
const (
	FeedbackComment         = "comment"
	FeedbackQuestion        = "question"
	FeedbackApproval        = "approval"
	FeedbackRevisionRequest = "revision_request"
	FeedbackReply           = "reply"
)

// TaskAssignment is the per-buddy instance of a task template; the unit of
// progress tracking. Exactly one exists per (buddy, taskTemplate) pair,
// created when the buddy is enrolled in the containing curriculum.
type TaskAssignment struct {
	ID                  string    `json:"id"`
	BuddyID             string    `json:"buddy_id"`
	TaskTemplateID      string    `json:"task_template_id"`
	BuddyWeekProgressID string    `json:"buddy_week_progress_id"`
	Status              string    `json:"status"`
	AssignedAt          time.Time `json:"assigned_at"`
	DueDate             time.Time `json:"due_date,omitempty"`
	StartedAt           time.Time `json:"started_at,omitempty"`
	FirstSubmissionAt   time.Time `json:"first_submission_at,omitempty"`
	CompletedAt         time.Time `json:"completed_at,omitempty"`
	SubmissionCount     int       `json:"submission_count"` // monotonic; equals the highest allocated version
	UpdatedAt           time.Time `json:"updated_at"`
}

func (a *TaskAssignment) AwaitingReview() bool {
	return a.Status == StatusSubmitted || a.Status == StatusUnderReview
}

func (a *TaskAssignment) IsCompleted() bool { return a.Status == StatusCompleted }

// Resource is one work product attached to a submission. Produced by the
// excluded upload facility; only shape is validated here.
type Resource struct {
	Type  string `json:"type" validate:"required"`
	Label string `json:"label" validate:"required"`
	URL   string `json:"url" validate:"required,url"`
}

// Submission is one versioned attempt at completing an assignment. Versions
// are 1-based, monotonically increasing per assignment and never reused; the
// submission with the highest version is "current" and is the only one whose
// review status can transition.
type Submission struct {
	ID               string     `json:"id"`
	TaskAssignmentID string     `json:"task_assignment_id"`
	BuddyID          string     `json:"buddy_id"`
	Version          int        `json:"version"`
	Description      string     `json:"description"`
	Notes            string     `json:"notes,omitempty"`
	ReviewStatus     string     `json:"review_status"`
	ReviewedBy       string     `json:"reviewed_by,omitempty"`
	ReviewedAt       time.Time  `json:"reviewed_at,omitempty"`
	Grade            string     `json:"grade,omitempty"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	Resources        []Resource `json:"resources"`
}

// Reviewed reports whether a final verdict has been recorded.
func (s *Submission) Reviewed() bool {
	switch s.ReviewStatus {
	case ReviewApproved, ReviewNeedsRevision, ReviewRejected:
		return true
	}
	return false
}

// Feedback is one entry in a submission's feedback thread. ParentFeedbackID
// forms a reply tree, never a cycle: a parent always has a strictly earlier
// creation timestamp.
type Feedback struct {
	ID               string    `json:"id"`
	SubmissionID     string    `json:"submission_id"`
	AuthorID         string    `json:"author_id"`
	AuthorRole       string    `json:"author_role"`
	Message          string    `json:"message"`
	FeedbackType     string    `json:"feedback_type"`
	ParentFeedbackID string    `json:"parent_feedback_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewSubmission is the payload for submitting work on an assignment.
type NewSubmission struct {
	Description string     `json:"description" validate:"required"`
	Notes       string     `json:"notes"`
	Resources   []Resource `json:"resources" validate:"omitempty,dive"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.Description = core.CleanString(ns.Description)
	ns.Notes = core.CleanString(ns.Notes)
	return validate.Struct(ns)
}

// NewFeedback is the payload for adding feedback to a submission.
type NewFeedback struct {
	Message          string `json:"message" validate:"required"`
	FeedbackType     string `json:"feedback_type" validate:"required,oneof=comment question approval revision_request reply"`
	ParentFeedbackID string `json:"parent_feedback_id"`
}

func (nf *NewFeedback) Validate(validate *validator.Validate) error {
	nf.Message = core.CleanString(nf.Message)
	return validate.Struct(nf)
}

// QueryFilter filters task assignments; fields AND together.
type QueryFilter struct {
	BuddyID             string
	BuddyWeekProgressID string
	TemplateIDs         []string
	Statuses            []string
}

// SubmissionFilter filters submissions; fields AND together.
type SubmissionFilter struct {
	AssignmentID   string
	AssignmentIDs  []string
	BuddyID        string
	ReviewStatuses []string
}

// ReviewQueueFilter narrows the mentor review queue.
type ReviewQueueFilter struct {
	BuddyID string `query:"buddy_id"`
	WeekID  string `query:"week_id"`
}

// ReviewQueueEntry is one submission awaiting review, with its assignment.
type ReviewQueueEntry struct {
	Submission Submission     `json:"submission"`
	Assignment TaskAssignment `json:"assignment"`
}

// ReviewUpdate records a review verdict on a submission.
type ReviewUpdate struct {
	Status     string
	ReviewedBy string
	ReviewedAt time.Time
	Grade      string
}

// CurriculumAnalytics aggregates completion/grade stats over one curriculum.
type CurriculumAnalytics struct {
	CurriculumID         string         `json:"curriculum_id"`
	TotalAssignments     int            `json:"total_assignments"`
	CompletedAssignments int            `json:"completed_assignments"`
	InProgress           int            `json:"in_progress"`
	AwaitingReview       int            `json:"awaiting_review"`
	CompletionRate       int            `json:"completion_rate"` // percentage, 0-100
	GradeCounts          map[string]int `json:"grade_counts"`
	TotalSubmissions     int            `json:"total_submissions"`
}
