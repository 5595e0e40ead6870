package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/assignment"
)

type dbAssignment struct {
	ID                  string    `db:"id"`
	BuddyID             string    `db:"buddy_id"`
	TaskTemplateID      string    `db:"task_template_id"`
	BuddyWeekProgressID string    `db:"buddy_week_progress_id"`
	Status              string    `db:"status"`
	AssignedAt          time.Time `db:"assigned_at"`
	DueDate             null.Time `db:"due_date"`
	StartedAt           null.Time `db:"started_at"`
	FirstSubmissionAt   null.Time `db:"first_submission_at"`
	CompletedAt         null.Time `db:"completed_at"`
	SubmissionCount     int       `db:"submission_count"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (a dbAssignment) unpack() assignment.TaskAssignment {
	return assignment.TaskAssignment{
		ID:                  a.ID,
		BuddyID:             a.BuddyID,
		TaskTemplateID:      a.TaskTemplateID,
		BuddyWeekProgressID: a.BuddyWeekProgressID,
		Status:              a.Status,
		AssignedAt:          a.AssignedAt,
		DueDate:             a.DueDate.Time,
		StartedAt:           a.StartedAt.Time,
		FirstSubmissionAt:   a.FirstSubmissionAt.Time,
		CompletedAt:         a.CompletedAt.Time,
		SubmissionCount:     a.SubmissionCount,
		UpdatedAt:           a.UpdatedAt,
	}
}

type dbSubmission struct {
	ID               string      `db:"id"`
	TaskAssignmentID string      `db:"task_assignment_id"`
	BuddyID          string      `db:"buddy_id"`
	Version          int         `db:"version"`
	Description      string      `db:"description"`
	Notes            string      `db:"notes"`
	ReviewStatus     string      `db:"review_status"`
	ReviewedBy       null.String `db:"reviewed_by"`
	ReviewedAt       null.Time   `db:"reviewed_at"`
	Grade            string      `db:"grade"`
	SubmittedAt      time.Time   `db:"submitted_at"`
	Resources        []byte      `db:"resources"`
}

func (s dbSubmission) unpack() (assignment.Submission, error) {
	sub := assignment.Submission{
		ID:               s.ID,
		TaskAssignmentID: s.TaskAssignmentID,
		BuddyID:          s.BuddyID,
		Version:          s.Version,
		Description:      s.Description,
		Notes:            s.Notes,
		ReviewStatus:     s.ReviewStatus,
		ReviewedBy:       s.ReviewedBy.String,
		ReviewedAt:       s.ReviewedAt.Time,
		Grade:            s.Grade,
		SubmittedAt:      s.SubmittedAt,
	}
	if len(s.Resources) > 0 {
		if err := json.Unmarshal(s.Resources, &sub.Resources); err != nil {
			return assignment.Submission{}, errors.Wrap(err, "decoding submission resources")
		}
	}
	return sub, nil
}

type dbFeedback struct {
	ID               string      `db:"id"`
	SubmissionID     string      `db:"submission_id"`
	AuthorID         null.String `db:"author_id"`
	AuthorRole       string      `db:"author_role"`
	Message          string      `db:"message"`
	FeedbackType     string      `db:"feedback_type"`
	ParentFeedbackID null.String `db:"parent_feedback_id"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (f dbFeedback) unpack() assignment.Feedback {
	return assignment.Feedback{
		ID:               f.ID,
		SubmissionID:     f.SubmissionID,
		AuthorID:         f.AuthorID.String,
		AuthorRole:       f.AuthorRole,
		Message:          f.Message,
		FeedbackType:     f.FeedbackType,
		ParentFeedbackID: f.ParentFeedbackID.String,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

const (
	assignmentColumns = `id, buddy_id, task_template_id, buddy_week_progress_id, status, assigned_at, due_date, started_at, first_submission_at, completed_at, submission_count, updated_at`
	submissionColumns = `id, task_assignment_id, buddy_id, version, description, notes, review_status, reviewed_by, reviewed_at, grade, submitted_at, resources`
	feedbackColumns   = `id, submission_id, author_id, author_role, message, feedback_type, parent_feedback_id, created_at, updated_at`

	// review_status values a verdict may still land on
	reviewableStatuses = `'pending', 'under_review'`
)

type assignmentRepository struct {
	db *sqlx.DB
}

var _ assignment.Repository = (*assignmentRepository)(nil)

func NewAssignmentRepository(db *sqlx.DB) *assignmentRepository {
	return &assignmentRepository{db: db}
}

func (repo *assignmentRepository) GetAssignment(ctx context.Context, id string) (assignment.TaskAssignment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return assignment.TaskAssignment{}, assignment.ErrAssignmentNotFound
	}
	var a dbAssignment
	query := `SELECT ` + assignmentColumns + ` FROM task_assignments WHERE id = $1`
	if err := repo.db.GetContext(ctx, &a, query, id); err != nil {
		return assignment.TaskAssignment{}, trapNoRows(err, assignment.ErrAssignmentNotFound, "finding assignment")
	}
	return a.unpack(), nil
}

func (repo *assignmentRepository) QueryAssignments(ctx context.Context, filter assignment.QueryFilter, ordering ...core.DBOrdering) ([]assignment.TaskAssignment, error) {
	where := []string{"TRUE"}
	var args []interface{}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.BuddyID != "" {
		where = append(where, fmt.Sprintf("buddy_id = %s", arg(filter.BuddyID)))
	}
	if filter.BuddyWeekProgressID != "" {
		where = append(where, fmt.Sprintf("buddy_week_progress_id = %s", arg(filter.BuddyWeekProgressID)))
	}
	if len(filter.TemplateIDs) > 0 {
		where = append(where, fmt.Sprintf("task_template_id = ANY(%s)", arg(pq.Array(filter.TemplateIDs))))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY(%s)", arg(pq.StringArray(filter.Statuses))))
	}

	query := `SELECT ` + assignmentColumns + ` FROM task_assignments WHERE ` + strings.Join(where, " AND ") + orderBy("assigned_at ASC", ordering)
	var rows []dbAssignment
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	assignments := make([]assignment.TaskAssignment, 0, len(rows))
	for _, a := range rows {
		assignments = append(assignments, a.unpack())
	}
	return assignments, nil
}

func (repo *assignmentRepository) ActiveAssignmentCount(ctx context.Context, templateIDs []string) (int, error) {
	var count int
	query := `
SELECT COUNT(*) FROM task_assignments
WHERE task_template_id = ANY($1) AND status != 'not_started'`
	if err := repo.db.GetContext(ctx, &count, query, pq.Array(templateIDs)); err != nil {
		return 0, errors.Wrap(err, "counting active assignments")
	}
	return count, nil
}

func (repo *assignmentRepository) setStatus(ctx context.Context, id, status, extraSet string, args ...interface{}) (assignment.TaskAssignment, error) {
	query := fmt.Sprintf(
		`UPDATE task_assignments SET status = '%s', updated_at = NOW()%s WHERE id = $1 RETURNING `+assignmentColumns,
		status, extraSet,
	)
	var a dbAssignment
	if err := repo.db.GetContext(ctx, &a, query, append([]interface{}{id}, args...)...); err != nil {
		return assignment.TaskAssignment{}, trapNoRows(err, assignment.ErrAssignmentNotFound, "updating assignment status")
	}
	return a.unpack(), nil
}

func (repo *assignmentRepository) MarkStarted(ctx context.Context, id string, at time.Time) (assignment.TaskAssignment, error) {
	// first start wins; restarts after revision keep the original timestamp
	return repo.setStatus(ctx, id, assignment.StatusInProgress, `, started_at = COALESCE(started_at, $2)`, at.UTC())
}

func (repo *assignmentRepository) MarkSubmitted(ctx context.Context, id string, at time.Time) (assignment.TaskAssignment, error) {
	return repo.setStatus(ctx, id, assignment.StatusSubmitted, `, first_submission_at = COALESCE(first_submission_at, $2)`, at.UTC())
}

func (repo *assignmentRepository) MarkUnderReview(ctx context.Context, id string) (assignment.TaskAssignment, error) {
	return repo.setStatus(ctx, id, assignment.StatusUnderReview, ``)
}

func (repo *assignmentRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (assignment.TaskAssignment, error) {
	return repo.setStatus(ctx, id, assignment.StatusCompleted, `, completed_at = $2`, at.UTC())
}

func (repo *assignmentRepository) MarkNeedsRevision(ctx context.Context, id string) (assignment.TaskAssignment, error) {
	return repo.setStatus(ctx, id, assignment.StatusNeedsRevision, ``)
}

func (repo *assignmentRepository) AllocateSubmissionVersion(ctx context.Context, assignmentID string) (int, error) {
	var version int
	query := `UPDATE task_assignments SET submission_count = submission_count + 1 WHERE id = $1 RETURNING submission_count`
	if err := repo.db.GetContext(ctx, &version, query, assignmentID); err != nil {
		return 0, trapNoRows(err, assignment.ErrAssignmentNotFound, "allocating submission version")
	}
	return version, nil
}

func (repo *assignmentRepository) CreateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	sub.ID = uuid.New().String()
	resources, err := json.Marshal(sub.Resources)
	if err != nil {
		return assignment.Submission{}, errors.Wrap(err, "encoding submission resources")
	}
	query := `
INSERT INTO submissions (` + submissionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = repo.db.ExecContext(ctx, query,
		sub.ID, sub.TaskAssignmentID, sub.BuddyID, sub.Version, sub.Description, sub.Notes, sub.ReviewStatus,
		null.NewString(sub.ReviewedBy, sub.ReviewedBy != ""), null.NewTime(sub.ReviewedAt.UTC(), !sub.ReviewedAt.IsZero()),
		sub.Grade, sub.SubmittedAt.UTC(), resources,
	)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return assignment.Submission{}, assignment.ErrVersionConflict
		}
		return assignment.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return sub, nil
}

func (repo *assignmentRepository) GetSubmission(ctx context.Context, id string) (assignment.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	var s dbSubmission
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	if err := repo.db.GetContext(ctx, &s, query, id); err != nil {
		return assignment.Submission{}, trapNoRows(err, assignment.ErrSubmissionNotFound, "finding submission")
	}
	return s.unpack()
}

func (repo *assignmentRepository) CurrentSubmission(ctx context.Context, assignmentID string) (assignment.Submission, error) {
	var s dbSubmission
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE task_assignment_id = $1 ORDER BY version DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &s, query, assignmentID); err != nil {
		return assignment.Submission{}, trapNoRows(err, assignment.ErrSubmissionNotFound, "finding current submission")
	}
	return s.unpack()
}

func (repo *assignmentRepository) QuerySubmissions(ctx context.Context, filter assignment.SubmissionFilter, ordering ...core.DBOrdering) ([]assignment.Submission, error) {
	where := []string{"TRUE"}
	var args []interface{}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AssignmentID != "" {
		where = append(where, fmt.Sprintf("task_assignment_id = %s", arg(filter.AssignmentID)))
	}
	if len(filter.AssignmentIDs) > 0 {
		where = append(where, fmt.Sprintf("task_assignment_id = ANY(%s)", arg(pq.Array(filter.AssignmentIDs))))
	}
	if filter.BuddyID != "" {
		where = append(where, fmt.Sprintf("buddy_id = %s", arg(filter.BuddyID)))
	}
	if len(filter.ReviewStatuses) > 0 {
		where = append(where, fmt.Sprintf("review_status = ANY(%s)", arg(pq.StringArray(filter.ReviewStatuses))))
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE ` + strings.Join(where, " AND ") + orderBy("submitted_at ASC", ordering)
	var rows []dbSubmission
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]assignment.Submission, 0, len(rows))
	for _, s := range rows {
		sub, err := s.unpack()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (repo *assignmentRepository) MarkSubmissionUnderReview(ctx context.Context, id string) (assignment.Submission, error) {
	query := `
UPDATE submissions SET review_status = 'under_review'
WHERE id = $1 AND review_status IN (` + reviewableStatuses + `)
RETURNING ` + submissionColumns
	var s dbSubmission
	if err := repo.db.GetContext(ctx, &s, query, id); err != nil {
		return assignment.Submission{}, repo.trapReviewed(ctx, id, err, "marking submission under review")
	}
	return s.unpack()
}

// SetSubmissionReview records a verdict iff the submission has none yet; the
// WHERE guard makes concurrent reviews race safely, the loser sees
// ErrAlreadyReviewed.
func (repo *assignmentRepository) SetSubmissionReview(ctx context.Context, id string, upd assignment.ReviewUpdate) (assignment.Submission, error) {
	query := `
UPDATE submissions SET review_status = $2, reviewed_by = $3, reviewed_at = $4, grade = $5
WHERE id = $1 AND review_status IN (` + reviewableStatuses + `)
RETURNING ` + submissionColumns
	var s dbSubmission
	err := repo.db.GetContext(ctx, &s, query,
		id, upd.Status, null.NewString(upd.ReviewedBy, upd.ReviewedBy != ""),
		null.NewTime(upd.ReviewedAt.UTC(), !upd.ReviewedAt.IsZero()), upd.Grade)
	if err != nil {
		return assignment.Submission{}, repo.trapReviewed(ctx, id, err, "recording submission review")
	}
	return s.unpack()
}

// trapReviewed disambiguates a no-rows review update: the submission is
// either gone or already carries a verdict.
func (repo *assignmentRepository) trapReviewed(ctx context.Context, id string, err error, msg string) error {
	if errors.Cause(err) != sql.ErrNoRows {
		return errors.Wrap(err, msg)
	}
	if _, getErr := repo.GetSubmission(ctx, id); getErr != nil {
		return getErr
	}
	return assignment.ErrAlreadyReviewed
}

func (repo *assignmentRepository) CreateFeedback(ctx context.Context, fb assignment.Feedback) (assignment.Feedback, error) {
	fb.ID = uuid.New().String()
	query := `
INSERT INTO feedback (` + feedbackColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, query,
		fb.ID, fb.SubmissionID, null.NewString(fb.AuthorID, fb.AuthorID != ""), fb.AuthorRole,
		fb.Message, fb.FeedbackType, null.NewString(fb.ParentFeedbackID, fb.ParentFeedbackID != ""),
		fb.CreatedAt.UTC(), fb.UpdatedAt.UTC(),
	)
	if err != nil {
		return assignment.Feedback{}, errors.Wrap(err, "inserting feedback")
	}
	return fb, nil
}

func (repo *assignmentRepository) GetFeedback(ctx context.Context, id string) (assignment.Feedback, error) {
	if _, err := uuid.Parse(id); err != nil {
		return assignment.Feedback{}, assignment.ErrFeedbackNotFound
	}
	var f dbFeedback
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE id = $1`
	if err := repo.db.GetContext(ctx, &f, query, id); err != nil {
		return assignment.Feedback{}, trapNoRows(err, assignment.ErrFeedbackNotFound, "finding feedback")
	}
	return f.unpack(), nil
}

func (repo *assignmentRepository) QueryFeedback(ctx context.Context, submissionID string) ([]assignment.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE submission_id = $1 ORDER BY created_at`
	var rows []dbFeedback
	if err := repo.db.SelectContext(ctx, &rows, query, submissionID); err != nil {
		return nil, errors.Wrap(err, "querying feedback")
	}
	fbs := make([]assignment.Feedback, 0, len(rows))
	for _, f := range rows {
		fbs = append(fbs, f.unpack())
	}
	return fbs, nil
}

func (repo *assignmentRepository) UpdateFeedbackMessage(ctx context.Context, id, message string, at time.Time) (assignment.Feedback, error) {
	query := `UPDATE feedback SET message = $2, updated_at = $3 WHERE id = $1 RETURNING ` + feedbackColumns
	var f dbFeedback
	if err := repo.db.GetContext(ctx, &f, query, id, message, at.UTC()); err != nil {
		return assignment.Feedback{}, trapNoRows(err, assignment.ErrFeedbackNotFound, "updating feedback")
	}
	return f.unpack(), nil
}

func (repo *assignmentRepository) DeleteFeedback(ctx context.Context, id string) error {
	// replies keep their parent reference even once the parent is gone
	_, err := repo.db.ExecContext(ctx, `DELETE FROM feedback WHERE id = $1`, id)
	return errors.Wrap(err, "deleting feedback")
}
