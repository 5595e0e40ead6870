package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/enroll"
)

type dbEnrollment struct {
	ID                string      `db:"id"`
	BuddyID           string      `db:"buddy_id"`
	CurriculumID      string      `db:"curriculum_id"`
	CurriculumVersion int         `db:"curriculum_version"`
	Status            string      `db:"status"`
	EnrolledBy        null.String `db:"enrolled_by"`
	StartDate         time.Time   `db:"start_date"`
	CompletedAt       null.Time   `db:"completed_at"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
}

func (e dbEnrollment) unpack() enroll.BuddyCurriculum {
	return enroll.BuddyCurriculum{
		ID:                e.ID,
		BuddyID:           e.BuddyID,
		CurriculumID:      e.CurriculumID,
		CurriculumVersion: e.CurriculumVersion,
		Status:            e.Status,
		EnrolledBy:        e.EnrolledBy.String,
		StartDate:         e.StartDate,
		CompletedAt:       e.CompletedAt.Time,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

type dbWeekProgress struct {
	ID                 string    `db:"id"`
	BuddyCurriculumID  string    `db:"buddy_curriculum_id"`
	BuddyID            string    `db:"buddy_id"`
	WeekID             string    `db:"week_id"`
	WeekNumber         int       `db:"week_number"`
	Status             string    `db:"status"`
	CompletedTasks     int       `db:"completed_tasks"`
	TotalTasks         int       `db:"total_tasks"`
	ProgressPercentage int       `db:"progress_percentage"`
	CompletedAt        null.Time `db:"completed_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (wp dbWeekProgress) unpack() enroll.BuddyWeekProgress {
	return enroll.BuddyWeekProgress{
		ID:                 wp.ID,
		BuddyCurriculumID:  wp.BuddyCurriculumID,
		BuddyID:            wp.BuddyID,
		WeekID:             wp.WeekID,
		WeekNumber:         wp.WeekNumber,
		Status:             wp.Status,
		CompletedTasks:     wp.CompletedTasks,
		TotalTasks:         wp.TotalTasks,
		ProgressPercentage: wp.ProgressPercentage,
		CompletedAt:        wp.CompletedAt.Time,
		UpdatedAt:          wp.UpdatedAt,
	}
}

const (
	enrollmentColumns   = `id, buddy_id, curriculum_id, curriculum_version, status, enrolled_by, start_date, completed_at, created_at, updated_at`
	weekProgressColumns = `id, buddy_curriculum_id, buddy_id, week_id, week_number, status, completed_tasks, total_tasks, progress_percentage, completed_at, updated_at`
)

type enrollRepository struct {
	db *sqlx.DB
}

var _ enroll.Repository = (*enrollRepository)(nil)

func NewEnrollRepository(db *sqlx.DB) *enrollRepository {
	return &enrollRepository{db: db}
}

func (repo *enrollRepository) CreateEnrollment(ctx context.Context, bc enroll.BuddyCurriculum, weeks []enroll.WeekFanOut) (enroll.BuddyCurriculum, error) {
	bc.ID = uuid.New().String()

	err := inTx(repo.db, func(tx *sqlx.Tx) error {
		query := `
INSERT INTO buddy_curricula (` + enrollmentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		_, err := tx.ExecContext(ctx, query,
			bc.ID, bc.BuddyID, bc.CurriculumID, bc.CurriculumVersion, bc.Status,
			null.NewString(bc.EnrolledBy, bc.EnrolledBy != ""), bc.StartDate.UTC(),
			null.NewTime(bc.CompletedAt.UTC(), !bc.CompletedAt.IsZero()), bc.CreatedAt.UTC(), bc.UpdatedAt.UTC(),
		)
		if err != nil {
			return errors.Wrap(err, "inserting enrollment")
		}

		for _, week := range weeks {
			wp := week.Progress
			wp.ID = uuid.New().String()
			wp.BuddyCurriculumID = bc.ID
			query := `
INSERT INTO buddy_week_progress (` + weekProgressColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
			_, err := tx.ExecContext(ctx, query,
				wp.ID, wp.BuddyCurriculumID, wp.BuddyID, wp.WeekID, wp.WeekNumber, wp.Status,
				wp.CompletedTasks, wp.TotalTasks, wp.ProgressPercentage,
				null.NewTime(wp.CompletedAt.UTC(), !wp.CompletedAt.IsZero()), wp.UpdatedAt.UTC(),
			)
			if err != nil {
				return errors.Wrap(err, "inserting week progress")
			}

			for _, a := range week.Assignments {
				query := `
INSERT INTO task_assignments (` + assignmentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
				_, err := tx.ExecContext(ctx, query,
					uuid.New().String(), a.BuddyID, a.TaskTemplateID, wp.ID, a.Status, a.AssignedAt.UTC(),
					null.NewTime(a.DueDate.UTC(), !a.DueDate.IsZero()),
					null.NewTime(a.StartedAt.UTC(), !a.StartedAt.IsZero()),
					null.NewTime(a.FirstSubmissionAt.UTC(), !a.FirstSubmissionAt.IsZero()),
					null.NewTime(a.CompletedAt.UTC(), !a.CompletedAt.IsZero()),
					a.SubmissionCount, a.UpdatedAt.UTC(),
				)
				if err != nil {
					return errors.Wrap(err, "inserting assignment")
				}
			}
		}
		return nil
	})
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			// one active enrollment per buddy, enforced by a partial unique index
			return enroll.BuddyCurriculum{}, enroll.ErrAlreadyEnrolled
		}
		return enroll.BuddyCurriculum{}, err
	}
	return bc, nil
}

func (repo *enrollRepository) GetEnrollment(ctx context.Context, id string) (enroll.BuddyCurriculum, error) {
	if _, err := uuid.Parse(id); err != nil {
		return enroll.BuddyCurriculum{}, enroll.ErrNotFound
	}
	var e dbEnrollment
	query := `SELECT ` + enrollmentColumns + ` FROM buddy_curricula WHERE id = $1`
	if err := repo.db.GetContext(ctx, &e, query, id); err != nil {
		return enroll.BuddyCurriculum{}, trapNoRows(err, enroll.ErrNotFound, "finding enrollment")
	}
	return e.unpack(), nil
}

func (repo *enrollRepository) ActiveEnrollment(ctx context.Context, buddyID string) (enroll.BuddyCurriculum, error) {
	var e dbEnrollment
	query := `SELECT ` + enrollmentColumns + ` FROM buddy_curricula WHERE buddy_id = $1 AND status = $2`
	if err := repo.db.GetContext(ctx, &e, query, buddyID, enroll.StatusActive); err != nil {
		return enroll.BuddyCurriculum{}, trapNoRows(err, enroll.ErrNotFound, "finding active enrollment")
	}
	return e.unpack(), nil
}

func (repo *enrollRepository) QueryEnrollments(ctx context.Context, filter enroll.QueryFilter, ordering ...core.DBOrdering) ([]enroll.BuddyCurriculum, error) {
	where := []string{"TRUE"}
	var args []interface{}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.BuddyID != "" {
		where = append(where, fmt.Sprintf("buddy_id = %s", arg(filter.BuddyID)))
	}
	if filter.CurriculumID != "" {
		where = append(where, fmt.Sprintf("curriculum_id = %s", arg(filter.CurriculumID)))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY(%s)", arg(pq.StringArray(filter.Statuses))))
	}

	query := `SELECT ` + enrollmentColumns + ` FROM buddy_curricula WHERE ` + strings.Join(where, " AND ") + orderBy("created_at ASC", ordering)
	var rows []dbEnrollment
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]enroll.BuddyCurriculum, 0, len(rows))
	for _, e := range rows {
		enrollments = append(enrollments, e.unpack())
	}
	return enrollments, nil
}

func (repo *enrollRepository) UpdateEnrollment(ctx context.Context, bc enroll.BuddyCurriculum) (enroll.BuddyCurriculum, error) {
	query := `
UPDATE buddy_curricula
SET status = $2, completed_at = $3, updated_at = $4
WHERE id = $1
RETURNING ` + enrollmentColumns
	var e dbEnrollment
	err := repo.db.GetContext(ctx, &e, query,
		bc.ID, bc.Status, null.NewTime(bc.CompletedAt.UTC(), !bc.CompletedAt.IsZero()), bc.UpdatedAt.UTC())
	if err != nil {
		return enroll.BuddyCurriculum{}, trapNoRows(err, enroll.ErrNotFound, "updating enrollment")
	}
	return e.unpack(), nil
}

func (repo *enrollRepository) GetWeekProgress(ctx context.Context, id string) (enroll.BuddyWeekProgress, error) {
	if _, err := uuid.Parse(id); err != nil {
		return enroll.BuddyWeekProgress{}, enroll.ErrWeekNotFound
	}
	var wp dbWeekProgress
	query := `SELECT ` + weekProgressColumns + ` FROM buddy_week_progress WHERE id = $1`
	if err := repo.db.GetContext(ctx, &wp, query, id); err != nil {
		return enroll.BuddyWeekProgress{}, trapNoRows(err, enroll.ErrWeekNotFound, "finding week progress")
	}
	return wp.unpack(), nil
}

func (repo *enrollRepository) QueryWeekProgress(ctx context.Context, enrollmentID string) ([]enroll.BuddyWeekProgress, error) {
	query := `SELECT ` + weekProgressColumns + ` FROM buddy_week_progress WHERE buddy_curriculum_id = $1 ORDER BY week_number`
	var rows []dbWeekProgress
	if err := repo.db.SelectContext(ctx, &rows, query, enrollmentID); err != nil {
		return nil, errors.Wrap(err, "querying week progress")
	}
	weeks := make([]enroll.BuddyWeekProgress, 0, len(rows))
	for _, wp := range rows {
		weeks = append(weeks, wp.unpack())
	}
	return weeks, nil
}

func (repo *enrollRepository) UpdateWeekProgress(ctx context.Context, wp enroll.BuddyWeekProgress) (enroll.BuddyWeekProgress, error) {
	query := `
UPDATE buddy_week_progress
SET status = $2, completed_tasks = $3, total_tasks = $4, progress_percentage = $5, completed_at = $6, updated_at = $7
WHERE id = $1
RETURNING ` + weekProgressColumns
	var row dbWeekProgress
	err := repo.db.GetContext(ctx, &row, query,
		wp.ID, wp.Status, wp.CompletedTasks, wp.TotalTasks, wp.ProgressPercentage,
		null.NewTime(wp.CompletedAt.UTC(), !wp.CompletedAt.IsZero()), wp.UpdatedAt.UTC())
	if err != nil {
		return enroll.BuddyWeekProgress{}, trapNoRows(err, enroll.ErrWeekNotFound, "updating week progress")
	}
	return row.unpack(), nil
}
