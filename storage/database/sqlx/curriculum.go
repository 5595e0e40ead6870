package sqlxrepos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/curriculum"
)

type dbCurriculum struct {
	ID         string    `db:"id"`
	Title      string    `db:"title"`
	DomainRole string    `db:"domain_role"`
	TotalWeeks int       `db:"total_weeks"`
	Status     string    `db:"status"`
	Version    int       `db:"version"`
	IsActive   bool      `db:"is_active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (c dbCurriculum) unpack() curriculum.Curriculum {
	return curriculum.Curriculum(c)
}

type dbWeek struct {
	ID                 string         `db:"id"`
	CurriculumID       string         `db:"curriculum_id"`
	WeekNumber         int            `db:"week_number"`
	Title              string         `db:"title"`
	LearningObjectives pq.StringArray `db:"learning_objectives"`
	DisplayOrder       int            `db:"display_order"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (w dbWeek) unpack() curriculum.Week {
	return curriculum.Week{
		ID:                 w.ID,
		CurriculumID:       w.CurriculumID,
		WeekNumber:         w.WeekNumber,
		Title:              w.Title,
		LearningObjectives: w.LearningObjectives,
		DisplayOrder:       w.DisplayOrder,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
	}
}

type dbTemplate struct {
	ID                    string    `db:"id"`
	WeekID                string    `db:"week_id"`
	Title                 string    `db:"title"`
	Description           string    `db:"description"`
	Difficulty            string    `db:"difficulty"`
	EstimatedHours        int       `db:"estimated_hours"`
	ExpectedResourceTypes []byte    `db:"expected_resource_types"`
	DisplayOrder          int       `db:"display_order"`
	IsArchived            bool      `db:"is_archived"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

func (t dbTemplate) unpack() (curriculum.TaskTemplate, error) {
	tpl := curriculum.TaskTemplate{
		ID:             t.ID,
		WeekID:         t.WeekID,
		Title:          t.Title,
		Description:    t.Description,
		Difficulty:     t.Difficulty,
		EstimatedHours: t.EstimatedHours,
		DisplayOrder:   t.DisplayOrder,
		IsArchived:     t.IsArchived,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if len(t.ExpectedResourceTypes) > 0 {
		if err := json.Unmarshal(t.ExpectedResourceTypes, &tpl.ExpectedResourceTypes); err != nil {
			return curriculum.TaskTemplate{}, errors.Wrap(err, "decoding expected resource types")
		}
	}
	return tpl, nil
}

const (
	curriculumColumns = `id, title, domain_role, total_weeks, status, version, is_active, created_at, updated_at`
	weekColumns       = `id, curriculum_id, week_number, title, learning_objectives, display_order, created_at, updated_at`
	templateColumns   = `id, week_id, title, description, difficulty, estimated_hours, expected_resource_types, display_order, is_archived, created_at, updated_at`
)

type curriculumRepository struct {
	db *sqlx.DB
}

var _ curriculum.Repository = (*curriculumRepository)(nil)

func NewCurriculumRepository(db *sqlx.DB) *curriculumRepository {
	return &curriculumRepository{db: db}
}

func (repo *curriculumRepository) CreateCurriculum(ctx context.Context, cur curriculum.Curriculum) (curriculum.Curriculum, error) {
	cur.ID = uuid.New().String()
	query := `
INSERT INTO curricula (` + curriculumColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, query,
		cur.ID, cur.Title, cur.DomainRole, cur.TotalWeeks, cur.Status, cur.Version, cur.IsActive,
		cur.CreatedAt.UTC(), cur.UpdatedAt.UTC(),
	)
	if err != nil {
		return curriculum.Curriculum{}, errors.Wrap(err, "inserting curriculum")
	}
	return cur, nil
}

func (repo *curriculumRepository) GetCurriculum(ctx context.Context, id string) (curriculum.Curriculum, error) {
	if _, err := uuid.Parse(id); err != nil {
		return curriculum.Curriculum{}, curriculum.ErrNotFound
	}
	var c dbCurriculum
	query := `SELECT ` + curriculumColumns + ` FROM curricula WHERE id = $1`
	if err := repo.db.GetContext(ctx, &c, query, id); err != nil {
		return curriculum.Curriculum{}, trapNoRows(err, curriculum.ErrNotFound, "finding curriculum")
	}
	return c.unpack(), nil
}

func (repo *curriculumRepository) QueryCurricula(ctx context.Context, filter curriculum.QueryFilter, ordering ...core.DBOrdering) ([]curriculum.Curriculum, error) {
	where := []string{"TRUE"}
	var args []interface{}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Search != "" {
		where = append(where, fmt.Sprintf("title ILIKE %s", arg("%"+filter.Search+"%")))
	}
	if filter.DomainRole != "" {
		where = append(where, fmt.Sprintf("domain_role = %s", arg(filter.DomainRole)))
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = %s", arg(filter.Status)))
	}
	if filter.IsActive != nil {
		where = append(where, fmt.Sprintf("is_active = %s", arg(*filter.IsActive)))
	}

	query := `SELECT ` + curriculumColumns + ` FROM curricula WHERE ` + strings.Join(where, " AND ") + orderBy("created_at ASC", ordering)
	var rows []dbCurriculum
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying curricula")
	}
	curs := make([]curriculum.Curriculum, 0, len(rows))
	for _, c := range rows {
		curs = append(curs, c.unpack())
	}
	return curs, nil
}

func (repo *curriculumRepository) UpdateCurriculum(ctx context.Context, cur curriculum.Curriculum) (curriculum.Curriculum, error) {
	query := `
UPDATE curricula
SET title = $2, domain_role = $3, total_weeks = $4, status = $5, version = $6, is_active = $7, updated_at = $8
WHERE id = $1
RETURNING ` + curriculumColumns
	var c dbCurriculum
	err := repo.db.GetContext(ctx, &c, query,
		cur.ID, cur.Title, cur.DomainRole, cur.TotalWeeks, cur.Status, cur.Version, cur.IsActive, cur.UpdatedAt.UTC())
	if err != nil {
		return curriculum.Curriculum{}, trapNoRows(err, curriculum.ErrNotFound, "updating curriculum")
	}
	return c.unpack(), nil
}

func (repo *curriculumRepository) DeleteCurriculum(ctx context.Context, id string) error {
	// weeks and templates go with it (ON DELETE CASCADE)
	_, err := repo.db.ExecContext(ctx, `DELETE FROM curricula WHERE id = $1`, id)
	return errors.Wrap(err, "deleting curriculum")
}

func (repo *curriculumRepository) CreateWeek(ctx context.Context, wk curriculum.Week) (curriculum.Week, error) {
	wk.ID = uuid.New().String()
	query := `
INSERT INTO curriculum_weeks (` + weekColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := repo.db.ExecContext(ctx, query,
		wk.ID, wk.CurriculumID, wk.WeekNumber, wk.Title, pq.StringArray(wk.LearningObjectives), wk.DisplayOrder,
		wk.CreatedAt.UTC(), wk.UpdatedAt.UTC(),
	)
	if err != nil {
		return curriculum.Week{}, errors.Wrap(err, "inserting week")
	}
	return wk, nil
}

func (repo *curriculumRepository) GetWeek(ctx context.Context, id string) (curriculum.Week, error) {
	if _, err := uuid.Parse(id); err != nil {
		return curriculum.Week{}, curriculum.ErrWeekNotFound
	}
	var w dbWeek
	query := `SELECT ` + weekColumns + ` FROM curriculum_weeks WHERE id = $1`
	if err := repo.db.GetContext(ctx, &w, query, id); err != nil {
		return curriculum.Week{}, trapNoRows(err, curriculum.ErrWeekNotFound, "finding week")
	}
	return w.unpack(), nil
}

func (repo *curriculumRepository) QueryWeeks(ctx context.Context, curriculumID string) ([]curriculum.Week, error) {
	query := `SELECT ` + weekColumns + ` FROM curriculum_weeks WHERE curriculum_id = $1 ORDER BY display_order, week_number`
	var rows []dbWeek
	if err := repo.db.SelectContext(ctx, &rows, query, curriculumID); err != nil {
		return nil, errors.Wrap(err, "querying weeks")
	}
	weeks := make([]curriculum.Week, 0, len(rows))
	for _, w := range rows {
		weeks = append(weeks, w.unpack())
	}
	return weeks, nil
}

func (repo *curriculumRepository) UpdateWeek(ctx context.Context, wk curriculum.Week) (curriculum.Week, error) {
	query := `
UPDATE curriculum_weeks
SET week_number = $2, title = $3, learning_objectives = $4, display_order = $5, updated_at = $6
WHERE id = $1
RETURNING ` + weekColumns
	var w dbWeek
	err := repo.db.GetContext(ctx, &w, query,
		wk.ID, wk.WeekNumber, wk.Title, pq.StringArray(wk.LearningObjectives), wk.DisplayOrder, wk.UpdatedAt.UTC())
	if err != nil {
		return curriculum.Week{}, trapNoRows(err, curriculum.ErrWeekNotFound, "updating week")
	}
	return w.unpack(), nil
}

func (repo *curriculumRepository) DeleteWeek(ctx context.Context, id string) error {
	// templates go with it (ON DELETE CASCADE)
	_, err := repo.db.ExecContext(ctx, `DELETE FROM curriculum_weeks WHERE id = $1`, id)
	return errors.Wrap(err, "deleting week")
}

func (repo *curriculumRepository) CreateTemplate(ctx context.Context, tpl curriculum.TaskTemplate) (curriculum.TaskTemplate, error) {
	tpl.ID = uuid.New().String()
	rts, err := json.Marshal(tpl.ExpectedResourceTypes)
	if err != nil {
		return curriculum.TaskTemplate{}, errors.Wrap(err, "encoding expected resource types")
	}
	query := `
INSERT INTO task_templates (` + templateColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = repo.db.ExecContext(ctx, query,
		tpl.ID, tpl.WeekID, tpl.Title, tpl.Description, tpl.Difficulty, tpl.EstimatedHours, rts,
		tpl.DisplayOrder, tpl.IsArchived, tpl.CreatedAt.UTC(), tpl.UpdatedAt.UTC(),
	)
	if err != nil {
		return curriculum.TaskTemplate{}, errors.Wrap(err, "inserting task template")
	}
	return tpl, nil
}

func (repo *curriculumRepository) GetTemplate(ctx context.Context, id string) (curriculum.TaskTemplate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return curriculum.TaskTemplate{}, curriculum.ErrTemplateNotFound
	}
	var t dbTemplate
	query := `SELECT ` + templateColumns + ` FROM task_templates WHERE id = $1`
	if err := repo.db.GetContext(ctx, &t, query, id); err != nil {
		return curriculum.TaskTemplate{}, trapNoRows(err, curriculum.ErrTemplateNotFound, "finding task template")
	}
	return t.unpack()
}

func (repo *curriculumRepository) QueryTemplates(ctx context.Context, weekID string) ([]curriculum.TaskTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM task_templates WHERE week_id = $1 ORDER BY display_order, created_at`
	var rows []dbTemplate
	if err := repo.db.SelectContext(ctx, &rows, query, weekID); err != nil {
		return nil, errors.Wrap(err, "querying task templates")
	}
	tpls := make([]curriculum.TaskTemplate, 0, len(rows))
	for _, t := range rows {
		tpl, err := t.unpack()
		if err != nil {
			return nil, err
		}
		tpls = append(tpls, tpl)
	}
	return tpls, nil
}

func (repo *curriculumRepository) UpdateTemplate(ctx context.Context, tpl curriculum.TaskTemplate) (curriculum.TaskTemplate, error) {
	rts, err := json.Marshal(tpl.ExpectedResourceTypes)
	if err != nil {
		return curriculum.TaskTemplate{}, errors.Wrap(err, "encoding expected resource types")
	}
	query := `
UPDATE task_templates
SET title = $2, description = $3, difficulty = $4, estimated_hours = $5, expected_resource_types = $6,
    display_order = $7, is_archived = $8, updated_at = $9
WHERE id = $1
RETURNING ` + templateColumns
	var t dbTemplate
	err = repo.db.GetContext(ctx, &t, query,
		tpl.ID, tpl.Title, tpl.Description, tpl.Difficulty, tpl.EstimatedHours, rts,
		tpl.DisplayOrder, tpl.IsArchived, tpl.UpdatedAt.UTC())
	if err != nil {
		return curriculum.TaskTemplate{}, trapNoRows(err, curriculum.ErrTemplateNotFound, "updating task template")
	}
	return t.unpack()
}

func (repo *curriculumRepository) DeleteTemplate(ctx context.Context, id string) error {
	_, err := repo.db.ExecContext(ctx, `DELETE FROM task_templates WHERE id = $1`, id)
	return errors.Wrap(err, "deleting task template")
}
