package curriculum

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/user"
)

var (
	// errors
	ErrNotFound         = core.NewError(core.KindNotFound, "curriculum not found")
	ErrWeekNotFound     = core.NewError(core.KindNotFound, "curriculum week not found")
	ErrTemplateNotFound = core.NewError(core.KindNotFound, "task template not found")
	ErrNotDraft         = core.NewError(core.KindInvalidTransition, "curriculum content can only be modified while in draft")
	ErrNotPublished     = core.NewError(core.KindInvalidTransition, "curriculum is not published")
	ErrArchived         = core.NewError(core.KindInvalidTransition, "an archived curriculum is immutable")
	ErrTemplateInUse    = core.NewError(core.KindInvalidTransition, "task template has assignments attached; archive it instead of deleting")
	ErrWeekNumberTaken  = core.NewError(core.KindValidationFailed, "a week with this number already exists in the curriculum")
)

type (
	Repository interface {
		CreateCurriculum(ctx context.Context, cur Curriculum) (Curriculum, error)
		GetCurriculum(ctx context.Context, id string) (Curriculum, error)
		QueryCurricula(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Curriculum, error)
		UpdateCurriculum(ctx context.Context, cur Curriculum) (Curriculum, error)
		DeleteCurriculum(ctx context.Context, id string) error

		CreateWeek(ctx context.Context, wk Week) (Week, error)
		GetWeek(ctx context.Context, id string) (Week, error)
		// QueryWeeks returns a curriculum's weeks ordered by display order, then week number.
		QueryWeeks(ctx context.Context, curriculumID string) ([]Week, error)
		UpdateWeek(ctx context.Context, wk Week) (Week, error)
		// DeleteWeek deletes a week and cascades to its task templates.
		DeleteWeek(ctx context.Context, id string) error

		CreateTemplate(ctx context.Context, tpl TaskTemplate) (TaskTemplate, error)
		GetTemplate(ctx context.Context, id string) (TaskTemplate, error)
		QueryTemplates(ctx context.Context, weekID string) ([]TaskTemplate, error)
		UpdateTemplate(ctx context.Context, tpl TaskTemplate) (TaskTemplate, error)
		DeleteTemplate(ctx context.Context, id string) error
	}

	// AssignmentChecker counts assignments referencing task templates that
	// have moved past not_started, completed ones included; implemented by
	// the assignment repository, wired in at startup.
	AssignmentChecker interface {
		ActiveAssignmentCount(ctx context.Context, templateIDs []string) (int, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, actor user.Actor, nc NewCurriculum) (Curriculum, error)
		GetByID(ctx context.Context, id string) (Curriculum, error)
		Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Curriculum, error)
		Update(ctx context.Context, actor user.Actor, id string, uc UpdateCurriculum) (Curriculum, error)
		Delete(ctx context.Context, actor user.Actor, id string) error
		Publish(ctx context.Context, actor user.Actor, id string) (Curriculum, error)
		Unpublish(ctx context.Context, actor user.Actor, id string) (Curriculum, error)
		Archive(ctx context.Context, actor user.Actor, id string) (Curriculum, error)
		Duplicate(ctx context.Context, actor user.Actor, id string) (Curriculum, error)

		AddWeek(ctx context.Context, actor user.Actor, curriculumID string, nw NewWeek) (Week, error)
		GetWeek(ctx context.Context, id string) (Week, error)
		QueryWeeks(ctx context.Context, curriculumID string) ([]Week, error)
		UpdateWeek(ctx context.Context, actor user.Actor, id string, nw NewWeek) (Week, error)
		DeleteWeek(ctx context.Context, actor user.Actor, id string) error

		AddTemplate(ctx context.Context, actor user.Actor, weekID string, nt NewTaskTemplate) (TaskTemplate, error)
		GetTemplate(ctx context.Context, id string) (TaskTemplate, error)
		QueryTemplates(ctx context.Context, weekID string) ([]TaskTemplate, error)
		UpdateTemplate(ctx context.Context, actor user.Actor, id string, nt NewTaskTemplate) (TaskTemplate, error)
		DeleteTemplate(ctx context.Context, actor user.Actor, id string) error
		ArchiveTemplate(ctx context.Context, actor user.Actor, id string) (TaskTemplate, error)
	}

	service struct {
		repo        Repository
		assignments AssignmentChecker
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, assignments AssignmentChecker) *service {
	return &service{repo: repo, assignments: assignments}
}

func (svc *service) authorize(actor user.Actor) error {
	if d := user.Authorize(actor, user.PermManageCurriculum, user.Owners{}); !d.Allowed {
		return core.NewPermissionError(string(d.Permission))
	}
	return nil
}

// getDraft fetches a curriculum and ensures its content may be modified.
func (svc *service) getDraft(ctx context.Context, id string) (Curriculum, error) {
	cur, err := svc.repo.GetCurriculum(ctx, id)
	if err != nil {
		return Curriculum{}, err
	}
	if !cur.IsDraft() {
		return Curriculum{}, ErrNotDraft
	}
	return cur, nil
}

func (svc *service) Create(ctx context.Context, actor user.Actor, nc NewCurriculum) (Curriculum, error) {
	if err := svc.authorize(actor); err != nil {
		return Curriculum{}, err
	}
	now := time.Now().UTC()
	return svc.repo.CreateCurriculum(ctx, Curriculum{
		Title:      nc.Title,
		DomainRole: nc.DomainRole,
		TotalWeeks: nc.TotalWeeks,
		Status:     StatusDraft,
		Version:    1,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (svc *service) GetByID(ctx context.Context, id string) (Curriculum, error) {
	return svc.repo.GetCurriculum(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Curriculum, error) {
	if filter != nil {
		filter.Clean()
		return svc.repo.QueryCurricula(ctx, *filter, ordering...)
	}
	return svc.repo.QueryCurricula(ctx, QueryFilter{}, ordering...)
}

func (svc *service) Update(ctx context.Context, actor user.Actor, id string, uc UpdateCurriculum) (Curriculum, error) {
	if err := svc.authorize(actor); err != nil {
		return Curriculum{}, err
	}
	cur, err := svc.getDraft(ctx, id)
	if err != nil {
		return Curriculum{}, err
	}
	if uc.Title != "" {
		cur.Title = uc.Title
	}
	if uc.DomainRole != "" {
		cur.DomainRole = uc.DomainRole
	}
	if uc.TotalWeeks > 0 {
		cur.TotalWeeks = uc.TotalWeeks
	}
	if uc.IsActive != nil {
		cur.IsActive = *uc.IsActive
	}
	cur.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCurriculum(ctx, cur)
}

func (svc *service) Delete(ctx context.Context, actor user.Actor, id string) error {
	if err := svc.authorize(actor); err != nil {
		return err
	}
	if _, err := svc.getDraft(ctx, id); err != nil {
		return err
	}
	return svc.repo.DeleteCurriculum(ctx, id)
}

// Publish transitions draft -> published; one-way except an explicit Unpublish.
func (svc *service) Publish(ctx context.Context, actor user.Actor, id string) (Curriculum, error) {
	if err := svc.authorize(actor); err != nil {
		return Curriculum{}, err
	}
	cur, err := svc.repo.GetCurriculum(ctx, id)
	if err != nil {
		return Curriculum{}, err
	}
	if !cur.IsDraft() {
		if cur.IsArchived() {
			return Curriculum{}, ErrArchived
		}
		return Curriculum{}, ErrNotDraft
	}
	cur.Status = StatusPublished
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCurriculum(ctx, cur)
}

func (svc *service) Unpublish(ctx context.Context, actor user.Actor, id string) (Curriculum, error) {
	if err := svc.authorize(actor); err != nil {
		return Curriculum{}, err
	}
	cur, err := svc.repo.GetCurriculum(ctx, id)
	if err != nil {
		return Curriculum{}, err
	}
	if !cur.IsPublished() {
		if cur.IsArchived() {
			return Curriculum{}, ErrArchived
		}
		return Curriculum{}, ErrNotPublished
	}
	cur.Status = StatusDraft
	cur.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCurriculum(ctx, cur)
}

// Archive transitions published -> archived; archived is terminal.
func (svc *service) Archive(ctx context.Context, actor user.Actor, id string) (Curriculum, error) {
	if err := svc.authorize(actor); err != nil {
		return Curriculum{}, err
	}
	cur, err := svc.repo.GetCurriculum(ctx, id)
	if err != nil {
		return Curriculum{}, err
	}
	if !cur.IsPublished() {
		return Curriculum{}, ErrNotPublished
	}
	cur.Status = StatusArchived
	cur.IsActive = false
	cur.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCurriculum(ctx, cur)
}

// Duplicate deep-copies a curriculum: new ids throughout, weeks and templates
// renumbered identically, status reset to draft.
func (svc *service) Duplicate(ctx context.Context, actor user.Actor, id string) (Curriculum, error) {
	if err := svc.authorize(actor); err != nil {
		return Curriculum{}, err
	}
	orig, err := svc.repo.GetCurriculum(ctx, id)
	if err != nil {
		return Curriculum{}, err
	}

	now := time.Now().UTC()
	dup, err := svc.repo.CreateCurriculum(ctx, Curriculum{
		Title:      orig.Title + " (copy)",
		DomainRole: orig.DomainRole,
		TotalWeeks: orig.TotalWeeks,
		Status:     StatusDraft,
		Version:    1,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Curriculum{}, err
	}

	weeks, err := svc.repo.QueryWeeks(ctx, orig.ID)
	if err != nil {
		return Curriculum{}, errors.Wrap(err, "querying weeks for duplication")
	}
	for _, wk := range weeks {
		dupWk, err := svc.repo.CreateWeek(ctx, Week{
			CurriculumID:       dup.ID,
			WeekNumber:         wk.WeekNumber,
			Title:              wk.Title,
			LearningObjectives: append([]string(nil), wk.LearningObjectives...),
			DisplayOrder:       wk.DisplayOrder,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
		if err != nil {
			return Curriculum{}, errors.Wrap(err, "duplicating week")
		}
		tpls, err := svc.repo.QueryTemplates(ctx, wk.ID)
		if err != nil {
			return Curriculum{}, errors.Wrap(err, "querying templates for duplication")
		}
		for _, tpl := range tpls {
			if _, err = svc.repo.CreateTemplate(ctx, TaskTemplate{
				WeekID:                dupWk.ID,
				Title:                 tpl.Title,
				Description:           tpl.Description,
				Difficulty:            tpl.Difficulty,
				EstimatedHours:        tpl.EstimatedHours,
				ExpectedResourceTypes: append([]ResourceType(nil), tpl.ExpectedResourceTypes...),
				DisplayOrder:          tpl.DisplayOrder,
				IsArchived:            tpl.IsArchived,
				CreatedAt:             now,
				UpdatedAt:             now,
			}); err != nil {
				return Curriculum{}, errors.Wrap(err, "duplicating template")
			}
		}
	}
	return dup, nil
}

func (svc *service) AddWeek(ctx context.Context, actor user.Actor, curriculumID string, nw NewWeek) (Week, error) {
	if err := svc.authorize(actor); err != nil {
		return Week{}, err
	}
	cur, err := svc.getDraft(ctx, curriculumID)
	if err != nil {
		return Week{}, err
	}
	if err = svc.checkWeekNumber(ctx, cur.ID, nw.WeekNumber, ""); err != nil {
		return Week{}, err
	}

	now := time.Now().UTC()
	return svc.repo.CreateWeek(ctx, Week{
		CurriculumID:       cur.ID,
		WeekNumber:         nw.WeekNumber,
		Title:              nw.Title,
		LearningObjectives: nw.LearningObjectives,
		DisplayOrder:       nw.DisplayOrder,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

func (svc *service) GetWeek(ctx context.Context, id string) (Week, error) {
	return svc.repo.GetWeek(ctx, id)
}

func (svc *service) QueryWeeks(ctx context.Context, curriculumID string) ([]Week, error) {
	return svc.repo.QueryWeeks(ctx, curriculumID)
}

func (svc *service) UpdateWeek(ctx context.Context, actor user.Actor, id string, nw NewWeek) (Week, error) {
	if err := svc.authorize(actor); err != nil {
		return Week{}, err
	}
	wk, err := svc.repo.GetWeek(ctx, id)
	if err != nil {
		return Week{}, err
	}
	if _, err = svc.getDraft(ctx, wk.CurriculumID); err != nil {
		return Week{}, err
	}
	if err = svc.checkWeekNumber(ctx, wk.CurriculumID, nw.WeekNumber, wk.ID); err != nil {
		return Week{}, err
	}

	wk.WeekNumber = nw.WeekNumber
	wk.Title = nw.Title
	wk.LearningObjectives = nw.LearningObjectives
	wk.DisplayOrder = nw.DisplayOrder
	wk.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateWeek(ctx, wk)
}

// DeleteWeek deletes a draft week, cascading to its task templates. It fails
// with ErrTemplateInUse if any assignment references one of those templates
// with a status other than not_started, completed included; in that case the
// template must be archived, not deleted, to avoid orphaning buddy work.
func (svc *service) DeleteWeek(ctx context.Context, actor user.Actor, id string) error {
	if err := svc.authorize(actor); err != nil {
		return err
	}
	wk, err := svc.repo.GetWeek(ctx, id)
	if err != nil {
		return err
	}
	if _, err = svc.getDraft(ctx, wk.CurriculumID); err != nil {
		return err
	}

	tpls, err := svc.repo.QueryTemplates(ctx, wk.ID)
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	if len(tpls) > 0 {
		ids := make([]string, 0, len(tpls))
		for _, tpl := range tpls {
			ids = append(ids, tpl.ID)
		}
		count, err := svc.assignments.ActiveAssignmentCount(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "checking attached assignments")
		}
		if count > 0 {
			return ErrTemplateInUse
		}
	}
	return svc.repo.DeleteWeek(ctx, id)
}

func (svc *service) AddTemplate(ctx context.Context, actor user.Actor, weekID string, nt NewTaskTemplate) (TaskTemplate, error) {
	if err := svc.authorize(actor); err != nil {
		return TaskTemplate{}, err
	}
	wk, err := svc.repo.GetWeek(ctx, weekID)
	if err != nil {
		return TaskTemplate{}, err
	}
	if _, err = svc.getDraft(ctx, wk.CurriculumID); err != nil {
		return TaskTemplate{}, err
	}

	now := time.Now().UTC()
	return svc.repo.CreateTemplate(ctx, TaskTemplate{
		WeekID:                wk.ID,
		Title:                 nt.Title,
		Description:           nt.Description,
		Difficulty:            nt.Difficulty,
		EstimatedHours:        nt.EstimatedHours,
		ExpectedResourceTypes: nt.ExpectedResourceTypes,
		DisplayOrder:          nt.DisplayOrder,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
}

func (svc *service) GetTemplate(ctx context.Context, id string) (TaskTemplate, error) {
	return svc.repo.GetTemplate(ctx, id)
}

func (svc *service) QueryTemplates(ctx context.Context, weekID string) ([]TaskTemplate, error) {
	return svc.repo.QueryTemplates(ctx, weekID)
}

func (svc *service) UpdateTemplate(ctx context.Context, actor user.Actor, id string, nt NewTaskTemplate) (TaskTemplate, error) {
	if err := svc.authorize(actor); err != nil {
		return TaskTemplate{}, err
	}
	tpl, wk, err := svc.getTemplateWeek(ctx, id)
	if err != nil {
		return TaskTemplate{}, err
	}
	if _, err = svc.getDraft(ctx, wk.CurriculumID); err != nil {
		return TaskTemplate{}, err
	}

	tpl.Title = nt.Title
	tpl.Description = nt.Description
	tpl.Difficulty = nt.Difficulty
	tpl.EstimatedHours = nt.EstimatedHours
	tpl.ExpectedResourceTypes = nt.ExpectedResourceTypes
	tpl.DisplayOrder = nt.DisplayOrder
	tpl.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateTemplate(ctx, tpl)
}

func (svc *service) DeleteTemplate(ctx context.Context, actor user.Actor, id string) error {
	if err := svc.authorize(actor); err != nil {
		return err
	}
	tpl, wk, err := svc.getTemplateWeek(ctx, id)
	if err != nil {
		return err
	}
	if _, err = svc.getDraft(ctx, wk.CurriculumID); err != nil {
		return err
	}

	count, err := svc.assignments.ActiveAssignmentCount(ctx, []string{tpl.ID})
	if err != nil {
		return errors.Wrap(err, "checking attached assignments")
	}
	if count > 0 {
		return ErrTemplateInUse
	}
	return svc.repo.DeleteTemplate(ctx, id)
}

// ArchiveTemplate retires a template without orphaning buddy work; allowed
// regardless of curriculum status.
func (svc *service) ArchiveTemplate(ctx context.Context, actor user.Actor, id string) (TaskTemplate, error) {
	if err := svc.authorize(actor); err != nil {
		return TaskTemplate{}, err
	}
	tpl, err := svc.repo.GetTemplate(ctx, id)
	if err != nil {
		return TaskTemplate{}, err
	}
	tpl.IsArchived = true
	tpl.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateTemplate(ctx, tpl)
}

func (svc *service) getTemplateWeek(ctx context.Context, id string) (TaskTemplate, Week, error) {
	tpl, err := svc.repo.GetTemplate(ctx, id)
	if err != nil {
		return TaskTemplate{}, Week{}, err
	}
	wk, err := svc.repo.GetWeek(ctx, tpl.WeekID)
	if err != nil {
		return TaskTemplate{}, Week{}, err
	}
	return tpl, wk, nil
}

func (svc *service) checkWeekNumber(ctx context.Context, curriculumID string, weekNumber int, excludeWeekID string) error {
	weeks, err := svc.repo.QueryWeeks(ctx, curriculumID)
	if err != nil {
		return errors.Wrap(err, "querying weeks")
	}
	for _, wk := range weeks {
		if wk.WeekNumber == weekNumber && wk.ID != excludeWeekID {
			return ErrWeekNumberTaken
		}
	}
	return nil
}
