package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/curriculum"
)

type curriculumRepository struct {
	db *DB
}

func NewCurriculumRepository(db *DB) curriculum.Repository {
	return &curriculumRepository{db: db}
}

func (repo *curriculumRepository) CreateCurriculum(ctx context.Context, cur curriculum.Curriculum) (curriculum.Curriculum, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur.ID = newID()
	repo.db.curricula[cur.ID] = &cur
	return cur, nil
}

func (repo *curriculumRepository) GetCurriculum(ctx context.Context, id string) (curriculum.Curriculum, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if cur, ok := repo.db.curricula[id]; ok {
		return *cur, nil
	}
	return curriculum.Curriculum{}, curriculum.ErrNotFound
}

func (repo *curriculumRepository) QueryCurricula(ctx context.Context, filter curriculum.QueryFilter, ordering ...core.DBOrdering) ([]curriculum.Curriculum, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var curs []curriculum.Curriculum
	for _, cur := range repo.db.curricula {
		if filter.Search != "" && !strings.Contains(strings.ToLower(cur.Title), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.DomainRole != "" && cur.DomainRole != filter.DomainRole {
			continue
		}
		if filter.Status != "" && cur.Status != filter.Status {
			continue
		}
		if filter.IsActive != nil && cur.IsActive != *filter.IsActive {
			continue
		}
		curs = append(curs, *cur)
	}
	sort.Slice(curs, func(i, j int) bool { return curs[i].CreatedAt.Before(curs[j].CreatedAt) })
	return curs, nil
}

func (repo *curriculumRepository) UpdateCurriculum(ctx context.Context, cur curriculum.Curriculum) (curriculum.Curriculum, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.curricula[cur.ID]; !ok {
		return curriculum.Curriculum{}, curriculum.ErrNotFound
	}
	repo.db.curricula[cur.ID] = &cur
	return cur, nil
}

func (repo *curriculumRepository) DeleteCurriculum(ctx context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for wkID, wk := range repo.db.weeks {
		if wk.CurriculumID != id {
			continue
		}
		for tplID, tpl := range repo.db.templates {
			if tpl.WeekID == wkID {
				delete(repo.db.templates, tplID)
			}
		}
		delete(repo.db.weeks, wkID)
	}
	delete(repo.db.curricula, id)
	return nil
}

func (repo *curriculumRepository) CreateWeek(ctx context.Context, wk curriculum.Week) (curriculum.Week, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	wk.ID = newID()
	repo.db.weeks[wk.ID] = &wk
	return wk, nil
}

func (repo *curriculumRepository) GetWeek(ctx context.Context, id string) (curriculum.Week, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if wk, ok := repo.db.weeks[id]; ok {
		return *wk, nil
	}
	return curriculum.Week{}, curriculum.ErrWeekNotFound
}

func (repo *curriculumRepository) QueryWeeks(ctx context.Context, curriculumID string) ([]curriculum.Week, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var weeks []curriculum.Week
	for _, wk := range repo.db.weeks {
		if wk.CurriculumID == curriculumID {
			weeks = append(weeks, *wk)
		}
	}
	sort.Slice(weeks, func(i, j int) bool {
		if weeks[i].DisplayOrder != weeks[j].DisplayOrder {
			return weeks[i].DisplayOrder < weeks[j].DisplayOrder
		}
		return weeks[i].WeekNumber < weeks[j].WeekNumber
	})
	return weeks, nil
}

func (repo *curriculumRepository) UpdateWeek(ctx context.Context, wk curriculum.Week) (curriculum.Week, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.weeks[wk.ID]; !ok {
		return curriculum.Week{}, curriculum.ErrWeekNotFound
	}
	repo.db.weeks[wk.ID] = &wk
	return wk, nil
}

func (repo *curriculumRepository) DeleteWeek(ctx context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for tplID, tpl := range repo.db.templates {
		if tpl.WeekID == id {
			delete(repo.db.templates, tplID)
		}
	}
	delete(repo.db.weeks, id)
	return nil
}

func (repo *curriculumRepository) CreateTemplate(ctx context.Context, tpl curriculum.TaskTemplate) (curriculum.TaskTemplate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	tpl.ID = newID()
	repo.db.templates[tpl.ID] = &tpl
	return tpl, nil
}

func (repo *curriculumRepository) GetTemplate(ctx context.Context, id string) (curriculum.TaskTemplate, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if tpl, ok := repo.db.templates[id]; ok {
		return *tpl, nil
	}
	return curriculum.TaskTemplate{}, curriculum.ErrTemplateNotFound
}

func (repo *curriculumRepository) QueryTemplates(ctx context.Context, weekID string) ([]curriculum.TaskTemplate, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var tpls []curriculum.TaskTemplate
	for _, tpl := range repo.db.templates {
		if tpl.WeekID == weekID {
			tpls = append(tpls, *tpl)
		}
	}
	sort.Slice(tpls, func(i, j int) bool {
		if tpls[i].DisplayOrder != tpls[j].DisplayOrder {
			return tpls[i].DisplayOrder < tpls[j].DisplayOrder
		}
		return tpls[i].CreatedAt.Before(tpls[j].CreatedAt)
	})
	return tpls, nil
}

func (repo *curriculumRepository) UpdateTemplate(ctx context.Context, tpl curriculum.TaskTemplate) (curriculum.TaskTemplate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.templates[tpl.ID]; !ok {
		return curriculum.TaskTemplate{}, curriculum.ErrTemplateNotFound
	}
	repo.db.templates[tpl.ID] = &tpl
	return tpl, nil
}

func (repo *curriculumRepository) DeleteTemplate(ctx context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	delete(repo.db.templates, id)
	return nil
}
