package inmemdb

import (
	"context"
	"sort"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/enroll"
)

type enrollRepository struct {
	db *DB
}

func NewEnrollRepository(db *DB) enroll.Repository {
	return &enrollRepository{db: db}
}

func (repo *enrollRepository) CreateEnrollment(ctx context.Context, bc enroll.BuddyCurriculum, weeks []enroll.WeekFanOut) (enroll.BuddyCurriculum, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	bc.ID = newID()
	repo.db.enrollments[bc.ID] = &bc
	for _, week := range weeks {
		wp := week.Progress
		wp.ID = newID()
		wp.BuddyCurriculumID = bc.ID
		repo.db.weekProgress[wp.ID] = &wp
		for _, a := range week.Assignments {
			a := a
			a.ID = newID()
			a.BuddyWeekProgressID = wp.ID
			repo.db.assignments[a.ID] = &a
		}
	}
	return bc, nil
}

func (repo *enrollRepository) GetEnrollment(ctx context.Context, id string) (enroll.BuddyCurriculum, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if bc, ok := repo.db.enrollments[id]; ok {
		return *bc, nil
	}
	return enroll.BuddyCurriculum{}, enroll.ErrNotFound
}

func (repo *enrollRepository) ActiveEnrollment(ctx context.Context, buddyID string) (enroll.BuddyCurriculum, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, bc := range repo.db.enrollments {
		if bc.BuddyID == buddyID && bc.IsActive() {
			return *bc, nil
		}
	}
	return enroll.BuddyCurriculum{}, enroll.ErrNotFound
}

func (repo *enrollRepository) QueryEnrollments(ctx context.Context, filter enroll.QueryFilter, ordering ...core.DBOrdering) ([]enroll.BuddyCurriculum, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var bcs []enroll.BuddyCurriculum
	for _, bc := range repo.db.enrollments {
		if filter.BuddyID != "" && bc.BuddyID != filter.BuddyID {
			continue
		}
		if filter.CurriculumID != "" && bc.CurriculumID != filter.CurriculumID {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, bc.Status) {
			continue
		}
		bcs = append(bcs, *bc)
	}
	sort.Slice(bcs, func(i, j int) bool { return bcs[i].CreatedAt.Before(bcs[j].CreatedAt) })
	return bcs, nil
}

func (repo *enrollRepository) UpdateEnrollment(ctx context.Context, bc enroll.BuddyCurriculum) (enroll.BuddyCurriculum, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.enrollments[bc.ID]; !ok {
		return enroll.BuddyCurriculum{}, enroll.ErrNotFound
	}
	repo.db.enrollments[bc.ID] = &bc
	return bc, nil
}

func (repo *enrollRepository) GetWeekProgress(ctx context.Context, id string) (enroll.BuddyWeekProgress, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if wp, ok := repo.db.weekProgress[id]; ok {
		return *wp, nil
	}
	return enroll.BuddyWeekProgress{}, enroll.ErrWeekNotFound
}

func (repo *enrollRepository) QueryWeekProgress(ctx context.Context, enrollmentID string) ([]enroll.BuddyWeekProgress, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var wps []enroll.BuddyWeekProgress
	for _, wp := range repo.db.weekProgress {
		if wp.BuddyCurriculumID == enrollmentID {
			wps = append(wps, *wp)
		}
	}
	sort.Slice(wps, func(i, j int) bool { return wps[i].WeekNumber < wps[j].WeekNumber })
	return wps, nil
}

func (repo *enrollRepository) UpdateWeekProgress(ctx context.Context, wp enroll.BuddyWeekProgress) (enroll.BuddyWeekProgress, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.weekProgress[wp.ID]; !ok {
		return enroll.BuddyWeekProgress{}, enroll.ErrWeekNotFound
	}
	repo.db.weekProgress[wp.ID] = &wp
	return wp, nil
}
