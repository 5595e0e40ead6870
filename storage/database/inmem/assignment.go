package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/assignment"
)

type assignmentRepository struct {
	db *DB
}

func NewAssignmentRepository(db *DB) assignment.Repository {
	return &assignmentRepository{db: db}
}

func (repo *assignmentRepository) GetAssignment(ctx context.Context, id string) (assignment.TaskAssignment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.get(id)
}

func (repo *assignmentRepository) get(id string) (assignment.TaskAssignment, error) {
	if a, ok := repo.db.assignments[id]; ok {
		return *a, nil
	}
	return assignment.TaskAssignment{}, assignment.ErrAssignmentNotFound
}

func (repo *assignmentRepository) QueryAssignments(ctx context.Context, filter assignment.QueryFilter, ordering ...core.DBOrdering) ([]assignment.TaskAssignment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var assignments []assignment.TaskAssignment
	for _, a := range repo.db.assignments {
		if matchAssignment(*a, filter) {
			assignments = append(assignments, *a)
		}
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].AssignedAt.Before(assignments[j].AssignedAt) })
	return assignments, nil
}

func matchAssignment(a assignment.TaskAssignment, filter assignment.QueryFilter) bool {
	if filter.BuddyID != "" && a.BuddyID != filter.BuddyID {
		return false
	}
	if filter.BuddyWeekProgressID != "" && a.BuddyWeekProgressID != filter.BuddyWeekProgressID {
		return false
	}
	if len(filter.TemplateIDs) > 0 && !contains(filter.TemplateIDs, a.TaskTemplateID) {
		return false
	}
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, a.Status) {
		return false
	}
	return true
}

func (repo *assignmentRepository) ActiveAssignmentCount(ctx context.Context, templateIDs []string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var count int
	for _, a := range repo.db.assignments {
		if !contains(templateIDs, a.TaskTemplateID) {
			continue
		}
		if a.Status != assignment.StatusNotStarted {
			count++
		}
	}
	return count, nil
}

func (repo *assignmentRepository) MarkStarted(ctx context.Context, id string, at time.Time) (assignment.TaskAssignment, error) {
	return repo.setStatus(id, assignment.StatusInProgress, func(a *assignment.TaskAssignment) {
		if a.StartedAt.IsZero() {
			a.StartedAt = at
		}
	})
}

func (repo *assignmentRepository) MarkSubmitted(ctx context.Context, id string, at time.Time) (assignment.TaskAssignment, error) {
	return repo.setStatus(id, assignment.StatusSubmitted, func(a *assignment.TaskAssignment) {
		if a.FirstSubmissionAt.IsZero() {
			a.FirstSubmissionAt = at
		}
	})
}

func (repo *assignmentRepository) MarkUnderReview(ctx context.Context, id string) (assignment.TaskAssignment, error) {
	return repo.setStatus(id, assignment.StatusUnderReview, nil)
}

func (repo *assignmentRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (assignment.TaskAssignment, error) {
	return repo.setStatus(id, assignment.StatusCompleted, func(a *assignment.TaskAssignment) {
		a.CompletedAt = at
	})
}

func (repo *assignmentRepository) MarkNeedsRevision(ctx context.Context, id string) (assignment.TaskAssignment, error) {
	return repo.setStatus(id, assignment.StatusNeedsRevision, nil)
}

func (repo *assignmentRepository) setStatus(id, status string, mutate func(*assignment.TaskAssignment)) (assignment.TaskAssignment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.assignments[id]
	if !ok {
		return assignment.TaskAssignment{}, assignment.ErrAssignmentNotFound
	}
	a.Status = status
	if mutate != nil {
		mutate(a)
	}
	a.UpdatedAt = time.Now().UTC()
	return *a, nil
}

func (repo *assignmentRepository) AllocateSubmissionVersion(ctx context.Context, assignmentID string) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.assignments[assignmentID]
	if !ok {
		return 0, assignment.ErrAssignmentNotFound
	}
	a.SubmissionCount++
	return a.SubmissionCount, nil
}

func (repo *assignmentRepository) CreateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, existing := range repo.db.submissions {
		if existing.TaskAssignmentID == sub.TaskAssignmentID && existing.Version == sub.Version {
			return assignment.Submission{}, assignment.ErrVersionConflict
		}
	}
	sub.ID = newID()
	repo.db.submissions[sub.ID] = &sub
	return sub, nil
}

func (repo *assignmentRepository) GetSubmission(ctx context.Context, id string) (assignment.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if sub, ok := repo.db.submissions[id]; ok {
		return *sub, nil
	}
	return assignment.Submission{}, assignment.ErrSubmissionNotFound
}

func (repo *assignmentRepository) CurrentSubmission(ctx context.Context, assignmentID string) (assignment.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var current *assignment.Submission
	for _, sub := range repo.db.submissions {
		if sub.TaskAssignmentID != assignmentID {
			continue
		}
		if current == nil || sub.Version > current.Version {
			current = sub
		}
	}
	if current == nil {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	return *current, nil
}

func (repo *assignmentRepository) QuerySubmissions(ctx context.Context, filter assignment.SubmissionFilter, ordering ...core.DBOrdering) ([]assignment.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var subs []assignment.Submission
	for _, sub := range repo.db.submissions {
		if filter.AssignmentID != "" && sub.TaskAssignmentID != filter.AssignmentID {
			continue
		}
		if len(filter.AssignmentIDs) > 0 && !contains(filter.AssignmentIDs, sub.TaskAssignmentID) {
			continue
		}
		if filter.BuddyID != "" && sub.BuddyID != filter.BuddyID {
			continue
		}
		if len(filter.ReviewStatuses) > 0 && !contains(filter.ReviewStatuses, sub.ReviewStatus) {
			continue
		}
		subs = append(subs, *sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.Before(subs[j].SubmittedAt) })
	return subs, nil
}

func (repo *assignmentRepository) MarkSubmissionUnderReview(ctx context.Context, id string) (assignment.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sub, ok := repo.db.submissions[id]
	if !ok {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	if sub.Reviewed() {
		return assignment.Submission{}, assignment.ErrAlreadyReviewed
	}
	sub.ReviewStatus = assignment.ReviewUnderReview
	return *sub, nil
}

func (repo *assignmentRepository) SetSubmissionReview(ctx context.Context, id string, upd assignment.ReviewUpdate) (assignment.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sub, ok := repo.db.submissions[id]
	if !ok {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	if sub.Reviewed() {
		return assignment.Submission{}, assignment.ErrAlreadyReviewed
	}
	sub.ReviewStatus = upd.Status
	sub.ReviewedBy = upd.ReviewedBy
	sub.ReviewedAt = upd.ReviewedAt
	sub.Grade = upd.Grade
	return *sub, nil
}

func (repo *assignmentRepository) CreateFeedback(ctx context.Context, fb assignment.Feedback) (assignment.Feedback, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	fb.ID = newID()
	repo.db.feedback[fb.ID] = &fb
	return fb, nil
}

func (repo *assignmentRepository) GetFeedback(ctx context.Context, id string) (assignment.Feedback, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if fb, ok := repo.db.feedback[id]; ok {
		return *fb, nil
	}
	return assignment.Feedback{}, assignment.ErrFeedbackNotFound
}

func (repo *assignmentRepository) QueryFeedback(ctx context.Context, submissionID string) ([]assignment.Feedback, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var fbs []assignment.Feedback
	for _, fb := range repo.db.feedback {
		if fb.SubmissionID == submissionID {
			fbs = append(fbs, *fb)
		}
	}
	sort.Slice(fbs, func(i, j int) bool { return fbs[i].CreatedAt.Before(fbs[j].CreatedAt) })
	return fbs, nil
}

func (repo *assignmentRepository) UpdateFeedbackMessage(ctx context.Context, id, message string, at time.Time) (assignment.Feedback, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	fb, ok := repo.db.feedback[id]
	if !ok {
		return assignment.Feedback{}, assignment.ErrFeedbackNotFound
	}
	fb.Message = message
	fb.UpdatedAt = at
	return *fb, nil
}

func (repo *assignmentRepository) DeleteFeedback(ctx context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// replies keep their parent reference even once the parent is gone
	delete(repo.db.feedback, id)
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
