package enroll

import (
	"time"

	"github.com/rafikidev/rafiki/core/assignment"
	"github.com/rafikidev/rafiki/core/curriculum"
)

// Enrollment statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusWithdrawn = "withdrawn"
)

// Week progress statuses, derived from the week's assignments and never set
// directly.
const (
	WeekNotStarted = "not_started"
	WeekInProgress = "in_progress"
	WeekCompleted  = "completed"
)

// BuddyCurriculum is a buddy's enrollment in a curriculum. A buddy has at
// most one active enrollment at a time. CurriculumVersion snapshots the
// curriculum version at enrollment time; later republishes do not touch
// work already fanned out.
type BuddyCurriculum struct {
	ID                string    `json:"id"`
	BuddyID           string    `json:"buddy_id"`
	CurriculumID      string    `json:"curriculum_id"`
	CurriculumVersion int       `json:"curriculum_version"`
	Status            string    `json:"status"`
	EnrolledBy        string    `json:"enrolled_by"`
	StartDate         time.Time `json:"start_date"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (bc *BuddyCurriculum) IsActive() bool { return bc.Status == StatusActive }

// BuddyWeekProgress is the per-week progress rollup for one enrollment.
// CompletedTasks, TotalTasks, ProgressPercentage and Status are derived from
// the week's task assignments; recomputing them is idempotent.
type BuddyWeekProgress struct {
	ID                 string    `json:"id"`
	BuddyCurriculumID  string    `json:"buddy_curriculum_id"`
	BuddyID            string    `json:"buddy_id"`
	WeekID             string    `json:"week_id"`
	WeekNumber         int       `json:"week_number"`
	Status             string    `json:"status"`
	CompletedTasks     int       `json:"completed_tasks"`
	TotalTasks         int       `json:"total_tasks"`
	ProgressPercentage int       `json:"progress_percentage"`
	CompletedAt        time.Time `json:"completed_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// OverallProgress aggregates an enrollment's progress across all weeks.
// The percentage weights each week by its task count, which is the same as
// computing completed/total over the whole enrollment.
type OverallProgress struct {
	CompletedTasks int `json:"completed_tasks"`
	TotalTasks     int `json:"total_tasks"`
	Percentage     int `json:"percentage"`
	CompletedWeeks int `json:"completed_weeks"`
	TotalWeeks     int `json:"total_weeks"`
}

// QueryFilter filters enrollments; fields AND together.
type QueryFilter struct {
	BuddyID      string
	CurriculumID string
	Statuses     []string
}

// Dashboard is the buddy-facing projection of one active enrollment: the
// curriculum, overall progress and a per-week breakdown with assignments.
type Dashboard struct {
	Enrollment BuddyCurriculum       `json:"enrollment"`
	Curriculum curriculum.Curriculum `json:"curriculum"`
	Overall    OverallProgress       `json:"overall"`
	Weeks      []WeekDashboard       `json:"weeks"`
}

type WeekDashboard struct {
	Week        curriculum.Week             `json:"week"`
	Progress    BuddyWeekProgress           `json:"progress"`
	Assignments []assignment.TaskAssignment `json:"assignments"`
}
