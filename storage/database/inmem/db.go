// Package inmemdb provides map-backed repositories guarded by a single
// RWMutex. It backs the service test suites and local development; the sqlx
// repositories are the production implementations.
package inmemdb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rafikidev/rafiki/core/assignment"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/enroll"
	"github.com/rafikidev/rafiki/core/user"
)

// DB holds every table behind one lock so cross-table operations (enrollment
// fan-out, submission version allocation) stay atomic.
type DB struct {
	mutex sync.RWMutex

	users        map[string]*user.User
	curricula    map[string]*curriculum.Curriculum
	weeks        map[string]*curriculum.Week
	templates    map[string]*curriculum.TaskTemplate
	enrollments  map[string]*enroll.BuddyCurriculum
	weekProgress map[string]*enroll.BuddyWeekProgress
	assignments  map[string]*assignment.TaskAssignment
	submissions  map[string]*assignment.Submission
	feedback     map[string]*assignment.Feedback
}

func Open() (*DB, error) {
	db := &DB{
		users:        make(map[string]*user.User),
		curricula:    make(map[string]*curriculum.Curriculum),
		weeks:        make(map[string]*curriculum.Week),
		templates:    make(map[string]*curriculum.TaskTemplate),
		enrollments:  make(map[string]*enroll.BuddyCurriculum),
		weekProgress: make(map[string]*enroll.BuddyWeekProgress),
		assignments:  make(map[string]*assignment.TaskAssignment),
		submissions:  make(map[string]*assignment.Submission),
		feedback:     make(map[string]*assignment.Feedback),
	}
	return db, nil
}

func newID() string { return uuid.New().String() }
