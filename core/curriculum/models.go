package curriculum

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rafikidev/rafiki/core"
)

// Curriculum statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Task difficulties
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

type Curriculum struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	DomainRole string    `json:"domain_role"`
	TotalWeeks int       `json:"total_weeks"` // advisory; need not equal count(weeks)
	Status     string    `json:"status"`
	Version    int       `json:"version"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

func (c *Curriculum) IsDraft() bool     { return c.Status == StatusDraft }
func (c *Curriculum) IsPublished() bool { return c.Status == StatusPublished }
func (c *Curriculum) IsArchived() bool  { return c.Status == StatusArchived }

type Week struct {
	ID                 string    `json:"id"`
	CurriculumID       string    `json:"curriculum_id"`
	WeekNumber         int       `json:"week_number"` // unique within curriculum
	Title              string    `json:"title"`
	LearningObjectives []string  `json:"learning_objectives"`
	DisplayOrder       int       `json:"display_order"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ResourceType describes a work product a task expects with a submission.
type ResourceType struct {
	Type     string `json:"type" validate:"required"`
	Label    string `json:"label" validate:"required"`
	Required bool   `json:"required"`
}

type TaskTemplate struct {
	ID                    string         `json:"id"`
	WeekID                string         `json:"week_id"`
	Title                 string         `json:"title"`
	Description           string         `json:"description"`
	Difficulty            string         `json:"difficulty"`
	EstimatedHours        int            `json:"estimated_hours"`
	ExpectedResourceTypes []ResourceType `json:"expected_resource_types"`
	DisplayOrder          int            `json:"display_order"`
	IsArchived            bool           `json:"is_archived"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// RequiredResourceTypes returns the expected resource types with Required set.
func (t *TaskTemplate) RequiredResourceTypes() []ResourceType {
	var req []ResourceType
	for _, rt := range t.ExpectedResourceTypes {
		if rt.Required {
			req = append(req, rt)
		}
	}
	return req
}

// NewCurriculum contains information needed to create a new Curriculum.
type NewCurriculum struct {
	Title      string `json:"title" validate:"required"`
	DomainRole string `json:"domain_role" validate:"required,domainrole"`
	TotalWeeks int    `json:"total_weeks" validate:"omitempty,min=1"`
}

func (nc *NewCurriculum) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	return validate.Struct(nc)
}

type UpdateCurriculum struct {
	Title      string `json:"title"`
	DomainRole string `json:"domain_role" validate:"omitempty,domainrole"`
	TotalWeeks int    `json:"total_weeks" validate:"omitempty,min=1"`
	IsActive   *bool  `json:"is_active"`
}

func (uc *UpdateCurriculum) Validate(validate *validator.Validate) error {
	uc.Title = core.CleanString(uc.Title)
	return validate.Struct(uc)
}

type NewWeek struct {
	WeekNumber         int      `json:"week_number" validate:"required,min=1"`
	Title              string   `json:"title" validate:"required"`
	LearningObjectives []string `json:"learning_objectives"`
	DisplayOrder       int      `json:"display_order"`
}

func (nw *NewWeek) Validate(validate *validator.Validate) error {
	nw.Title = core.CleanString(nw.Title)
	return validate.Struct(nw)
}

type NewTaskTemplate struct {
	Title                 string         `json:"title" validate:"required"`
	Description           string         `json:"description"`
	Difficulty            string         `json:"difficulty" validate:"required,oneof=easy medium hard"`
	EstimatedHours        int            `json:"estimated_hours" validate:"omitempty,min=1"`
	ExpectedResourceTypes []ResourceType `json:"expected_resource_types" validate:"omitempty,dive"`
	DisplayOrder          int            `json:"display_order"`
}

func (nt *NewTaskTemplate) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	return validate.Struct(nt)
}

type QueryFilter struct {
	Search     string `query:"search"`
	DomainRole string `query:"domain_role"`
	Status     string `query:"status"`
	IsActive   *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
