package user

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-playground/validator/v10"

	"github.com/rafikidev/rafiki/core"
)

// Roles
const (
	RoleManager = "manager"
	RoleMentor  = "mentor"
	RoleBuddy   = "buddy"
)

// Buddy domain roles (the curriculum track a buddy is on)
const (
	DomainFrontend  = "frontend"
	DomainBackend   = "backend"
	DomainFullstack = "fullstack"
	DomainDevops    = "devops"
	DomainQA        = "qa"
	DomainHR        = "hr"
)

var (
	AllRoles       = []string{RoleManager, RoleMentor, RoleBuddy}
	AllDomainRoles = []string{DomainFrontend, DomainBackend, DomainFullstack, DomainDevops, DomainQA, DomainHR}

	rolePriorities = map[string]int{
		RoleManager: 30,
		RoleMentor:  20,
		RoleBuddy:   10,
	}

	Roles = []Role{
		{Name: "Buddy", Value: RoleBuddy},
		{Name: "Mentor", Value: RoleMentor},
		{Name: "Manager", Value: RoleManager},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	IsActive bool     `json:"is_active"`
	Roles    []string `json:"roles"`

	// buddy profile; empty for managers/mentors
	DomainRole       string `json:"domain_role,omitempty"`
	AssignedMentorID string `json:"assigned_mentor_id,omitempty"`

	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) IsManager() bool { return u.HasRole(RoleManager) }
func (u *User) IsMentor() bool  { return u.HasRole(RoleMentor) }
func (u *User) IsBuddy() bool   { return u.HasRole(RoleBuddy) }

// MaxRole returns the highest-priority role held; the Permission Engine
// evaluates an actor at their highest role.
func (u *User) MaxRole() string {
	var max string
	for _, r := range u.Roles {
		if RolePriority(r) > RolePriority(max) {
			max = r
		}
	}
	return max
}

// Actor returns the (id, role) pair the Permission Engine evaluates.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.MaxRole()}
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name             string   `json:"name" validate:"required"`
	Username         string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email            string   `json:"email" validate:"omitempty,email"`
	Password         string   `json:"password" validate:"required"`
	PasswordConfirm  string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles            []string `json:"roles" validate:"omitempty,allroles"`
	DomainRole       string   `json:"domain_role" validate:"omitempty,domainrole"`
	AssignedMentorID string   `json:"assigned_mentor_id"`
}

func (nu *NewUser) Validate(validate *validator.Validate, svc ServiceInterface) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Which fields the actor may actually touch is decided per field by the
// Permission Engine, not here.
type UpdateUser struct {
	Name             string   `json:"name"`
	Username         string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email            string   `json:"email" validate:"omitempty,email"`
	IsActive         *bool    `json:"is_active"`
	Roles            []string `json:"roles" validate:"omitempty,allroles"`
	DomainRole       string   `json:"domain_role" validate:"omitempty,domainrole"`
	AssignedMentorID *string  `json:"assigned_mentor_id"`
	Password         string   `json:"password" validate:"omitempty"`
	PasswordConfirm  string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(validate *validator.Validate, origUsr User, svc ServiceInterface) error {
	uu.Name = core.CleanString(uu.Name)

	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(uu.Username, uu.Email, origUsr)
}

// touchedBuddyFields lists the gated buddy profile fields present in the payload.
func (uu *UpdateUser) touchedBuddyFields(origUsr User) []string {
	var flds []string
	if uu.Name != "" && uu.Name != origUsr.Name {
		flds = append(flds, FieldName)
	}
	if uu.Email != "" && uu.Email != origUsr.Email {
		flds = append(flds, FieldEmail)
	}
	if uu.DomainRole != "" && uu.DomainRole != origUsr.DomainRole {
		flds = append(flds, FieldDomainRole)
	}
	if uu.IsActive != nil && *uu.IsActive != origUsr.IsActive {
		flds = append(flds, FieldStatus)
	}
	if uu.AssignedMentorID != nil && *uu.AssignedMentorID != origUsr.AssignedMentorID {
		flds = append(flds, FieldAssignedMentor)
	}
	return flds
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error {
	return validate.Struct(rp)
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	MentorID    string    `query:"mentor_id"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.MentorID == "" &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
