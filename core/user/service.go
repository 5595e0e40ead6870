package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/rafikidev/rafiki/core"
)

var (
	// errors
	ErrNotFound       = core.NewError(core.KindNotFound, "user not found")
	ErrEmailExists    = core.NewError(core.KindValidationFailed, "a user with this email already exists")
	ErrUsernameExists = core.NewError(core.KindValidationFailed, "a user with this username already exists")
	ErrMentorRequired = core.NewError(core.KindValidationFailed, "assigned mentor must be an active mentor")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsername(ctx context.Context, username string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		FilterUsers(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error
	}

	ServiceInterface interface {
		CheckUniqueness(uname, email string, exclUsers ...User) error
		Create(ctx context.Context, actor Actor, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Update(ctx context.Context, actor Actor, id string, uu UpdateUser) (User, error)
		AssignMentor(ctx context.Context, actor Actor, buddyID, mentorID string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, rp ResetUserPassword) error
		Delete(ctx context.Context, actor Actor, ids ...string) error

		// AssignedMentorID resolves a buddy's assigned mentor for
		// ownership-sensitive permission checks in other services.
		AssignedMentorID(ctx context.Context, buddyID string) (string, error)
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) *service {
	initTokenGenerator(conf)
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) CheckUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, actor Actor, nu NewUser) (User, error) {
	if d := Authorize(actor, PermManageUsers, Owners{}); !d.Allowed {
		return User{}, core.NewPermissionError(string(d.Permission))
	}
	// actor cannot grant a role above their own
	if MaxRolePriority(nu.Roles) > RolePriority(actor.Role) {
		return User{}, core.NewValidationError(nil, core.FieldError{Field: "roles", Error: "not enough rights to set these roles"})
	}

	now := time.Now().UTC()
	usr := User{
		Name:             nu.Name,
		Username:         nu.Username,
		Email:            nu.Email,
		IsActive:         true,
		Roles:            nu.Roles,
		DomainRole:       nu.DomainRole,
		AssignedMentorID: nu.AssignedMentorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if usr.AssignedMentorID != "" {
		if err := svc.checkMentor(ctx, usr.AssignedMentorID); err != nil {
			return User{}, err
		}
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	if filter != nil {
		filter.Clean()
		return svc.repo.FilterUsers(ctx, *filter, ordering...)
	}
	return svc.repo.FilterUsers(ctx, QueryFilter{}, ordering...)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

// Update applies uu to the user `id`. Buddy profile fields are gated per field
// by the Permission Engine; role and username changes are manager-only.
func (svc *service) Update(ctx context.Context, actor Actor, id string, uu UpdateUser) (User, error) {
	orig, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}

	for _, field := range uu.touchedBuddyFields(orig) {
		if d := CanEditBuddyField(actor, field, orig); !d.Allowed {
			return User{}, core.NewPermissionError(string(d.Permission))
		}
	}
	if uu.Roles != nil || (uu.Username != "" && uu.Username != orig.Username) {
		if d := Authorize(actor, PermManageUsers, Owners{}); !d.Allowed {
			return User{}, core.NewPermissionError(string(d.Permission))
		}
		if MaxRolePriority(uu.Roles) > RolePriority(actor.Role) {
			return User{}, core.NewValidationError(nil, core.FieldError{Field: "roles", Error: "not enough rights to set these roles"})
		}
	}
	if uu.AssignedMentorID != nil && *uu.AssignedMentorID != "" {
		if err = svc.checkMentor(ctx, *uu.AssignedMentorID); err != nil {
			return User{}, err
		}
	}

	usr := User{
		ID:         id,
		Name:       uu.Name,
		Username:   uu.Username,
		Roles:      uu.Roles,
		DomainRole: uu.DomainRole,
		UpdatedAt:  time.Now().UTC(),
	}
	if uu.AssignedMentorID != nil {
		usr.AssignedMentorID = *uu.AssignedMentorID
	} else {
		usr.AssignedMentorID = orig.AssignedMentorID
	}
	if uu.Password != "" {
		if err = usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(ctx, usr, uu.IsActive)
}

// AssignMentor reassigns a buddy's mentor; manager-only.
func (svc *service) AssignMentor(ctx context.Context, actor Actor, buddyID, mentorID string) (User, error) {
	buddy, err := svc.repo.GetUserByID(ctx, buddyID)
	if err != nil {
		return User{}, err
	}
	if d := CanEditBuddyField(actor, FieldAssignedMentor, buddy); !d.Allowed {
		return User{}, core.NewPermissionError(string(d.Permission))
	}
	if err = svc.checkMentor(ctx, mentorID); err != nil {
		return User{}, err
	}
	buddy.AssignedMentorID = mentorID
	buddy.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, buddy, nil)
}

func (svc *service) AssignedMentorID(ctx context.Context, buddyID string) (string, error) {
	buddy, err := svc.repo.GetUserByID(ctx, buddyID)
	if err != nil {
		return "", err
	}
	return buddy.AssignedMentorID, nil
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr, nil)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return errInvalidToken
	}
	usr, err := svc.repo.GetUserByID(ctx, uid)
	if err != nil {
		return err
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return err
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr, nil)
	return errors.Wrap(err, "updating password")
}

func (svc *service) Delete(ctx context.Context, actor Actor, ids ...string) error {
	if d := Authorize(actor, PermManageUsers, Owners{}); !d.Allowed {
		return core.NewPermissionError(string(d.Permission))
	}
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

func (svc *service) checkMentor(ctx context.Context, mentorID string) error {
	mentor, err := svc.repo.GetUserByID(ctx, mentorID)
	if err != nil {
		if err == ErrNotFound {
			return ErrMentorRequired
		}
		return err
	}
	if !mentor.IsMentor() || !mentor.IsActive {
		return ErrMentorRequired
	}
	return nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	token, err := MakeToken(usr)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			UID   string
			Token string
		}{EncodeUID(usr), token},
		BodyStr: fmt.Sprintf("Reset your password: %s/password-reset/%s/%s", svc.conf.FrontendBaseURL, EncodeUID(usr), token),
	})
}
