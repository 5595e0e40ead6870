package main

import (
	"context"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isManager, isMentor bool, domain string) error {
	var usr user.User
	var err error
	ctx := context.Background()
	name = core.CleanString(name)
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	exists := true
	if usr, err = cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname); err != nil {
		if !core.IsKind(err, core.KindNotFound) {
			return err
		}
		exists = false
		usr = user.User{
			Username: uname,
			Email:    email,
		}
	}
	if name != "" {
		usr.Name = name
	}
	switch {
	case isManager:
		usr.Roles = []string{user.RoleManager}
	case isMentor:
		usr.Roles = []string{user.RoleMentor}
	default:
		usr.Roles = []string{user.RoleBuddy}
		usr.DomainRole = domain
	}
	usr.IsActive = true
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	if exists {
		isActive := usr.IsActive
		_, err = cli.usrRepo.UpdateUser(ctx, usr, &isActive)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
