package main

import (
	"context"
	"fmt"

	"github.com/rafikidev/rafiki/core/user"
)

// enroll enrolls a buddy into a curriculum. The console acts with manager
// authority.
func (cli *commandLine) enroll(uname, curriculumID string) error {
	ctx := context.Background()

	buddy, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}

	actor := user.Actor{Role: user.RoleManager}
	bc, err := cli.enrollSvc.Enroll(ctx, actor, buddy.ID, curriculumID)
	if err != nil {
		return err
	}
	fmt.Printf("enrolled %s into curriculum %s (enrollment %s)\n", buddy.Username, bc.CurriculumID, bc.ID)
	return nil
}
