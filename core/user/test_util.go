package user

import (
	"context"

	"github.com/rafikidev/rafiki/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a ServiceInterface whose side effects (emails) run
// synchronously, for deterministic tests.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) ServiceInterface {
	initTokenGenerator(conf)
	return &serviceMock{
		service: service{
			repo:    repo,
			mailSvc: mailSvc,
			conf:    conf,
		},
	}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}
