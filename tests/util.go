package testutil

import (
	"context"
	"net/mail"
	"testing"
	"time"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/user"
)

// NewTestConfig returns a self-contained config; nothing is read from the
// environment.
func NewTestConfig() *core.Config {
	return &core.Config{
		TestMode:         true,
		Env:              "TEST",
		Build:            "test",
		AppName:          "Rafiki",
		SecretKey:        []byte("o4&l-secret-key-for-tests-only-2(#yg4h^$c"),
		FrontendBaseURL:  "https://rafiki.test",
		DefaultFromEmail: mail.Address{Address: "noreply@rafiki.test"},
		Server: core.ServerConfig{
			Host:                      "localhost",
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			ShutdownTimeout:           5 * time.Second,
		},
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateBuddy creates an active buddy, optionally assigned to a mentor.
func CreateBuddy(t *testing.T, repo user.Repository, name, uname, domainRole, mentorID string) user.User {
	t.Helper()

	now := time.Now().UTC()
	usr := user.User{
		Name:             name,
		Username:         uname,
		Email:            uname + "@rafiki.test",
		Roles:            []string{user.RoleBuddy},
		DomainRole:       domainRole,
		AssignedMentorID: mentorID,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateBuddy() failed: %v", err)
	}
	return usr
}

func CreateMentor(t *testing.T, repo user.Repository, name, uname string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, uname, uname+"@rafiki.test", "", []string{user.RoleMentor}, true)
}

func CreateManager(t *testing.T, repo user.Repository, name, uname string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, uname, uname+"@rafiki.test", "", []string{user.RoleManager}, true)
}

// CreateCurriculum creates a curriculum with `weeks` weeks of `tasksPerWeek`
// templates each, in the given status. Every template expects one required
// "code" resource.
func CreateCurriculum(
	t *testing.T,
	repo curriculum.Repository,
	title, domainRole, status string,
	weeks, tasksPerWeek int,
) (curriculum.Curriculum, []curriculum.Week, []curriculum.TaskTemplate) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	cur, err := repo.CreateCurriculum(ctx, curriculum.Curriculum{
		Title:      title,
		DomainRole: domainRole,
		TotalWeeks: weeks,
		Status:     status,
		Version:    1,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateCurriculum() failed: %v", err)
	}

	var (
		wks  []curriculum.Week
		tpls []curriculum.TaskTemplate
	)
	for w := 1; w <= weeks; w++ {
		wk, err := repo.CreateWeek(ctx, curriculum.Week{
			CurriculumID: cur.ID,
			WeekNumber:   w,
			Title:        "Week",
			DisplayOrder: w,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			t.Fatalf("CreateCurriculum() failed: %v", err)
		}
		wks = append(wks, wk)
		for i := 1; i <= tasksPerWeek; i++ {
			tpl, err := repo.CreateTemplate(ctx, curriculum.TaskTemplate{
				WeekID:     wk.ID,
				Title:      "Task",
				Difficulty: curriculum.DifficultyEasy,
				ExpectedResourceTypes: []curriculum.ResourceType{
					{Type: "code", Label: "Code", Required: true},
				},
				DisplayOrder: i,
				CreatedAt:    now.Add(time.Duration(i) * time.Millisecond),
				UpdatedAt:    now,
			})
			if err != nil {
				t.Fatalf("CreateCurriculum() failed: %v", err)
			}
			tpls = append(tpls, tpl)
		}
	}
	return cur, wks, tpls
}
