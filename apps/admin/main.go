package main

import (
	"log"
	"os"

	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/enroll"
	"github.com/rafikidev/rafiki/core/user"
	emailsvc "github.com/rafikidev/rafiki/services/email"
	"github.com/rafikidev/rafiki/storage/database"
	sqlxrepos "github.com/rafikidev/rafiki/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())
	sdb := sqlxrepos.Wrap(db)

	usrRepo := sqlxrepos.NewUserRepository(sdb)
	assignRepo := sqlxrepos.NewAssignmentRepository(sdb)
	usrSvc := user.NewService(usrRepo, emailsvc.NewConsoleService(conf), conf)
	curSvc := curriculum.NewService(sqlxrepos.NewCurriculumRepository(sdb), assignRepo)
	enrollSvc := enroll.NewService(sqlxrepos.NewEnrollRepository(sdb), assignRepo, curSvc, usrSvc, emailsvc.NewConsoleService(conf), conf)

	// start CLI
	cli := commandLine{
		db:        db,
		usrRepo:   usrRepo,
		usrSvc:    usrSvc,
		enrollSvc: enrollSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
