package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
	logsvc "github.com/trezcool/rehabquest/services/logger"
	"github.com/trezcool/rehabquest/storage/database"
	sqlxrepos "github.com/trezcool/rehabquest/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	defer logger.Close()

	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close()

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	cli := &commandLine{
		db:         db.DB,
		usrSvc:     user.NewService(sqlxrepos.NewUserRepository(db)),
		missionSvc: mission.NewService(sqlxrepos.NewMissionRepository(db), logger),
		validate:   validate,
	}
	if err = newRootCommand(cli).ExecuteContext(context.Background()); err != nil {
		logger.Error(fmt.Sprintf("error: %v", err), err)
		db.Close()
		logger.Close()
		os.Exit(1)
	}
}
