package main

import (
	"context"

	"github.com/educhain/educhain/storage/database"
)

var gooseRunFunc database.GooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrate(args []string) error {
	return gooseRunFunc(context.Background(), args[0], cli.db, args[1:]...)
}
