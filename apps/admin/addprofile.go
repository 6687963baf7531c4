package main

import (
	"context"
	"fmt"

	"github.com/educhain/educhain/core/profile"
)

func (cli *commandLine) addProfile(np profile.NewProfile) error {
	ctx := context.Background()
	if err := np.Validate(ctx, cli.validate, cli.profileSvc); err != nil {
		return err
	}
	p, err := cli.profileSvc.Create(ctx, np)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "profile %s created for %s (%s)\n", p.ID, p.Email, p.Role)
	return nil
}
