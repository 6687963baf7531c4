package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/educhain/educhain/core"
)

func (cli *commandLine) plan(period core.Period) error {
	results, err := cli.distributionSvc.PlanPeriod(context.Background(), period)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTITUTION\tDISTRIBUTION\tAMOUNT\tDECISION\tSKIPPED")
	planned := 0
	for _, res := range results {
		if res.Distribution == nil {
			reason := res.Skipped
			if res.Error != "" {
				reason = "error: " + res.Error
			}
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s\n", res.InstitutionID, reason)
			continue
		}
		planned++
		d := res.Distribution
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", res.InstitutionID, d.ID, d.Amount.StringFixed(2), res.Decision)
	}
	if err = w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %d of %d institutions planned\n", period, planned, len(results))
	return nil
}

func (cli *commandLine) reconcile() error {
	n, err := cli.distributionSvc.ReconcilePending(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d distributions resolved\n", n)
	return nil
}
