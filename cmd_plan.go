package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/flybywiresim/fragmenter/planner"
	"github.com/flybywiresim/fragmenter/progress"
	"github.com/flybywiresim/fragmenter/transport"
)

func newPlanCmd() *cobra.Command {
	var ratio float64

	cmd := &cobra.Command{
		Use:   "plan <baseURL> <destDir>",
		Short: "Show what an install/update would do without changing anything",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, destDir := args[0], args[1]

			dist, err := planner.FetchManifest(cmd.Context(), transport.NewClient(), baseURL, false)
			if err != nil {
				return fmt.Errorf("fetch manifest: %w", err)
			}

			plan, err := planner.Plan(afero.NewOsFs(), dist, destDir, planner.Options{
				ForceFullInstallRatio: ratio,
			})
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}

			if plan.IsFreshInstall {
				fmt.Println("fresh install")
			} else if !plan.NeedsUpdate {
				fmt.Println("already up to date")
				return nil
			}

			fmt.Printf("base changed: %v\n", plan.BaseChanged)
			fmt.Printf("added:     %d\n", len(plan.Added))
			fmt.Printf("updated:   %d\n", len(plan.Updated))
			fmt.Printf("removed:   %d\n", len(plan.Removed))
			fmt.Printf("unchanged: %d\n", len(plan.Unchanged))
			fmt.Printf("download size: %s\n", progress.FormatBytes(plan.DownloadSize))
			fmt.Printf("disk space needed: %s\n", progress.FormatBytes(plan.RequiredDiskSpace))
			if plan.WillFullyReDownload {
				fmt.Println("this will perform a full re-download")
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&ratio, "force-full-install-ratio", 0, "escalate to a full install once the changed-module ratio exceeds this (0 disables)")
	return cmd
}
