package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/flybywiresim/fragmenter/install"
)

func newVerifyCmd() *cobra.Command {
	var (
		fix     bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "verify <baseURL> <destDir>",
		Short: "Verify an installed package's content hashes against install.json",
		Long: `Recomputes the recursive content hash of every installed module's
destination directory and compares it against the hash recorded in
install.json. Base files are checked for existence only, since the base
fragment has no per-file hash of its own.

Use --fix to reinstall from scratch when verification fails.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, destDir := args[0], args[1]
			fsys := afero.NewOsFs()

			report, err := install.Verify(fsys, destDir, install.Options{MaxDownloadWorkers: workers})
			if err != nil {
				return fmt.Errorf("verify %s: %w (is it installed?)", destDir, err)
			}

			if report.OK() {
				fmt.Printf("verified %d modules, all hashes match\n", len(report.Manifest.Modules))
				return nil
			}

			for _, m := range report.Mismatches {
				fmt.Println("  " + m)
			}

			if !fix {
				return fmt.Errorf("%d problems found; rerun with --fix to reinstall", len(report.Mismatches))
			}

			fmt.Println("reinstalling from scratch...")
			out, wait := buildSink(false, true)
			defer wait()

			in := newInstaller(baseURL, destDir, forcedFreshOptions(), out, nil)
			if _, err := in.Install(cmd.Context()); err != nil {
				return fmt.Errorf("repair install failed: %w", err)
			}
			fmt.Println("repair complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "reinstall from scratch when verification fails")
	cmd.Flags().IntVar(&workers, "workers", install.DefaultMaxDownloadWorkers, "bounded concurrency for hashing installed module directories")
	return cmd
}
