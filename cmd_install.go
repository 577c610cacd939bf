package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flybywiresim/fragmenter/cancel"
	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/install"
)

func newInstallCmd() *cobra.Command {
	return newInstallLikeCmd("install <baseURL> <destDir>", "Install or update a package from a distribution manifest")
}

func newInstallLikeCmd(use, short string) *cobra.Command {
	var (
		maxRetries       int
		forceFresh       bool
		forceCacheBust   bool
		noFallbackToFull bool
		ratio            float64
		verbose          bool
		noProgress       bool
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
	}

	alts := newAlternativesFlag(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		baseURL, destDir := args[0], args[1]

		out, wait := buildSink(verbose, !noProgress)
		defer wait()

		tok, cancelFn := cancel.New(cmd.Context())
		defer cancelFn()

		in := newInstaller(baseURL, destDir, install.Options{
			MaxModuleRetries:      maxRetries,
			ForceFreshInstall:     forceFresh,
			ForceCacheBust:        forceCacheBust,
			DisableFallbackToFull: noFallbackToFull,
			ModuleAlternativesMap: alts,
			ForceFullInstallRatio: ratio,
		}, out, tok)

		result, err := in.Install(tok.Context())
		if err != nil {
			if ferrors.CodeOf(err) == ferrors.UserAborted {
				fmt.Println("install cancelled")
				return nil
			}
			return err
		}

		if !result.Changed {
			fmt.Println("already up to date")
			return nil
		}
		fmt.Println("install complete")
		return nil
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", install.DefaultMaxModuleRetries, "per-module retry ceiling before falling back to a full install")
	cmd.Flags().BoolVar(&forceFresh, "force-fresh", false, "always perform a full install, ignoring any existing install.json")
	cmd.Flags().BoolVar(&forceCacheBust, "cache-bust", false, "append a random cache-busting parameter to every fragment URL")
	cmd.Flags().BoolVar(&noFallbackToFull, "no-fallback-to-full", false, "do not fall back to a full install when modular retries are exhausted")
	cmd.Flags().Float64Var(&ratio, "force-full-install-ratio", 0, "escalate to a full install once the changed-module ratio exceeds this (0 disables)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "debug-level logging")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress bars, log events only")

	return cmd
}
