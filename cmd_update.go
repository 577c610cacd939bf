package main

import "github.com/spf13/cobra"

// newUpdateCmd is install's sibling: the same orchestrator call, since
// planner.Plan already tells the two apart by whether destDir holds an
// install.json. It exists as a separate verb because "update" reads more
// naturally than "install" once a package is already on disk.
func newUpdateCmd() *cobra.Command {
	return newInstallLikeCmd("update <baseURL> <destDir>", "Update an already-installed package to the latest distribution manifest")
}
