// Package cli implements the sockdrill command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Root builds the command tree. version is stamped by the build.
func Root(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "sockdrill",
		Short: "Scriptable load generator for channel-message servers",
		Long: "Sockdrill drives populations of scripted virtual users against\n" +
			"servers speaking a bidirectional channel protocol, correlating\n" +
			"asynchronous replies and reporting per-step timings.",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("sockdrill version %s\n", version))

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}
