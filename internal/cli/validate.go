package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sockdrill/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <script.yaml>",
		Short: "Validate a load script without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	script, err := config.LoadScript(args[0])
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	steps := 0
	for _, sc := range script.Scenarios {
		steps += len(sc.Flow)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "script is valid: %d scenario(s), %d top-level step(s)\n",
		len(script.Scenarios), steps)
	return nil
}
