package cli

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// NewRootCommand creates the ambiguityd command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ambiguityd",
		Short: "Windowed ambiguity detection for process event streams",
		Long: `ambiguityd groups process events that arrive within a quiet period of
each other and tells the orchestrator whether each group is a single
unambiguous event or an ambiguous episode that needs resolving.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewDecodeCommand())

	return cmd
}
