package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/retain/internal/config"
)

// NewRootCmd builds the retain command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "retain",
		Short:         "Retention-aware ranking for agent memory",
		Long:          "Retain re-ranks memory search hits by a forgetting curve and reinforces what gets retrieved.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RETAIN_CONFIG"), "path to YAML config file")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd(load))
	root.AddCommand(newScoreCmd(load))
	root.AddCommand(newSweepCmd(load))
	root.AddCommand(newStateCmd(load))
	root.AddCommand(newForgetCmd(load))
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}
