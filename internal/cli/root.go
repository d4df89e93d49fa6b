package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Relevance-ranked memory for conversational agents",
	Long: "Recall stores interaction history as weighted memories, ranks them for retrieval, " +
		"assembles token-budgeted context and forgets what is no longer worth keeping.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("RECALL_CONFIG"), "Path to a YAML config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(forgetCmd)
}

// loadConfig reads --config (or RECALL_CONFIG) over the defaults.
func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
