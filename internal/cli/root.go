// Package cli implements the postscore command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/straja-ai/postscore/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "postscore",
	Short: "Score short social posts with a generative model",
	Long: `postscore grades a post of up to 280 characters against a fixed rubric,
returning a score breakdown, a letter grade, suggestions and rewritten
variants. Results can be streamed as progress events.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "postscore.yaml", "path to config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, err
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
