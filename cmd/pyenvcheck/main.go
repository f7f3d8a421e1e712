// pyenvcheck reports how well installed Python environments satisfy a
// requirements file.
//
// Usage:
//
//	pyenvcheck -r requirements.txt
//	pyenvcheck check -r requirements.txt --include-conda-envs -o json
//	pyenvcheck conda refresh
//	pyenvcheck interpreters add py311 /usr/bin/python3.11
//	pyenvcheck history --limit 5
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	configPath string
	cacheFile  string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pyenvcheck",
		Short: "Check Python environments against a requirements file",
		Long: `pyenvcheck inspects the packages installed in one or more Python
interpreters and reports, for each one, how many requirements of a
requirements file it satisfies.

Without a subcommand it runs "check".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCheck,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.pyenvcheck/config.toml)")
	rootCmd.PersistentFlags().StringVar(&cacheFile, "cache-file", "", "Cache file (default ~/.pyenvcheck/cache.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	addCheckFlags(rootCmd)

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(condaCmd())
	rootCmd.AddCommand(interpretersCmd())
	rootCmd.AddCommand(historyCmd())

	return rootCmd
}
