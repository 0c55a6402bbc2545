// Package cli implements graphstorectl, the thin optional command-line
// entrypoint over the storage engine: schema sync, standalone proxy
// serving, and one-shot ingest only.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coredex/graphstore/internal/vectorindex"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when graphstorectl is invoked with no
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "graphstorectl",
	Short: "graphstorectl - code-analysis storage engine control plane",
	Long: `graphstorectl operates a graphstore database: synchronizing its
schema, serving it over the proxy protocol for sibling worker processes,
and running one-shot ingest over a directory tree.`,
}

// Execute adds all child commands to rootCmd and runs it. Called once
// from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// The vec0 module must be registered before any database is opened;
	// every subcommand opens one.
	vectorindex.InitExtension()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .graphstore/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "graphstorectl: reading config file:", err)
		}
	}
}
