// Package cmd provides the imagepipe command line.
//
// Configuration is read, highest priority first, from flags, the
// IMAGEPIPE_CONFIG_FILE variable, IMAGEPIPE_<SECTION>_<OPTION> variables
// and finally .imagepipe.yml in the working directory.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/villaretreat/imagepipe/internal/config"
	"github.com/villaretreat/imagepipe/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imagepipe",
	Short: "Optimize and preview villa photos",
	Long: `imagepipe prepares the villa photo folders for the website.

For every jpg, jpeg and png photo it writes three files into the folder's
optimized/ directory: a WebP at most 1200px wide or tall, a 400px WebP
thumbnail and a recompressed copy of the original.

Quick Start:
  imagepipe optimize              Optimize the configured folders once
  imagepipe watch                 Re-optimize photos as they change
  imagepipe serve                 Preview the galleries in a browser
  imagepipe config                Print the effective configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .imagepipe.yml, can also use IMAGEPIPE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("IMAGEPIPE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".imagepipe")
	}

	// IMAGEPIPE_SERVER_PORT, IMAGEPIPE_OPTIMIZER_CONCURRENCY, ...
	viper.SetEnvPrefix("IMAGEPIPE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig reads the configuration and builds the logger every command
// shares. Log lines go to the command's output.
func loadConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, newLogger(cfg, cmd.OutOrStdout()), nil
}

func newLogger(cfg *config.Config, out io.Writer) logging.Logger {
	lc := cfg.LoggerConfig()
	lc.Output = out
	return logging.NewLogger(lc)
}
