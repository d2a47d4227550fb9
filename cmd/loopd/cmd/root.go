package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/psantana5/loopd/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

var (
	cfgFile string

	// exitCode is the status reported by the last daemon run
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "loopd",
	Short: "Run a command in a supervised daemon loop",
	Long: `loopd runs a unit of work over and over until it is told to stop: after a
number of iterations, when a memory budget is reached, when the work asks
for it, or on SIGINT/SIGTERM. An interrupted loop always finishes the
iteration in progress before shutting down.`,
	SilenceUsage: true,
}

// Execute runs the root command and returns the process exit status
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if exitCode != 0 {
			return exitCode
		}
		return 1
	}
	return exitCode
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loopd/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file")

	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.Version = Version
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".loopd/config"
		viper.AddConfigPath(filepath.Join(home, ".loopd"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}
