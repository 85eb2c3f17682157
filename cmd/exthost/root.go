package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglet-dev/exthost/internal/infrastructure/redaction"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "exthost",
	Short: "Extension host with load-time repair and hostcall budgets",
	Long: `exthost loads third-party extensions, repairs the load defects it
recognises, and dispatches their hostcalls through a sharded reactor under
per-extension budgets.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.exthost.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().String("system-config", "", "host config file (default is $HOME/.exthost/config.yaml)")
	rootCmd.PersistentFlags().String("security-level", "", "capability security level: strict, standard, permissive")
	rootCmd.PersistentFlags().Bool("trust-all", false, "grant every requested capability without prompting")

	_ = viper.BindPFlag("system_config", rootCmd.PersistentFlags().Lookup("system-config"))
	_ = viper.BindPFlag("security_level", rootCmd.PersistentFlags().Lookup("security-level"))
	_ = viper.BindPFlag("trust_all", rootCmd.PersistentFlags().Lookup("trust-all"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newRepairCmd(),
		newBenchCmd(),
		newSchemaCmd(),
		newGrantsCmd(),
	)
}

// initConfig loads configuration from the config file and environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("failed to find home directory", "error", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".exthost")
	}

	viper.SetEnvPrefix("EXTHOST")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(newLogger(os.Stderr, level))
}

// newLogger writes text logs through a pattern-only redactor so secrets in
// error messages never reach the terminal.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if r, err := redaction.New(redaction.Config{DisableGitleaks: true}); err == nil {
		w = redaction.NewWriter(w, r)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
