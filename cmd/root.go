package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldwatch/cmd/bands"
	"github.com/tphakala/fieldwatch/cmd/config"
	"github.com/tphakala/fieldwatch/cmd/serve"
	"github.com/tphakala/fieldwatch/cmd/version"
	"github.com/tphakala/fieldwatch/internal/buildinfo"
	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/logger"
)

// RootCommand creates and returns the root command. Settings are loaded
// once in the persistent pre-run and shared with every sub-command.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string
	var debug bool

	rootCmd := &cobra.Command{
		Use:          "fieldwatch",
		Short:        "Field sensor telemetry evaluation and alerting",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: search standard paths)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	versionCmd := version.Command(build)
	rootCmd.AddCommand(
		serve.Command(settings, build),
		bands.Command(settings),
		config.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		if debug {
			settings.Logging.DefaultLevel = "debug"
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize installs the global logger from the loaded settings
func initialize(settings *conf.Settings) error {
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}
