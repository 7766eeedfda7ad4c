// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/internal/config"
	"github.com/xkilldash9x/fireflybatch/internal/observability"
)

const defaultConfigName = "fireflybatch"

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger
}

// NewRootCommand builds a fresh command tree. Each call has its own viper instance, so tests and
// repeated invocations do not share flag or config state.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "fireflybatch",
		Short:         "Batch image generation for the Adobe Firefly web page.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "fireflybatch version %s\n" .Version}}`)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./"+defaultConfigName+".yaml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("mode", "", `browser mode, "attach" or "launch"`)
	pf.String("remote-url", "", "remote debugging endpoint of the browser to attach to")
	pf.String("preset", "", `automation preset, "gallery" or "batch"`)
	pf.String("download-dir", "", "directory downloads are saved to")

	rootCmd.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newProbeCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

var flagKeys = map[string]string{
	"log-level":    "logger.level",
	"mode":         "browser.mode",
	"remote-url":   "browser.remote_url",
	"preset":       "automation.preset",
	"download-dir": "browser.download_dir",
}

// load reads defaults, the config file, the environment and flags, in increasing precedence.
func (a *app) load(cmd *cobra.Command) error {
	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}

	observability.Initialize(cfg.Logger, consoleSyncer(cmd))
	a.v = v
	a.cfg = cfg
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded.", zap.String("config_file", v.ConfigFileUsed()), zap.String("version", Version))
	return nil
}

// Execute runs the root command with ctx and reports failures on stderr. The error is returned
// so main can pick the exit code.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
