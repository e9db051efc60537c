// Package cli holds the formview commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rpattn/formview/internal/config"
	"github.com/rpattn/formview/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	ConfigDir string

	viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Settings are read from flags, then
// FORMVIEW_* environment variables, then config.yaml in --config-dir.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: viper.New()}

	cmd := &cobra.Command{
		Use:   "formview",
		Short: "Compose and rank entries across form sources",
		Long: `formview composes records from several form sources into joined or
unioned views, then filters, searches, sorts, pages and ranks them.

Views are declared in YAML; records come from an in-memory store seeded from a
workbook, a SQLite file or PostgreSQL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				err := WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigDir, "config-dir", ".", "directory holding config.yaml")
	flags.String("log-level", "info", "log level (debug|info|warn|error|none)")
	flags.String("log-format", "text", "log format (text|json)")
	flags.String("views", "views.yaml", "view definitions file or directory")
	flags.String("store", config.EngineMemory, "record store engine (memory|sqlite|postgres)")
	flags.String("workbook", "", "xlsx or csv workbook imported into the store at startup")
	mustBindPFlag(opts.viper, "log.level", flags.Lookup("log-level"))
	mustBindPFlag(opts.viper, "log.format", flags.Lookup("log-format"))
	mustBindPFlag(opts.viper, "views.path", flags.Lookup("views"))
	mustBindPFlag(opts.viper, "store.engine", flags.Lookup("store"))
	mustBindPFlag(opts.viper, "store.workbook", flags.Lookup("workbook"))

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// loadConfig resolves the configuration with bound flags applied.
func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.LoadWith(o.viper, o.ConfigDir)
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// setup loads configuration and builds the logger, reporting failures through out.
func (o *RootOptions) setup(out *OutputFormatter) (config.Config, logger.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return config.Config{}, nil, out.fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if cfg.File != "" {
		out.VerboseLog("Using config file %s", cfg.File)
	}
	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, out.fail(ExitCommandError, ErrCodeConfig, "failed to build logger", err)
	}
	return cfg, log, nil
}

func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
