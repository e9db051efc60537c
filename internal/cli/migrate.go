package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rpattn/formview/internal/db"
)

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	Direction string `json:"direction"`
	Version   uint   `json:"version"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply the PostgreSQL record store schema",
		Long: `Apply (up, the default) or roll back (down) the embedded record store
migrations against the database configured in the database section.`,
		Args:          cobra.MaximumNArgs(1),
		ValidArgs:     []string{string(db.MigrateUp), string(db.MigrateDown)},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := db.MigrateUp
			if len(args) == 1 {
				direction = db.MigrationDirection(args[0])
			}
			return runMigrate(cmd, rootOpts, direction)
		},
	}
	return cmd
}

func runMigrate(cmd *cobra.Command, rootOpts *RootOptions, direction db.MigrationDirection) error {
	out := rootOpts.formatter(cmd)
	if direction != db.MigrateUp && direction != db.MigrateDown {
		return out.fail(ExitCommandError, ErrCodeMigrate, fmt.Sprintf("unknown direction %q", direction), nil)
	}

	cfg, _, err := rootOpts.setup(out)
	if err != nil {
		return err
	}

	out.VerboseLog("Migrating %s on %s:%d/%s", direction, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
	version, err := db.RunMigrations(cfg.Database, direction)
	if err != nil {
		return out.fail(ExitFailure, ErrCodeMigrate, "migration failed", err)
	}

	result := MigrateResult{Direction: string(direction), Version: version}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Migrated %s, schema version %d\n", direction, version)
	})
}
