// Command quizimport imports question pools and glossaries from the shell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/quizimport/internal/config"
	"github.com/JonMunkholm/quizimport/internal/core"
	_ "github.com/JonMunkholm/quizimport/internal/core/schemas" // Register record types
	"github.com/JonMunkholm/quizimport/internal/logging"
	"github.com/JonMunkholm/quizimport/internal/store/backend"
)

type globalOptions struct {
	logLevel string
	sqlite   string
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "quizimport",
		Short:         "Bulk-import quiz records with conflict review",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			// stdout carries the report
			logging.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.sqlite, "sqlite", "", "Use the SQLite database at this path instead of STORE_DRIVER")

	cmd.AddCommand(newImportCmd(&opts))
	cmd.AddCommand(newSchemasCmd())
	return cmd
}

// loadConfig reads the environment, with --sqlite taking precedence over the
// store settings.
func loadConfig(g *globalOptions) (*config.Config, error) {
	lookup := os.LookupEnv
	if g.sqlite != "" {
		lookup = func(name string) (string, bool) {
			switch name {
			case "STORE_DRIVER":
				return config.DriverSQLite, true
			case "SQLITE_PATH":
				return g.sqlite, true
			}
			return os.LookupEnv(name)
		}
	}
	return config.LoadFrom(lookup)
}

func openStore(ctx context.Context, g *globalOptions) (backend.Store, *config.Config, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}
	st, err := backend.Open(ctx, cfg.Database, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if core.IsUserFacing(err) {
			msg := core.MapError(err)
			fmt.Fprintf(os.Stderr, "%s (%s)\n", msg.Action, msg.Code)
		}
		os.Exit(1)
	}
}
