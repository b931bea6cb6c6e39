package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-scm-requisitions/internal/config"
	"github.com/pesio-ai/be-scm-requisitions/internal/database"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/repository"
	"github.com/pesio-ai/be-scm-requisitions/internal/seed"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

var version = "dev"

type cli struct {
	out     io.Writer
	cfgFile string
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "reqctl",
		Short:         "Administer the requisitions service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", os.Getenv("REQ_CONFIG_FILE"),
		"config file (default: environment and built-in defaults)")

	root.AddCommand(c.migrateCmd(), c.seedCmd(), c.categoriesCmd())
	return root
}

func (c *cli) load() (*config.Config, error) {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("reqctl needs database.driver=postgres, got %q", cfg.Database.Driver)
	}
	return cfg, nil
}

func (c *cli) logger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Environment: "development",
		ServiceName: "reqctl",
		Version:     version,
		Output:      os.Stderr,
	})
}

func (c *cli) withStore(ctx context.Context, fn func(store repository.Store, log *logger.Logger) error) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	db, err := database.New(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(repository.NewPostgresStore(db), c.logger(cfg))
}

// ── migrate ──────────────────────────────────────────────────────────────────

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if err := database.MigrateDown(database.ConfigFrom(cfg.Database), steps); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := c.load()
				if err != nil {
					return err
				}
				if err := database.MigrateUp(database.ConfigFrom(cfg.Database)); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "migrations applied")
				return nil
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := c.load()
				if err != nil {
					return err
				}
				v, dirty, err := database.MigrationVersion(database.ConfigFrom(cfg.Database))
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "version %d (dirty: %t)\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}

// ── seed ─────────────────────────────────────────────────────────────────────

func (c *cli) seedCmd() *cobra.Command {
	var (
		file   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish the reference categories",
		Long: `Publish requisition categories to the database.

Without --file the embedded reference categories are used. Categories whose
current version already matches are left untouched; changed categories get a
new version, so requisitions already submitted keep their bound steps.

Examples:
  # Publish the reference categories
  reqctl seed

  # Validate a custom fixture without touching the database
  reqctl seed --file categories.yaml --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := readDefinitions(file)
			if err != nil {
				return err
			}
			if dryRun {
				for _, def := range defs {
					fmt.Fprintf(c.out, "%s\t%d steps\t%s\n", def.CategoryCode, len(def.Steps), def.ExecutionDepartment)
				}
				fmt.Fprintf(c.out, "%d categories valid\n", len(defs))
				return nil
			}

			return c.withStore(cmd.Context(), func(store repository.Store, log *logger.Logger) error {
				res, err := seed.Apply(cmd.Context(), store, defs, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "published %d, unchanged %d\n", len(res.Published), len(res.Unchanged))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "category fixture (default: embedded reference categories)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only")
	return cmd
}

func readDefinitions(file string) ([]*workflow.CategoryWorkflowDefinition, error) {
	if file == "" {
		return seed.Reference()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return seed.Parse(data)
}

// ── categories ───────────────────────────────────────────────────────────────

func (c *cli) categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Inspect published categories",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the current version of every category as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withStore(cmd.Context(), func(store repository.Store, _ *logger.Logger) error {
					defs, err := store.ListCurrentDefinitions(cmd.Context())
					if err != nil {
						return err
					}
					return c.printJSON(defs)
				})
			},
		},
		&cobra.Command{
			Use:   "show CODE",
			Short: "Print the current version of one category as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withStore(cmd.Context(), func(store repository.Store, _ *logger.Logger) error {
					def, err := store.GetCurrentDefinition(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return c.printJSON(def)
				})
			},
		},
	)
	return cmd
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
