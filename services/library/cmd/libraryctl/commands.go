package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/animetrack/internal/platform/logging"
	"github.com/example/animetrack/internal/platform/migrate"
	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/app"
	libcfg "github.com/example/animetrack/services/library/internal/config"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/reconcile"
	"github.com/example/animetrack/services/library/internal/store"
)

type rootFlags struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Operate the media library from the command line",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSearchCmd(f),
		newImportCmd(f),
		newCompareCmd(f),
		newMergeCmd(f),
		newMigrateCmd(f),
	)
	return cmd
}

// withApp loads the library config from the environment, wires the
// components, calls fn and releases them afterwards.
func withApp(cmd *cobra.Command, f *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := libcfg.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(f.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Build(ctx, app.Options{Config: cfg, Name: "libraryctl", Log: log})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSearchCmd(f *rootFlags) *cobra.Command {
	var characters bool
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search the catalog for media or characters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				if characters {
					found, err := a.Catalog.SearchCharacters(ctx, text)
					if err != nil {
						return err
					}
					for _, c := range found {
						fmt.Fprintf(cmd.OutOrStdout(), "%8d  %s\n", c.ExternalID, c.Name)
					}
					return nil
				}
				found, err := a.Catalog.SearchByTitle(ctx, text)
				if err != nil {
					return err
				}
				if len(found) == 0 {
					cmd.Println("No results.")
					return nil
				}
				for _, c := range found {
					fmt.Fprintf(cmd.OutOrStdout(), "%8d  %-5s  %-8s  %s\n", c.ExternalID, c.Kind, c.Format, anilist.BestTitle(c.Titles))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&characters, "characters", false, "Search characters instead of media")
	return cmd
}

func parseMediaArgs(args []string) (domain.Kind, string, error) {
	kind, err := domain.ParseMediaKind(args[0])
	if err != nil {
		return "", "", err
	}
	return kind, strings.TrimSpace(args[1]), nil
}

func newImportCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import [anime|manga] [external_id]",
		Short: "Import a catalog media with its relations and characters",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, raw, err := parseMediaArgs(args)
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				return fmt.Errorf("external_id must be a positive integer, got %q", raw)
			}
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				res, err := a.Importer.Import(ctx, kind, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func newCompareCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compare [anime|manga] [id]",
		Short: "Compare a local media with its catalog counterpart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseMediaArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				d, err := a.Reconcile.Compare(ctx, kind, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, d)
			})
		},
	}
}

func newMergeCmd(f *rootFlags) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "merge [anime|manga] [id]",
		Short: "Overwrite selected field groups with the catalog values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseMediaArgs(args)
			if err != nil {
				return err
			}
			groups, err := reconcile.ParseFieldGroups(fields)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				return reconcile.ErrNoGroups
			}
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				m, err := a.Reconcile.Apply(ctx, kind, id, groups)
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			})
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Field groups to merge (releaseData, lengths, genres)")
	return cmd
}

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := libcfg.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			log, err := logging.New(f.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := migrate.Up(cfg.DatabaseURL, store.Migrations, store.MigrationsDir, log.With(zap.String("cmd", "migrate"))); err != nil {
				return err
			}
			cmd.Println("Migrations applied.")
			return nil
		},
	}
}
