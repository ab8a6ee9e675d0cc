package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/helixml/vecsync"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/log"
)

// withClient loads config, opens a client and runs fn with it.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client *vecsync.Client) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.NewLoggerWithWriter(cmd.ErrOrStderr(), cfg.LogFormat(), cfg.LogLevel()).Slog()

	client, closeClient, err := openClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	return fn(cmd.Context(), client)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid vectorizer id %q", arg)
	}
	return id, nil
}

func createCmd() *cobra.Command {
	var (
		file         string
		ifNotExists  bool
		skipBackfill bool
	)

	cmd := &cobra.Command{
		Use:   "create -f definition.yaml",
		Short: "Create a vectorizer from a YAML or JSON definition",
		Long: `Create a vectorizer from a YAML or JSON definition. Use -f - to read stdin.

The source table is validated, the queue, store table, view and capture
triggers are created in one transaction, and existing rows are queued unless
skip_backfill is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readDefinition(cmd, file)
			if err != nil {
				return err
			}
			def, err := vectorizer.ParseDefinition(data)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("if-not-exists") {
				def.IfNotExists = ifNotExists
			}
			if cmd.Flags().Changed("skip-backfill") {
				def.SkipBackfill = skipBackfill
			}

			return withClient(cmd, func(ctx context.Context, client *vecsync.Client) error {
				v, err := client.Vectorizers().Create(ctx, def)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "vectorizer %d %s: %s -> %s\n", v.ID(), v.Name(), v.SourceTable(), v.ViewName())
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Definition file, or - for stdin")
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "Succeed without changes when the name is taken")
	cmd.Flags().BoolVar(&skipBackfill, "skip-backfill", false, "Do not queue existing rows")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readDefinition(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return data, nil
}

func dropCmd() *cobra.Command {
	var dropAll bool

	cmd := &cobra.Command{
		Use:   "drop ID",
		Short: "Drop a vectorizer's triggers and queue",
		Long: `Drop a vectorizer's capture triggers, queue and catalog entry. The store
table and view are kept unless --drop-all is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *vecsync.Client) error {
				if err := client.Vectorizers().Drop(ctx, id, dropAll); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "vectorizer %d dropped\n", id)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dropAll, "drop-all", false, "Also drop the store table and view")

	return cmd
}

// stateCmd builds a command that applies one catalog state change.
func stateCmd(use, short, verb string, apply func(ctx context.Context, client *vecsync.Client, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *vecsync.Client) error {
				if err := apply(ctx, client, id); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "vectorizer %d %s\n", id, verb)
				return err
			})
		},
	}
}

func enableCmd() *cobra.Command {
	return stateCmd("enable", "Resume processing and scheduled jobs for a vectorizer", "enabled",
		func(ctx context.Context, client *vecsync.Client, id int64) error {
			_, err := client.Vectorizers().Enable(ctx, id)
			return err
		})
}

func disableCmd() *cobra.Command {
	return stateCmd("disable", "Stop workers from processing a vectorizer; changes keep queueing", "disabled",
		func(ctx context.Context, client *vecsync.Client, id int64) error {
			_, err := client.Vectorizers().Disable(ctx, id)
			return err
		})
}

func recoverCmd() *cobra.Command {
	return stateCmd("recover", "Clear a vectorizer's failure after fixing its configuration", "recovered",
		func(ctx context.Context, client *vecsync.Client, id int64) error {
			_, err := client.Vectorizers().Recover(ctx, id)
			return err
		})
}

func requeueCmd() *cobra.Command {
	return stateCmd("requeue", "Queue every source row of a vectorizer again", "requeued",
		func(ctx context.Context, client *vecsync.Client, id int64) error {
			return client.Vectorizers().Requeue(ctx, id)
		})
}

func statusCmd() *cobra.Command {
	var exact bool

	cmd := &cobra.Command{
		Use:   "status [ID]",
		Short: "Show pending queue items and stored records",
		Long: `Show pending queue items and stored records for one or all vectorizers.
Pending counts stop at a cap and are shown with a + unless --exact is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				var err error
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			}
			return withClient(cmd, func(ctx context.Context, client *vecsync.Client) error {
				if id != 0 {
					st, err := client.Status().Describe(ctx, id, exact)
					if err != nil {
						return err
					}
					return printStatus(cmd.OutOrStdout(), st)
				}
				all, err := client.Status().All(ctx, exact)
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), all...)
			})
		},
	}

	cmd.Flags().BoolVar(&exact, "exact", false, "Count the whole queue")

	return cmd
}

func errorsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "errors ID",
		Short: "Show a vectorizer's most recent errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *vecsync.Client) error {
				records, err := client.Vectorizers().Errors(ctx, id, limit)
				if err != nil {
					return err
				}
				return printErrors(cmd.OutOrStdout(), records, asJSON)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON lines with their details")

	return cmd
}
