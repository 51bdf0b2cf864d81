package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yungbote/modmon/internal/app"
	"github.com/yungbote/modmon/internal/data/db"
	"github.com/yungbote/modmon/internal/modules/envs"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

func newDBCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the results store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, app.Options{Migrate: true}, func(context.Context, *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check the store connection and list its tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, app.Options{OptionalStore: true}, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if ok, err := db.CheckConnection(ctx, a.DB); !ok {
					fmt.Fprintf(out, "connection: failed (%v)\n", err)
					return fmt.Errorf("%w: connection check failed: %v", apperr.ErrStore, err)
				}
				fmt.Fprintln(out, "connection: ok")
				tables, err := db.Tables(ctx, a.DB)
				if err != nil {
					return fmt.Errorf("%w: %v", apperr.ErrStore, err)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TABLE\tEXISTS\tROWS")
				for _, t := range tables {
					rows := "-"
					if t.Exists {
						rows = fmt.Sprint(t.Rows)
					}
					fmt.Fprintf(tw, "%s\t%v\t%s\n", t.Name, t.Exists, rows)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func newStorageCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage stored model directories",
	}
	var (
		modelID int64
		version string
		all     bool
	)
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete stored model directories and their mirrored copies",
		Long: `Deletes the stored directory of one model version (--model and
--model-version) or of every version (--all). Store rows are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (modelID > 0) || (modelID > 0) != (version != "") {
				return fmt.Errorf("%w: give either --all or --model with --model-version", apperr.ErrInvalidArgument)
			}
			return o.withApp(cmd, app.Options{OptionalStore: true}, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if all {
					removed, err := a.Services.Store.RemoveAll(ctx)
					for _, name := range removed {
						fmt.Fprintf(out, "deleted %s\n", name)
					}
					return err
				}
				if err := a.Services.Store.Remove(ctx, modelID, version); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted %s\n", a.Services.Store.Path(modelID, version))
				return nil
			})
		},
	}
	deleteCmd.Flags().Int64Var(&modelID, "model", 0, "Model id")
	deleteCmd.Flags().StringVar(&version, "model-version", "", "Version of --model")
	deleteCmd.Flags().BoolVar(&all, "all", false, "Delete every stored model version")
	cmd.AddCommand(deleteCmd)
	return cmd
}

func newEnvsCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envs",
		Short: "Manage conda environments created by modmon",
	}
	var sel envs.Cleanup
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove conda environments created by modmon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !sel.Models && !sel.R && !sel.Temporary {
				return fmt.Errorf("%w: select at least one of --models, --r, --tmp", apperr.ErrInvalidArgument)
			}
			return o.withApp(cmd, app.Options{OptionalStore: true}, func(ctx context.Context, a *app.App) error {
				removed, err := a.Services.Envs.RemoveManaged(ctx, sel)
				for _, name := range removed {
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
				}
				return err
			})
		},
	}
	cleanCmd.Flags().BoolVar(&sel.Models, "models", false, "Remove model version environments")
	cleanCmd.Flags().BoolVar(&sel.R, "r", false, "Remove environments that pin an R version")
	cleanCmd.Flags().BoolVar(&sel.Temporary, "tmp", false, "Remove environments left by checks")
	cmd.AddCommand(cleanCmd)
	return cmd
}
