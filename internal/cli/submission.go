package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/modmon/internal/app"
	"github.com/yungbote/modmon/internal/modules/check"
	"github.com/yungbote/modmon/internal/modules/registry"
)

func newSetupCommand(o *rootOptions) *cobra.Command {
	var opts registry.SetupOptions
	cmd := &cobra.Command{
		Use:   "setup MODEL_DIR",
		Short: "Register a model directory as a new model version",
		Long: `Validates MODEL_DIR, copies it into model storage and records the team,
research question, model, version and the analyst's reference scores in one
transaction. Older versions of the model are deactivated unless
--keep-old-active is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := a.Services.Registry.Setup(ctx, args[0], opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				mv := res.ModelVersion
				fmt.Fprintf(out, "registered model %d version %s at %s\n", mv.ModelID, mv.Version, mv.Location)
				if res.TeamCreated {
					fmt.Fprintln(out, "  created team")
				}
				if res.ModelCreated {
					fmt.Fprintln(out, "  created model")
				}
				fmt.Fprintf(out, "  training dataset %d, test dataset %d\n", res.TrainingDatasetID, res.TestDatasetID)
				fmt.Fprintf(out, "  reference scores recorded as run %d\n", res.ReferenceRunID)
				if res.Deactivated > 0 {
					fmt.Fprintf(out, "  deactivated %d older version(s)\n", res.Deactivated)
				}
				if res.MirrorURI != "" {
					fmt.Fprintf(out, "  mirrored to %s\n", res.MirrorURI)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.RunChecks, "check", false, "Run the full submission checks first, including environment build and reproducibility")
	cmd.Flags().BoolVar(&opts.CreateEnvs, "create-envs", false, "Build the stored version's environment before committing")
	cmd.Flags().BoolVar(&opts.KeepOldActive, "keep-old-active", false, "Leave older versions of the model active")
	cmd.Flags().BoolVar(&opts.OverwriteStorage, "overwrite", false, "Replace a leftover storage directory for the same version")
	return cmd
}

func newCheckCommand(o *rootOptions) *cobra.Command {
	var (
		opts   check.Options
		window windowFlags
	)
	cmd := &cobra.Command{
		Use:   "check MODEL_DIR",
		Short: "Check that a model directory is ready to be registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := window.params(cmd)
			if err != nil {
				return err
			}
			opts.ReproParams = params
			return o.withApp(cmd, app.Options{OptionalStore: true}, func(ctx context.Context, a *app.App) error {
				report := a.Services.Check.Run(ctx, args[0], opts)
				if err := report.Write(cmd.OutOrStdout()); err != nil {
					return err
				}
				if !report.OK() {
					return &check.FailedError{Report: report}
				}
				return nil
			})
		},
	}
	window.register(cmd)
	cmd.Flags().BoolVar(&opts.CreateEnvs, "create-envs", false, "Build declared environments under a temporary name")
	cmd.Flags().BoolVar(&opts.Repro, "repro", false, "Rerun the score command and compare its output with scores.csv")
	return cmd
}

func newReproCommand(o *rootOptions) *cobra.Command {
	var window windowFlags
	cmd := &cobra.Command{
		Use:   "repro MODEL_DIR",
		Short: "Check that a model directory's score command reproduces its scores.csv",
		Long: `Reruns the score command of MODEL_DIR in a disposable copy with a fresh
environment and compares the new scores.csv with the original byte for byte.
The dataset defaults to the metadata window. MODEL_DIR is never modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := window.params(cmd)
			if err != nil {
				return err
			}
			return o.withApp(cmd, app.Options{OptionalStore: true}, func(ctx context.Context, a *app.App) error {
				report, err := a.Services.Repro.Check(ctx, args[0], params)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "command:   %s\n", report.Command)
				fmt.Fprintf(out, "reference: %s\n", report.ReferenceDigest)
				fmt.Fprintf(out, "fresh:     %s\n", report.FreshDigest)
				if !report.Reproducible {
					return fmt.Errorf("%s: scores are not reproducible", args[0])
				}
				fmt.Fprintln(out, "scores reproduced")
				return nil
			})
		},
	}
	window.register(cmd)
	return cmd
}
