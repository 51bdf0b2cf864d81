package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yungbote/modmon/internal/app"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/runs"
	"github.com/yungbote/modmon/internal/pkg/dates"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

var runShort = map[types.CommandKind]string{
	types.CommandScore:   "Score model versions on a dataset",
	types.CommandPredict: "Record predictions of model versions on a dataset",
	types.CommandRetrain: "Retrain model versions on a dataset and register the results as new versions",
}

// windowFlags are the dataset parameters substituted into command templates.
type windowFlags struct {
	start    string
	end      string
	database string
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.start, "start", "", "Dataset start date (2006-01-02 or RFC 3339)")
	cmd.Flags().StringVar(&w.end, "end", "", "Dataset end date (2006-01-02 or RFC 3339)")
	cmd.Flags().StringVar(&w.database, "database", "", "Dataset database name")
}

func (w *windowFlags) params(cmd *cobra.Command) (command.Params, error) {
	var p command.Params
	var err error
	if p.Start, err = dates.ParseOptional(w.start); err != nil {
		return p, fmt.Errorf("--start: %w", err)
	}
	if p.End, err = dates.ParseOptional(w.end); err != nil {
		return p, fmt.Errorf("--end: %w", err)
	}
	if cmd.Flags().Changed("database") {
		database := w.database
		p.Database = &database
	}
	return p, nil
}

func newRunCommand(o *rootOptions, kind types.CommandKind) *cobra.Command {
	var (
		window   windowFlags
		force    bool
		inactive bool
		modelID  int64
		version  string
	)
	cmd := &cobra.Command{
		Use:   kind.String(),
		Short: runShort[kind],
		Long: fmt.Sprintf(`Runs the %[1]s command of every active model version (or one version with
--model and --model-version) on the dataset given by --start, --end and
--database. A version that already has %[1]s results for the dataset is skipped
unless --force is set. Each version is one unit of work: a failure rolls that
version back and the batch carries on.`, kind),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := window.params(cmd)
			if err != nil {
				return err
			}
			if (modelID > 0) != (version != "") {
				return fmt.Errorf("%w: --model and --model-version go together", apperr.ErrInvalidArgument)
			}
			return o.withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if modelID > 0 {
					return runOne(ctx, out, a, kind, modelID, version, params, force)
				}
				summary, err := a.Services.Runs.RunAll(ctx, kind, runs.BatchOptions{
					Params:          params,
					Force:           force,
					IncludeInactive: inactive,
				})
				if summary != nil {
					if werr := summary.Write(out); werr != nil && err == nil {
						err = werr
					}
				}
				if err != nil {
					return err
				}
				if summary.Failed() {
					return fmt.Errorf("%s: %d of %d model versions failed", kind, summary.Count(runs.OutcomeFailed), len(summary.Outcomes))
				}
				return nil
			})
		},
	}
	window.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "Run even when results already exist for the dataset")
	cmd.Flags().BoolVar(&inactive, "run-inactive", false, "Include inactive model versions")
	cmd.Flags().Int64Var(&modelID, "model", 0, "Run only this model id")
	cmd.Flags().StringVar(&version, "model-version", "", "Version of --model to run")
	return cmd
}

func runOne(ctx context.Context, out io.Writer, a *app.App, kind types.CommandKind, modelID int64, version string, params command.Params, force bool) error {
	mv, err := a.Repos.ModelVersion.Get(dbctx.Context{Ctx: ctx}, modelID, version)
	if err != nil {
		return fmt.Errorf("%w: model version: %v", apperr.ErrStore, err)
	}
	if mv == nil {
		return fmt.Errorf("model %d version %s: %w", modelID, version, apperr.ErrNotFound)
	}
	res, err := a.Services.Runs.Run(ctx, mv, kind, params, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s model %d version %s: %s (dataset %d", kind, modelID, version, res.Outcome, res.DatasetID)
	if res.RunID > 0 {
		fmt.Fprintf(out, ", run %d", res.RunID)
	}
	if res.NewVersion != "" {
		fmt.Fprintf(out, ", new version %s", res.NewVersion)
	}
	fmt.Fprintln(out, ")")
	return nil
}
