package runs

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

type BatchOptions struct {
	Params command.Params
	Force  bool
	// IncludeInactive runs every registered version, not only active ones.
	IncludeInactive bool
}

// VersionOutcome is one line of a batch summary.
type VersionOutcome struct {
	ModelID   int64
	Version   string
	DatasetID int64
	Outcome   Outcome
	RunID     int64
	Err       error
	ErrorKind apperr.Kind
}

type Summary struct {
	Kind     types.CommandKind
	Outcomes []VersionOutcome
}

func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, v := range s.Outcomes {
		if v.Outcome == o {
			n++
		}
	}
	return n
}

func (s *Summary) Failed() bool { return s.Count(OutcomeFailed) > 0 }

func (s *Summary) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "MODEL\tVERSION\tDATASET\tOUTCOME\tRUN\tERROR\n")
	for _, v := range s.Outcomes {
		errText := ""
		if v.Err != nil {
			errText = fmt.Sprintf("[%s] %v", v.ErrorKind, v.Err)
		}
		dataset, run := "-", "-"
		if v.DatasetID > 0 {
			dataset = fmt.Sprint(v.DatasetID)
		}
		if v.RunID > 0 {
			run = fmt.Sprint(v.RunID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", v.ModelID, v.Version, dataset, v.Outcome, run, errText)
	}
	fmt.Fprintf(tw, "\n%s: %d succeeded, %d skipped, %d failed\n",
		s.Kind, s.Count(OutcomeSucceeded), s.Count(OutcomeSkipped), s.Count(OutcomeFailed))
	return tw.Flush()
}

func (o *Orchestrator) ScoreAll(ctx context.Context, opts BatchOptions) (*Summary, error) {
	return o.RunAll(ctx, types.CommandScore, opts)
}

func (o *Orchestrator) PredictAll(ctx context.Context, opts BatchOptions) (*Summary, error) {
	return o.RunAll(ctx, types.CommandPredict, opts)
}

func (o *Orchestrator) RetrainAll(ctx context.Context, opts BatchOptions) (*Summary, error) {
	return o.RunAll(ctx, types.CommandRetrain, opts)
}

// RunAll runs kind for every selected version. A failing version is logged
// and recorded in the summary; the batch carries on. The error is non-nil
// only when versions cannot be listed or ctx is done.
func (o *Orchestrator) RunAll(ctx context.Context, kind types.CommandKind, opts BatchOptions) (*Summary, error) {
	versions, err := o.repos.ModelVersion.List(dbctx.Context{Ctx: ctx}, !opts.IncludeInactive)
	if err != nil {
		return nil, wrapStore("list model versions", err)
	}
	summary := &Summary{Kind: kind}
	if len(versions) == 0 {
		o.log.Warn("no model versions to run", "kind", kind, "include_inactive", opts.IncludeInactive)
		return summary, nil
	}
	for _, mv := range versions {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := o.Run(ctx, mv, kind, opts.Params, opts.Force)
		line := VersionOutcome{ModelID: mv.ModelID, Version: mv.Version}
		if res != nil {
			line.DatasetID = res.DatasetID
		}
		if err != nil {
			line.Outcome = OutcomeFailed
			line.Err = err
			line.ErrorKind = apperr.Classify(err)
			o.log.Error("model version run failed",
				"kind", kind,
				"model_id", mv.ModelID,
				"version", mv.Version,
				"dataset_id", line.DatasetID,
				"error_kind", line.ErrorKind,
				"error", err,
			)
		} else {
			line.Outcome = res.Outcome
			line.RunID = res.RunID
		}
		summary.Outcomes = append(summary.Outcomes, line)
	}
	o.log.Info("batch finished",
		"kind", kind,
		"succeeded", summary.Count(OutcomeSucceeded),
		"skipped", summary.Count(OutcomeSkipped),
		"failed", summary.Count(OutcomeFailed),
	)
	return summary, nil
}
