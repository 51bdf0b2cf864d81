package runs

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/repos"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/domain/results"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/envs"
	"github.com/yungbote/modmon/internal/modules/ingest"
	"github.com/yungbote/modmon/internal/modules/process"
	"github.com/yungbote/modmon/internal/modules/registry"
	"github.com/yungbote/modmon/internal/observability"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// RunResult describes one model version run against one dataset.
type RunResult struct {
	ModelID   int64
	Version   string
	Kind      types.CommandKind
	DatasetID int64
	RunID     int64
	Outcome   Outcome
	Rows      int
	// NewVersion is set by a retrain that registered a version.
	NewVersion string
}

type Orchestrator struct {
	db       *gorm.DB
	repos    *repos.Set
	envs     *envs.Provisioner
	runner   *process.Runner
	ingest   *ingest.Ingestor
	registry *registry.Registry
	log      *logger.Logger
	now      func() time.Time
}

func New(
	db *gorm.DB,
	log *logger.Logger,
	repoSet *repos.Set,
	provisioner *envs.Provisioner,
	runner *process.Runner,
	ingestor *ingest.Ingestor,
	reg *registry.Registry,
) *Orchestrator {
	return &Orchestrator{
		db:       db,
		repos:    repoSet,
		envs:     provisioner,
		runner:   runner,
		ingest:   ingestor,
		registry: reg,
		log:      log.With("component", "RunOrchestrator"),
		now:      time.Now,
	}
}

// SetClock replaces the source of run timestamps.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Run executes kind for mv on the dataset params describe, as one unit of
// work. Without force a dataset that already has rows of the matching
// result kind is skipped. Retrain is delegated to the registry. Failures
// roll the unit back and are logged with the dataset attempted.
func (o *Orchestrator) Run(ctx context.Context, mv *types.ModelVersion, kind types.CommandKind, params command.Params, force bool) (*RunResult, error) {
	if kind == types.CommandRetrain {
		return o.retrain(ctx, mv, params, force)
	}
	ctx, span := observability.StartSpan(ctx, "runs."+kind.String(), append(
		observability.ModelVersionAttrs(mv.ModelID, mv.Version),
		attribute.Bool("modmon.force", force),
	)...)
	var res *RunResult
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = o.RunTx(dbctx.Context{Ctx: ctx, Tx: tx}, mv, kind, params, force)
		return err
	})
	observability.EndSpan(span, err)
	if err != nil {
		var datasetID int64
		if res != nil {
			datasetID = res.DatasetID
		}
		o.log.Error("run failed", "kind", kind, "model_id", mv.ModelID, "version", mv.Version, "dataset_id", datasetID, "error", err)
	}
	return res, err
}

// RunTx is Run inside the caller's transaction. On error the result, when
// non-nil, names the dataset that was attempted.
func (o *Orchestrator) RunTx(dbc dbctx.Context, mv *types.ModelVersion, kind types.CommandKind, params command.Params, force bool) (*RunResult, error) {
	ctx := dbc.Context()
	resultKind, err := results.ForCommand(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
	}
	tmpl := mv.Command(kind)
	res := &RunResult{ModelID: mv.ModelID, Version: mv.Version, Kind: kind}
	log := o.log.With("kind", kind, "model_id", mv.ModelID, "version", mv.Version)

	res.DatasetID, err = o.repos.Dataset.ResolveOrCreate(dbc, repos.DatasetKey{
		Database: params.Database,
		Start:    params.Start,
		End:      params.End,
	})
	if err != nil {
		return res, wrapStore("resolve dataset", err)
	}
	log = log.With("dataset_id", res.DatasetID)

	done, err := o.repos.Result.Exists(dbc, resultKind, mv.ModelID, mv.Version, res.DatasetID)
	if err != nil {
		return res, wrapStore("run ledger", err)
	}
	if done && !force {
		log.Info("results already recorded for this dataset, skipping")
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	activation, err := o.envs.Provision(ctx, mv.Location, mv.ModelID, mv.Version, false)
	if err != nil {
		return res, err
	}
	output := filepath.Join(mv.Location, ingest.OutputFile(kind))
	runTime := o.now().UTC()
	if _, err := o.runner.RunTemplate(ctx, tmpl, params, process.Spec{
		Activation:   activation,
		Dir:          mv.Location,
		RemoveBefore: output,
	}); err != nil {
		return res, err
	}

	if res.RunID, err = o.repos.Result.NextRunID(dbc, resultKind); err != nil {
		return res, wrapStore("next run id", err)
	}
	key := repos.RunKey{
		ModelID:   mv.ModelID,
		Version:   mv.Version,
		DatasetID: res.DatasetID,
		RunID:     res.RunID,
		RunTime:   runTime,
	}
	if res.Rows, err = o.ingest.Ingest(dbc, resultKind, key, output, tmpl); err != nil {
		return res, err
	}
	res.Outcome = OutcomeSucceeded
	log.Info("run recorded", "run_id", res.RunID, "rows", res.Rows)
	return res, nil
}

func (o *Orchestrator) retrain(ctx context.Context, mv *types.ModelVersion, params command.Params, force bool) (*RunResult, error) {
	if o.registry == nil {
		return nil, fmt.Errorf("%w: retrain needs a version registry", apperr.ErrInvalidArgument)
	}
	rr, err := o.registry.Retrain(ctx, mv, params, force)
	if err != nil {
		return nil, err
	}
	res := &RunResult{
		ModelID:   mv.ModelID,
		Version:   mv.Version,
		Kind:      types.CommandRetrain,
		DatasetID: rr.DatasetID,
		RunID:     rr.RunID,
		Rows:      rr.Metrics,
		Outcome:   OutcomeSucceeded,
	}
	if rr.Skipped {
		res.Outcome = OutcomeSkipped
	}
	if rr.NewVersion != nil {
		res.NewVersion = rr.NewVersion.Version
	}
	return res, nil
}

func wrapStore(what string, err error) error {
	if apperr.Classify(err) != apperr.KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrStore, what, err)
}
