package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/repos"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/ingest"
	"github.com/yungbote/modmon/internal/modules/process"
	"github.com/yungbote/modmon/internal/modules/storage"
	"github.com/yungbote/modmon/internal/observability"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
)

// maxVersionProbe bounds the search for an unused version string.
const maxVersionProbe = 1000

type RetrainResult struct {
	Skipped   bool
	DatasetID int64
	// RunID is the Result run recorded against the source version.
	RunID      int64
	NewVersion *types.ModelVersion
	Metrics    int
}

// Retrain retrains mv on the dataset params describe and registers the
// outcome as a new version, in one transaction. Without force it does
// nothing when mv already has Result rows for that dataset.
func (r *Registry) Retrain(ctx context.Context, mv *types.ModelVersion, params command.Params, force bool) (*RetrainResult, error) {
	ctx, span := observability.StartSpan(ctx, "registry.retrain", observability.ModelVersionAttrs(mv.ModelID, mv.Version)...)
	var res *RetrainResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = r.RetrainTx(dbctx.Context{Ctx: ctx, Tx: tx}, mv, params, force)
		return err
	})
	if err != nil && res != nil {
		r.discardStored(ctx, res.NewVersion)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RetrainTx is Retrain inside the caller's transaction. On error a non-nil
// result may still name a stored copy the caller should discard.
func (r *Registry) RetrainTx(dbc dbctx.Context, mv *types.ModelVersion, params command.Params, force bool) (*RetrainResult, error) {
	ctx := dbc.Context()
	log := r.log.With("model_id", mv.ModelID, "version", mv.Version)

	datasetID, err := r.repos.Dataset.ResolveOrCreate(dbc, repos.DatasetKey{
		Database: params.Database,
		Start:    params.Start,
		End:      params.End,
	})
	if err != nil {
		return nil, datasetErr("retrain dataset", err)
	}
	res := &RetrainResult{DatasetID: datasetID}
	log = log.With("dataset_id", datasetID)

	done, err := r.repos.Result.Exists(dbc, types.ResultResult, mv.ModelID, mv.Version, datasetID)
	if err != nil {
		return nil, storeErr("run ledger", err)
	}
	if done && !force {
		log.Info("model version already retrained on this dataset, skipping")
		res.Skipped = true
		return res, nil
	}

	scratch, cleanup, err := r.scratch()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	work := filepath.Join(scratch, mv.Identifier())
	if err := storage.CopyDir(mv.Location, work); err != nil {
		return nil, fmt.Errorf("copy %s to scratch: %w", mv.Location, err)
	}
	for _, name := range []string{ingest.ScoresFile, ingest.PredictionsFile, ingest.TrainingScoresFile} {
		if err := os.Remove(filepath.Join(work, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale output %s: %w", name, err)
		}
	}

	activation, err := r.envs.Provision(ctx, work, mv.ModelID, mv.Version, false)
	if err != nil {
		return nil, err
	}
	log.Info("retraining model version")
	if _, err := r.runner.RunTemplate(ctx, mv.RetrainCommand, params, process.Spec{Activation: activation, Dir: work}); err != nil {
		return nil, err
	}
	log.Info("scoring retrained model")
	scoresPath := filepath.Join(work, ingest.ScoresFile)
	if _, err := r.runner.RunTemplate(ctx, mv.ScoreCommand, params, process.Spec{Activation: activation, Dir: work, RemoveBefore: scoresPath}); err != nil {
		return nil, err
	}
	values, err := ingest.ReadMetrics(scoresPath)
	if err != nil {
		var missing *ingest.MissingOutputError
		if errors.As(err, &missing) {
			missing.Command = mv.ScoreCommand
		}
		return nil, err
	}

	version, err := r.nextFreeVersion(dbc, mv.ModelID, mv.Version)
	if err != nil {
		return nil, err
	}
	at := r.now().UTC()
	if err := UpdateMetadata(work, RetrainUpdates(version, at, params)); err != nil {
		return nil, err
	}
	setup, err := r.SetupTx(dbc, work, SetupOptions{})
	if err != nil {
		return nil, fmt.Errorf("register retrained version %s: %w", version, err)
	}
	res.NewVersion = setup.ModelVersion

	if res.RunID, err = r.repos.Result.NextRunID(dbc, types.ResultResult); err != nil {
		return res, storeErr("next run id", err)
	}
	key := repos.RunKey{
		ModelID:   mv.ModelID,
		Version:   mv.Version,
		DatasetID: datasetID,
		RunID:     res.RunID,
		RunTime:   at,
	}
	if err := r.ingest.InsertMetrics(dbc, types.ResultResult, key, values); err != nil {
		return res, err
	}
	res.Metrics = len(values)
	log.Info("model version retrained", "new_version", version, "run_id", res.RunID, "metrics", res.Metrics)
	return res, nil
}

// nextFreeVersion increments version until it names no registered version
// of modelID.
func (r *Registry) nextFreeVersion(dbc dbctx.Context, modelID int64, version string) (string, error) {
	next := version
	for i := 0; i < maxVersionProbe; i++ {
		var err error
		if next, err = IncrementVersion(next); err != nil {
			return "", err
		}
		existing, err := r.repos.ModelVersion.Get(dbc, modelID, next)
		if err != nil {
			return "", storeErr("model version", err)
		}
		if existing == nil {
			if i > 0 {
				r.log.Warn("incremented version already registered, using next free version", "model_id", modelID, "from", version, "version", next)
			}
			return next, nil
		}
	}
	return "", fmt.Errorf("%w: no free version after %s", ErrInvalidVersion, version)
}
