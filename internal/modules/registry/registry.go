package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/repos"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/envs"
	"github.com/yungbote/modmon/internal/modules/ingest"
	"github.com/yungbote/modmon/internal/modules/process"
	"github.com/yungbote/modmon/internal/modules/storage"
	"github.com/yungbote/modmon/internal/observability"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

// Checker runs the full submission checklist on a model directory.
type Checker interface {
	CheckSubmission(ctx context.Context, dir string) error
}

type SetupOptions struct {
	// RunChecks runs the Checker first and aborts on any failure.
	RunChecks bool
	// CreateEnvs builds the stored version's environment before commit.
	CreateEnvs bool
	// KeepOldActive leaves sibling versions active.
	KeepOldActive bool
	// OverwriteStorage replaces a stale storage directory for the same
	// (model, version) instead of failing.
	OverwriteStorage bool
}

type SetupResult struct {
	ModelVersion      *types.ModelVersion
	TeamCreated       bool
	ModelCreated      bool
	TrainingDatasetID int64
	TestDatasetID     int64
	ReferenceRunID    int64
	Deactivated       int64
	MirrorURI         string
}

type Registry struct {
	db         *gorm.DB
	repos      *repos.Set
	store      *storage.Store
	envs       *envs.Provisioner
	runner     *process.Runner
	ingest     *ingest.Ingestor
	checker    Checker
	log        *logger.Logger
	now        func() time.Time
	scratchDir string
}

type Option func(*Registry)

func WithChecker(c Checker) Option          { return func(r *Registry) { r.checker = c } }
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }
func WithScratchDir(dir string) Option      { return func(r *Registry) { r.scratchDir = dir } }

func New(
	db *gorm.DB,
	log *logger.Logger,
	repoSet *repos.Set,
	store *storage.Store,
	provisioner *envs.Provisioner,
	runner *process.Runner,
	ingestor *ingest.Ingestor,
	opts ...Option,
) *Registry {
	r := &Registry{
		db:     db,
		repos:  repoSet,
		store:  store,
		envs:   provisioner,
		runner: runner,
		ingest: ingestor,
		log:    log.With("component", "VersionRegistry"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Setup registers the model directory dir as a new version in its own
// transaction. Submission checks run before the transaction opens. The
// stored copy is removed if the transaction fails.
func (r *Registry) Setup(ctx context.Context, dir string, opts SetupOptions) (*SetupResult, error) {
	ctx, span := observability.StartSpan(ctx, "registry.setup")
	if opts.RunChecks && r.checker != nil {
		if err := r.checker.CheckSubmission(ctx, dir); err != nil {
			err = fmt.Errorf("submission checks failed: %w", err)
			observability.EndSpan(span, err)
			return nil, err
		}
	}
	var res *SetupResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = r.SetupTx(dbctx.Context{Ctx: ctx, Tx: tx}, dir, opts)
		return err
	})
	if err != nil && res != nil {
		r.discardStored(ctx, res.ModelVersion)
		res = nil
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetupTx registers dir inside the caller's transaction. It does not run
// submission checks. On error the stored copy is already removed and the
// caller rolls back.
func (r *Registry) SetupTx(dbc dbctx.Context, dir string, opts SetupOptions) (res *SetupResult, err error) {
	ctx := dbc.Context()
	md, err := ReadMetadata(dir)
	if err != nil {
		return nil, err
	}
	scores, err := ingest.ReadMetrics(filepath.Join(dir, ingest.ScoresFile))
	if err != nil {
		return nil, err
	}
	training, err := ingest.ReadMetrics(filepath.Join(dir, ingest.TrainingScoresFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		training = nil
	}
	for name, tmpl := range md.Commands() {
		if err := command.Validate(tmpl); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	window, err := md.Window()
	if err != nil {
		return nil, err
	}
	trainTime, err := md.TrainTime()
	if err != nil {
		return nil, err
	}
	runTime, err := md.RunTime()
	if err != nil {
		return nil, err
	}

	log := r.log.With("model_name", md.ModelName, "version", md.ModelVersion)
	res = &SetupResult{}

	team, created, err := r.repos.Team.FindOrCreate(dbc, &types.Team{
		Name:         md.Team,
		ContactName:  md.Contact,
		ContactEmail: md.ContactEmail,
		Description:  md.TeamDescription,
	})
	if err != nil {
		return nil, storeErr("team", err)
	}
	res.TeamCreated = created

	question, _, err := r.repos.Question.FindOrCreate(dbc, md.ResearchQuestion)
	if err != nil {
		return nil, storeErr("research question", err)
	}

	model, created, err := r.repos.Model.FindOrCreate(dbc, &types.Model{
		TeamName:    team.Name,
		QuestionID:  question.ID,
		Name:        md.ModelName,
		Description: md.ModelDescription,
	})
	if err != nil {
		return nil, storeErr("model", err)
	}
	res.ModelCreated = created

	existing, err := r.repos.ModelVersion.Get(dbc, model.ID, md.ModelVersion)
	if err != nil {
		return nil, storeErr("model version", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("model %q (id %d) version %s: %w", md.ModelName, model.ID, md.ModelVersion, apperr.ErrAlreadyExists)
	}

	res.TrainingDatasetID, _, err = r.repos.Dataset.ResolveOrCreateWithDescription(dbc, window, md.TrainingDataDescription)
	if err != nil {
		return nil, datasetErr("training dataset", err)
	}
	res.TestDatasetID, _, err = r.repos.Dataset.ResolveOrCreateWithDescription(dbc, window, md.TestDataDescription)
	if err != nil {
		return nil, datasetErr("test dataset", err)
	}

	stored, err := r.store.Put(ctx, dir, model.ID, md.ModelVersion, opts.OverwriteStorage)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rmErr := r.store.Remove(context.Background(), model.ID, md.ModelVersion); rmErr != nil {
				log.Warn("failed to remove stored copy", "path", stored.Path, "error", rmErr)
			}
			res = nil
		}
	}()
	res.MirrorURI = stored.MirrorURI

	mv := &types.ModelVersion{
		ModelID:           model.ID,
		Version:           md.ModelVersion,
		TrainingDatasetID: res.TrainingDatasetID,
		TestDatasetID:     res.TestDatasetID,
		Location:          stored.Path,
		ScoreCommand:      md.ScoreCommand,
		PredictCommand:    md.PredictCommand,
		RetrainCommand:    md.RetrainCommand,
		ModelTrainTime:    trainTime,
		Active:            true,
		ContentDigest:     stored.Digest,
		CreatedAt:         r.now().UTC(),
	}
	if err = r.repos.ModelVersion.Create(dbc, mv); err != nil {
		return nil, storeErr("model version", err)
	}
	res.ModelVersion = mv

	if !opts.KeepOldActive {
		if res.Deactivated, err = r.repos.ModelVersion.DeactivateOthers(dbc, model.ID, mv.Version); err != nil {
			return nil, storeErr("deactivate old versions", err)
		}
	}

	if res.ReferenceRunID, err = r.recordReference(dbc, mv, runTime, scores, training, log); err != nil {
		return nil, err
	}

	if opts.CreateEnvs {
		if _, err = r.envs.Provision(ctx, stored.Path, mv.ModelID, mv.Version, false); err != nil {
			return nil, err
		}
	}

	log.Info("model version registered",
		"model_id", mv.ModelID,
		"location", mv.Location,
		"training_dataset_id", mv.TrainingDatasetID,
		"test_dataset_id", mv.TestDatasetID,
		"run_id", res.ReferenceRunID,
		"deactivated", res.Deactivated,
	)
	return res, nil
}

// recordReference writes the analyst's scores against the test dataset and
// any training scores against the training dataset under one run id.
func (r *Registry) recordReference(dbc dbctx.Context, mv *types.ModelVersion, runTime time.Time, scores, training []repos.MetricValue, log *logger.Logger) (int64, error) {
	runID, err := r.repos.Result.NextRunID(dbc, types.ResultScore)
	if err != nil {
		return 0, storeErr("next run id", err)
	}
	key := repos.RunKey{
		ModelID:     mv.ModelID,
		Version:     mv.Version,
		DatasetID:   mv.TestDatasetID,
		RunID:       runID,
		RunTime:     runTime,
		IsReference: true,
	}
	if err := r.ingest.InsertMetrics(dbc, types.ResultScore, key, scores); err != nil {
		return 0, err
	}
	if len(training) == 0 {
		return runID, nil
	}
	if mv.TrainingDatasetID == mv.TestDatasetID {
		seen := make(map[string]bool, len(scores))
		for _, s := range scores {
			seen[s.Metric] = true
		}
		kept := training[:0:0]
		for _, t := range training {
			if seen[t.Metric] {
				log.Warn("training metric shares a key with a test metric, skipping", "metric", t.Metric, "dataset_id", mv.TestDatasetID)
				continue
			}
			kept = append(kept, t)
		}
		training = kept
		if len(training) == 0 {
			return runID, nil
		}
	}
	key.DatasetID = mv.TrainingDatasetID
	if err := r.ingest.InsertMetrics(dbc, types.ResultScore, key, training); err != nil {
		return 0, err
	}
	return runID, nil
}

func (r *Registry) discardStored(ctx context.Context, mv *types.ModelVersion) {
	if mv == nil {
		return
	}
	if err := r.store.Remove(ctx, mv.ModelID, mv.Version); err != nil {
		r.log.Warn("failed to remove stored copy after rollback", "model_id", mv.ModelID, "version", mv.Version, "error", err)
	}
}

// scratch makes a disposable working directory.
func (r *Registry) scratch() (string, func(), error) {
	dir, err := os.MkdirTemp(r.scratchDir, envs.TempPrefix+uuid.NewString()+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func storeErr(what string, err error) error {
	if errors.Is(err, apperr.ErrAlreadyExists) || errors.Is(err, apperr.ErrStore) || errors.Is(err, apperr.ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrStore, what, err)
}

func datasetErr(what string, err error) error {
	if errors.Is(err, repos.ErrNoIdentifyingFields) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return storeErr(what, err)
}
