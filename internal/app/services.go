package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/repos"
	"github.com/yungbote/modmon/internal/modules/check"
	"github.com/yungbote/modmon/internal/modules/envs"
	"github.com/yungbote/modmon/internal/modules/ingest"
	"github.com/yungbote/modmon/internal/modules/process"
	"github.com/yungbote/modmon/internal/modules/registry"
	"github.com/yungbote/modmon/internal/modules/repro"
	"github.com/yungbote/modmon/internal/modules/runs"
	"github.com/yungbote/modmon/internal/modules/storage"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type Services struct {
	Store    *storage.Store
	Runner   *process.Runner
	Envs     *envs.Provisioner
	Ingest   *ingest.Ingestor
	Repro    *repro.Checker
	Check    *check.Checker
	Registry *registry.Registry
	Runs     *runs.Orchestrator
}

func wireServices(theDB *gorm.DB, log *logger.Logger, cfg *Config, reposet *repos.Set, mirror storage.Mirror, exec process.Executor) Services {
	log.Info("Wiring services...")

	var runnerOpts []process.Option
	if exec != nil {
		runnerOpts = append(runnerOpts, process.WithExecutor(exec))
	}
	runner := process.NewRunner(log, runnerOpts...)

	store := storage.NewStore(cfg.Storage.Store(), mirror, log)
	provisioner := envs.NewProvisioner(cfg.Envs.Provisioner(), runner, log)
	ingestor := ingest.NewIngestor(reposet.Metric, reposet.Result, log)
	reproChecker := repro.New(provisioner, runner, log, cfg.ScratchDir)
	checker := check.New(theDB, reposet, provisioner, reproChecker, log)
	reg := registry.New(theDB, log, reposet, store, provisioner, runner, ingestor,
		registry.WithChecker(checker),
		registry.WithScratchDir(cfg.ScratchDir),
	)
	orchestrator := runs.New(theDB, log, reposet, provisioner, runner, ingestor, reg)

	return Services{
		Store:    store,
		Runner:   runner,
		Envs:     provisioner,
		Ingest:   ingestor,
		Repro:    reproChecker,
		Check:    checker,
		Registry: reg,
		Runs:     orchestrator,
	}
}
