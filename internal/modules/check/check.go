package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/db"
	"github.com/yungbote/modmon/internal/data/repos"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/modules/envs"
	"github.com/yungbote/modmon/internal/modules/ingest"
	"github.com/yungbote/modmon/internal/modules/registry"
	"github.com/yungbote/modmon/internal/modules/repro"
	"github.com/yungbote/modmon/internal/pkg/dates"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusWarn Status = "warn"
	StatusInfo Status = "info"
)

func (s Status) mark() string {
	switch s {
	case StatusPass:
		return "[✓]"
	case StatusFail:
		return "[x]"
	case StatusWarn:
		return "[!]"
	default:
		return "[ ]"
	}
}

// Result is the outcome of one check.
type Result struct {
	Area    string
	Status  Status
	Message string
}

type Report struct {
	Dir     string
	Results []Result
}

func (r *Report) add(area string, status Status, format string, args ...any) {
	r.Results = append(r.Results, Result{Area: area, Status: status, Message: fmt.Sprintf(format, args...)})
}

// OK reports whether no check failed. Warnings do not count.
func (r *Report) OK() bool { return len(r.Failures()) == 0 }

func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusFail {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) Write(w io.Writer) error {
	for _, res := range r.Results {
		if _, err := fmt.Fprintf(w, "%s %s: %s\n", res.Status.mark(), res.Area, res.Message); err != nil {
			return err
		}
	}
	return nil
}

// FailedError is returned by CheckSubmission when any check fails.
type FailedError struct {
	Report *Report
}

func (e *FailedError) Error() string {
	msgs := make([]string, 0, len(e.Report.Failures()))
	for _, f := range e.Report.Failures() {
		msgs = append(msgs, f.Area+": "+f.Message)
	}
	return fmt.Sprintf("%s failed %d check(s): %s", e.Report.Dir, len(msgs), strings.Join(msgs, "; "))
}

func (e *FailedError) Unwrap() error { return apperr.ErrConfiguration }

type Options struct {
	// CreateEnvs builds any declared environment under a temporary name.
	CreateEnvs bool
	// Repro reruns the score command and compares its output.
	Repro bool
	// ReproParams override the metadata window for the repro run.
	ReproParams command.Params
}

type Checker struct {
	db    *gorm.DB
	repos *repos.Set
	envs  *envs.Provisioner
	repro *repro.Checker
	log   *logger.Logger
}

func New(db *gorm.DB, repoSet *repos.Set, provisioner *envs.Provisioner, reproChecker *repro.Checker, baseLog *logger.Logger) *Checker {
	return &Checker{
		db:    db,
		repos: repoSet,
		envs:  provisioner,
		repro: reproChecker,
		log:   baseLog.With("component", "SubmissionChecker"),
	}
}

// CheckSubmission runs every check, environment creation and the repro pass
// included, and returns a *FailedError if any fails.
func (c *Checker) CheckSubmission(ctx context.Context, dir string) error {
	report := c.Run(ctx, dir, Options{CreateEnvs: true, Repro: true})
	if !report.OK() {
		return &FailedError{Report: report}
	}
	return nil
}

// Run performs the checks in order. Each check is independent; a failure
// never stops the ones after it.
func (c *Checker) Run(ctx context.Context, dir string, opts Options) *Report {
	report := &Report{Dir: dir}
	report.add("Checks", StatusInfo, "checking %s", dir)

	raw := c.checkMetadataFile(report, dir)
	if raw != nil {
		checkMetadataKeys(report, raw)
		checkMetadataValues(report, raw)
		c.checkStore(ctx, report, raw)
	}
	checkMetricsFile(report, filepath.Join(dir, ingest.ScoresFile), true)
	checkMetricsFile(report, filepath.Join(dir, ingest.TrainingScoresFile), false)
	c.checkEnvironment(ctx, report, dir, opts.CreateEnvs)
	if opts.Repro {
		c.checkRepro(ctx, report, dir, opts.ReproParams)
	}
	if report.OK() {
		c.log.Info("submission checks passed", "dir", dir)
	} else {
		c.log.Warn("submission checks failed", "dir", dir, "failures", len(report.Failures()))
	}
	return report
}

func (c *Checker) checkMetadataFile(report *Report, dir string) map[string]json.RawMessage {
	b, err := os.ReadFile(filepath.Join(dir, registry.MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			report.add("Metadata", StatusFail, "file not found")
		} else {
			report.add("Metadata", StatusFail, "cannot read file: %v", err)
		}
		return nil
	}
	report.add("Metadata", StatusPass, "file exists")
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil || raw == nil {
		if err == nil {
			err = errors.New("not a JSON object")
		}
		report.add("Metadata", StatusFail, "JSON error - %v", err)
		return nil
	}
	return raw
}

func checkMetadataKeys(report *Report, raw map[string]json.RawMessage) {
	missing := registry.MissingKeys(raw)
	var optional []string
	for _, k := range registry.OptionalKeys {
		if _, ok := raw[k]; !ok {
			optional = append(optional, k)
		}
	}
	if len(missing) == 0 && len(optional) == 0 {
		report.add("Metadata", StatusPass, "all keys present")
		return
	}
	if len(missing) > 0 {
		report.add("Metadata", StatusFail, "missing required keys - %s", strings.Join(missing, ", "))
	}
	if len(optional) > 0 {
		report.add("Metadata", StatusWarn, "missing optional keys - %s", strings.Join(optional, ", "))
	}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var (
	dateKeys     = []string{"data_window_start", "data_window_end", "model_train_datetime", "model_run_datetime"}
	nonEmptyKeys = []string{"team", "contact", "research_question", "model_name", "model_version", "db_name"}
	commandKeys  = []string{"score_command", "predict_command", "retrain_command"}
)

func checkMetadataValues(report *Report, raw map[string]json.RawMessage) {
	var invalid []string
	str := func(k string) (string, bool) {
		v, ok := raw[k]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			invalid = append(invalid, k)
			return "", false
		}
		return s, true
	}

	if s, ok := str("contact_email"); ok && !emailPattern.MatchString(strings.TrimSpace(s)) {
		invalid = append(invalid, "contact_email")
	}
	for _, k := range dateKeys {
		if s, ok := str(k); ok {
			if _, err := dates.Parse(s); err != nil {
				invalid = append(invalid, k)
			}
		}
	}
	for _, k := range nonEmptyKeys {
		if s, ok := str(k); ok && strings.TrimSpace(s) == "" {
			invalid = append(invalid, k)
		}
	}
	probe := probeParams()
	for _, k := range commandKeys {
		if s, ok := str(k); ok {
			if _, err := command.Build(s, probe); err != nil {
				invalid = append(invalid, k)
			}
		}
	}

	if len(invalid) == 0 {
		report.add("Metadata", StatusPass, "all keys have valid values")
		return
	}
	report.add("Metadata", StatusFail, "keys with invalid values - %s", strings.Join(invalid, ", "))
}

func probeParams() command.Params {
	d := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	name := "TEST"
	return command.Params{Start: &d, End: &d, Database: &name}
}

// checkStore reports which metadata entities already exist. It is advisory
// and degrades to a single failure when the store is unreachable.
func (c *Checker) checkStore(ctx context.Context, report *Report, raw map[string]json.RawMessage) {
	if ok, err := db.CheckConnection(ctx, c.db); !ok {
		report.add("Database", StatusFail, "connection failed - %v", err)
		return
	}
	var md registry.Metadata
	for k, v := range raw {
		var s string
		if json.Unmarshal(v, &s) != nil {
			continue
		}
		switch k {
		case "team":
			md.Team = s
		case "research_question":
			md.ResearchQuestion = s
		case "db_name":
			md.DBName = s
		case "model_name":
			md.ModelName = s
		case "model_version":
			md.ModelVersion = s
		}
	}

	dbc := dbctx.Context{Ctx: ctx}
	var created, existing []string
	schemaMissing := false
	note := func(key string, found bool, err error) {
		if err != nil {
			if db.IsUndefinedTable(err) {
				schemaMissing = true
				return
			}
			report.add("Database", StatusWarn, "could not look up %s - %v", key, err)
			return
		}
		if found {
			existing = append(existing, key)
		} else {
			created = append(created, key)
		}
	}

	if md.Team != "" {
		t, err := c.repos.Team.Get(dbc, md.Team)
		note("team", t != nil, err)
	}
	if md.ResearchQuestion != "" {
		q, err := c.repos.Question.Find(dbc, md.ResearchQuestion)
		note("research_question", q != nil, err)
	}
	if md.DBName != "" {
		name := md.DBName
		ds, err := c.repos.Dataset.Find(dbc, repos.DatasetKey{Database: &name})
		note("db_name", ds != nil, err)
	}
	if md.ModelName != "" {
		m, err := c.repos.Model.GetByName(dbc, md.ModelName)
		note("model_name", m != nil, err)
		if err == nil && m != nil && md.ModelVersion != "" {
			mv, err := c.repos.ModelVersion.Get(dbc, m.ID, md.ModelVersion)
			switch {
			case err != nil:
				report.add("Database", StatusWarn, "could not look up model_version - %v", err)
			case mv != nil:
				existing = append(existing, "model_version")
				report.add("Database", StatusFail, "model name and version already exist")
			default:
				created = append(created, "model_version")
				report.add("Database", StatusPass, "unique model name and version combination")
			}
		}
	}
	if schemaMissing {
		report.add("Database", StatusWarn, "schema not migrated, run `modmon db migrate`")
	}
	if len(created) > 0 {
		report.add("Database", StatusInfo, "new entries will be created for %s", strings.Join(created, ", "))
	}
	if len(existing) > 0 {
		report.add("Database", StatusWarn, "entries already exist for %s", strings.Join(existing, ", "))
	}
}

func checkMetricsFile(report *Report, path string, required bool) {
	area := "Metrics (" + filepath.Base(path) + ")"
	f, err := os.Open(path)
	if err != nil {
		switch {
		case !errors.Is(err, fs.ErrNotExist):
			report.add(area, StatusFail, "cannot read file: %v", err)
		case required:
			report.add(area, StatusFail, "file not found")
		}
		return
	}
	defer f.Close()
	report.add(area, StatusPass, "file exists")
	values, err := ingest.ParseMetrics(f)
	if err != nil {
		report.add(area, StatusFail, "%v", err)
		return
	}
	report.add(area, StatusPass, "found expected columns and %d numeric values", len(values))
}

func (c *Checker) checkEnvironment(ctx context.Context, report *Report, dir string, create bool) {
	types, err := envs.DetectTypes(dir)
	if err != nil {
		report.add("Environment", StatusFail, "cannot inspect directory: %v", err)
		return
	}
	if types.Conda {
		report.add("Environment", StatusPass, "conda found")
		if err := envs.ValidateCondaFile(filepath.Join(dir, envs.CondaFile)); err != nil {
			report.add("Environment", StatusFail, "%v", err)
			create = false
		}
	}
	if types.Renv {
		report.add("Environment", StatusPass, "renv found")
	}
	switch {
	case types.Conda && types.Renv:
		report.add("Environment", StatusWarn, "both conda and renv defined, conda takes priority")
	case !types.Any():
		report.add("Environment", StatusFail, "no conda or renv environment found")
		return
	}
	if !create {
		return
	}

	name := envs.TempPrefix + "check-" + uuid.NewString()
	report.add("Environment", StatusInfo, "creating environment %s", name)
	if _, err := c.envs.ProvisionNamed(ctx, dir, name, true); err != nil {
		report.add("Environment", StatusFail, "creation failed - %v", err)
		return
	}
	report.add("Environment", StatusPass, "environment created")
	if types.Conda {
		if err := c.envs.RemoveEnv(ctx, name); err != nil {
			report.add("Environment", StatusWarn, "could not remove %s - %v", name, err)
		}
	}
}

func (c *Checker) checkRepro(ctx context.Context, report *Report, dir string, params command.Params) {
	if c.repro == nil {
		report.add("Reproducibility", StatusWarn, "not configured, skipped")
		return
	}
	res, err := c.repro.Check(ctx, dir, params)
	switch {
	case err != nil:
		report.add("Reproducibility", StatusFail, "check failed - %v", err)
	case res.Reproducible:
		report.add("Reproducibility", StatusPass, "%s reproduced exactly", ingest.ScoresFile)
	default:
		report.add("Reproducibility", StatusFail, "%s differs from a fresh run (%s vs %s)", ingest.ScoresFile, short(res.ReferenceDigest), short(res.FreshDigest))
	}
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
