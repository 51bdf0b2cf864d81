package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/yungbote/modmon/internal/data/repos"
	types "github.com/yungbote/modmon/internal/domain"
	"github.com/yungbote/modmon/internal/domain/results"
	"github.com/yungbote/modmon/internal/pkg/dbctx"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

const (
	ScoresFile         = "scores.csv"
	TrainingScoresFile = "training_scores.csv"
	PredictionsFile    = "predictions.json"

	MetricColumn = "metric"
	ValueColumn  = "value"
)

var (
	ErrBadColumns     = fmt.Errorf("%w: metrics file must have exactly the columns %q and %q", apperr.ErrConfiguration, MetricColumn, ValueColumn)
	ErrBadValue       = fmt.Errorf("%w: metrics file has an invalid row", apperr.ErrConfiguration)
	ErrBadPredictions = fmt.Errorf("%w: predictions file must be a JSON object of record id to values", apperr.ErrConfiguration)
)

// MissingOutputError means a command exited cleanly without writing the
// file it is contracted to produce.
type MissingOutputError struct {
	Path    string
	Command string
}

func (e *MissingOutputError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s not found", e.Path)
	}
	return fmt.Sprintf("%s not found, it should be created by running %s", e.Path, e.Command)
}

func (e *MissingOutputError) Unwrap() []error {
	return []error{apperr.ErrMissingArtifact, fs.ErrNotExist}
}

// OutputFile is the file a command kind is contracted to write.
func OutputFile(kind types.CommandKind) string {
	if kind == types.CommandPredict {
		return PredictionsFile
	}
	return ScoresFile
}

// ValidateColumns checks a metrics header after trimming whitespace.
func ValidateColumns(header []string) error {
	if len(header) != 2 {
		return fmt.Errorf("%w: got %q", ErrBadColumns, header)
	}
	got := []string{strings.TrimSpace(header[0]), strings.TrimSpace(header[1])}
	if got[0] != MetricColumn || got[1] != ValueColumn {
		return fmt.Errorf("%w: got %q", ErrBadColumns, got)
	}
	return nil
}

// ReadMetrics parses a two-column metrics file.
func ReadMetrics(path string) ([]repos.MetricValue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingOutputError{Path: path}
		}
		return nil, err
	}
	return ParseMetrics(bytes.NewReader(raw))
}

func ParseMetrics(r io.Reader) ([]repos.MetricValue, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrBadColumns)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadColumns, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if err := ValidateColumns(header); err != nil {
		return nil, err
	}

	var out []repos.MetricValue
	seen := map[string]bool{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadValue, line, err)
		}
		if len(rec) != 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrBadValue, line, len(rec))
		}
		name := strings.TrimSpace(rec[0])
		if name == "" {
			return nil, fmt.Errorf("%w: line %d has no metric name", ErrBadValue, line)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: metric %q repeated on line %d", ErrBadValue, name, line)
		}
		seen[name] = true
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadValue, line, err)
		}
		out = append(out, repos.MetricValue{Metric: name, Value: v})
	}
	return out, nil
}

// ReadPredictions parses a predictions file: a JSON object keyed by record
// id whose values are stored verbatim.
func ReadPredictions(path string) (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingOutputError{Path: path}
		}
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPredictions, err)
	}
	if out == nil {
		return nil, ErrBadPredictions
	}
	return out, nil
}

type Ingestor struct {
	metrics repos.MetricRepo
	results repos.ResultRepo
	log     *logger.Logger
}

func NewIngestor(metrics repos.MetricRepo, results repos.ResultRepo, baseLog *logger.Logger) *Ingestor {
	return &Ingestor{
		metrics: metrics,
		results: results,
		log:     baseLog.With("component", "ResultIngestor"),
	}
}

// Ingest reads path and records its rows under key in the table for kind.
// command names what should have produced path and is only used in the
// missing-output error. It returns the number of rows written.
func (i *Ingestor) Ingest(dbc dbctx.Context, kind types.ResultKind, key repos.RunKey, path, command string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &MissingOutputError{Path: path, Command: command}
		}
		return 0, err
	}
	switch kind {
	case results.KindScore, results.KindResult:
		values, err := ReadMetrics(path)
		if err != nil {
			return 0, err
		}
		return len(values), i.InsertMetrics(dbc, kind, key, values)
	case results.KindPrediction:
		records, err := ReadPredictions(path)
		if err != nil {
			return 0, err
		}
		if err := i.results.InsertPredictions(dbc, key, records); err != nil {
			return 0, fmt.Errorf("%w: insert predictions: %v", apperr.ErrStore, err)
		}
		i.log.Info("predictions recorded", "model_id", key.ModelID, "version", key.Version, "dataset_id", key.DatasetID, "run_id", key.RunID, "records", len(records))
		return len(records), nil
	default:
		return 0, fmt.Errorf("%w: result kind %q", apperr.ErrInvalidArgument, kind)
	}
}

// InsertMetrics adds unknown metric names to the catalog, then writes values.
func (i *Ingestor) InsertMetrics(dbc dbctx.Context, kind types.ResultKind, key repos.RunKey, values []repos.MetricValue) error {
	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, v.Metric)
	}
	if _, err := i.metrics.Ensure(dbc, names); err != nil {
		return fmt.Errorf("%w: update metric catalog: %v", apperr.ErrStore, err)
	}
	if err := i.results.InsertMetrics(dbc, kind, key, values); err != nil {
		return fmt.Errorf("%w: insert %s rows: %v", apperr.ErrStore, kind, err)
	}
	i.log.Info("metrics recorded", "kind", kind, "model_id", key.ModelID, "version", key.Version, "dataset_id", key.DatasetID, "run_id", key.RunID, "metrics", len(values))
	return nil
}
