package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/modmon/internal/data/repos"
	"github.com/yungbote/modmon/internal/modules/command"
	"github.com/yungbote/modmon/internal/pkg/dates"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

const MetadataFile = "metadata.json"

// RetrainedDescription is written as the training data description of a
// retrained version.
const RetrainedDescription = "Automatically created by modmon"

var ErrMetadata = fmt.Errorf("%w: invalid %s", apperr.ErrConfiguration, MetadataFile)

// RequiredKeys must be present in every metadata file.
var RequiredKeys = []string{
	"team",
	"contact",
	"contact_email",
	"research_question",
	"model_name",
	"model_version",
	"db_name",
	"data_window_start",
	"data_window_end",
	"model_train_datetime",
	"model_run_datetime",
	"score_command",
	"predict_command",
	"retrain_command",
}

var OptionalKeys = []string{
	"team_description",
	"model_description",
	"training_data_description",
	"test_data_description",
}

// Metadata is the descriptor an analyst ships with a model directory.
type Metadata struct {
	Team                    string `json:"team"`
	Contact                 string `json:"contact"`
	ContactEmail            string `json:"contact_email"`
	ResearchQuestion        string `json:"research_question"`
	ModelName               string `json:"model_name"`
	ModelVersion            string `json:"model_version"`
	DBName                  string `json:"db_name"`
	DataWindowStart         string `json:"data_window_start"`
	DataWindowEnd           string `json:"data_window_end"`
	ModelTrainDatetime      string `json:"model_train_datetime"`
	ModelRunDatetime        string `json:"model_run_datetime"`
	ScoreCommand            string `json:"score_command"`
	PredictCommand          string `json:"predict_command"`
	RetrainCommand          string `json:"retrain_command"`
	TeamDescription         string `json:"team_description,omitempty"`
	ModelDescription        string `json:"model_description,omitempty"`
	TrainingDataDescription string `json:"training_data_description,omitempty"`
	TestDataDescription     string `json:"test_data_description,omitempty"`
}

// MissingKeysError lists required keys absent from a metadata file.
type MissingKeysError struct {
	Path string
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("%s is missing required keys: %s", e.Path, strings.Join(e.Keys, ", "))
}

func (e *MissingKeysError) Unwrap() error { return ErrMetadata }

// ReadMetadata loads dir/metadata.json and checks every required key is
// present. Values are not validated here.
func ReadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, MetadataFile)
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	if missing := MissingKeys(raw); len(missing) > 0 {
		return nil, &MissingKeysError{Path: path, Keys: missing}
	}
	var md Metadata
	if err := decodeStrings(raw, &md); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadata, path, err)
	}
	return &md, nil
}

// MissingKeys returns the required keys absent from raw, in declaration order.
func MissingKeys(raw map[string]json.RawMessage) []string {
	var missing []string
	for _, k := range RequiredKeys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func readRaw(path string) (map[string]json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrMetadata, path)
		}
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadata, path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object", ErrMetadata, path)
	}
	return raw, nil
}

// decodeStrings fills md, treating JSON null as "" and rejecting values
// that are not strings.
func decodeStrings(raw map[string]json.RawMessage, md *Metadata) error {
	clean := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if bytes.Equal(v, []byte("null")) {
			continue
		}
		if len(v) == 0 || v[0] != '"' {
			if isKnownKey(k) {
				return fmt.Errorf("key %q must be a string", k)
			}
			continue
		}
		clean[k] = v
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, md)
}

func isKnownKey(k string) bool {
	for _, known := range RequiredKeys {
		if k == known {
			return true
		}
	}
	for _, known := range OptionalKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Window is the dataset the analyst scored against.
func (m *Metadata) Window() (repos.DatasetKey, error) {
	var key repos.DatasetKey
	if db := strings.TrimSpace(m.DBName); db != "" {
		key.Database = &db
	}
	var err error
	if key.Start, err = dates.ParseOptional(m.DataWindowStart); err != nil {
		return key, fmt.Errorf("%w: data_window_start: %v", ErrMetadata, err)
	}
	if key.End, err = dates.ParseOptional(m.DataWindowEnd); err != nil {
		return key, fmt.Errorf("%w: data_window_end: %v", ErrMetadata, err)
	}
	return key, nil
}

// Params are the command parameters of the analyst's own run.
func (m *Metadata) Params() (command.Params, error) {
	key, err := m.Window()
	if err != nil {
		return command.Params{}, err
	}
	return command.Params{Start: key.Start, End: key.End, Database: key.Database}, nil
}

func (m *Metadata) TrainTime() (*time.Time, error) {
	t, err := dates.ParseOptional(m.ModelTrainDatetime)
	if err != nil {
		return nil, fmt.Errorf("%w: model_train_datetime: %v", ErrMetadata, err)
	}
	return t, nil
}

func (m *Metadata) RunTime() (time.Time, error) {
	t, err := dates.Parse(m.ModelRunDatetime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: model_run_datetime: %v", ErrMetadata, err)
	}
	return t, nil
}

// Commands returns the score, predict and retrain templates keyed by name.
func (m *Metadata) Commands() map[string]string {
	return map[string]string{
		"score_command":   m.ScoreCommand,
		"predict_command": m.PredictCommand,
		"retrain_command": m.RetrainCommand,
	}
}

// UpdateMetadata rewrites dir/metadata.json with updates applied. Keys not
// named in updates are kept as they were, unknown ones included.
func UpdateMetadata(dir string, updates map[string]any) error {
	path := filepath.Join(dir, MetadataFile)
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	for k, v := range updates {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		raw[k] = b
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, k := range keys {
		name, _ := json.Marshal(k)
		var val bytes.Buffer
		if err := json.Indent(&val, raw[k], "  ", "  "); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMetadata, k, err)
		}
		fmt.Fprintf(&buf, "  %s: %s", name, val.Bytes())
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// RetrainUpdates are the metadata changes recorded for a retrained version.
// Parameters that were not supplied are written as empty strings.
func RetrainUpdates(version string, at time.Time, params command.Params) map[string]any {
	updates := map[string]any{
		"model_version":             version,
		"model_train_datetime":      dates.ISO(at),
		"model_run_datetime":        dates.ISO(at),
		"data_window_start":         "",
		"data_window_end":           "",
		"db_name":                   "",
		"training_data_description": RetrainedDescription,
		"test_data_description":     "",
	}
	if params.Start != nil {
		updates["data_window_start"] = params.Start.UTC().Format(command.DateLayout)
	}
	if params.End != nil {
		updates["data_window_end"] = params.End.UTC().Format(command.DateLayout)
	}
	if params.Database != nil {
		updates["db_name"] = *params.Database
	}
	return updates
}
