package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const (
	ScoreScript   = "score.py"
	PredictScript = "predict.py"
	TrainScript   = "train.py"

	ScoresCSV = "metric,value\nauc,0.81\naccuracy,0.75\n"
)

// Metadata returns a complete metadata descriptor for a model called name.
func Metadata(name, version string) map[string]any {
	return map[string]any{
		"team":                      "Team " + name,
		"contact":                   "A Person",
		"contact_email":             "a.person@example.org",
		"team_description":          "A team",
		"research_question":         "Will " + name + " work?",
		"model_name":                name,
		"model_description":         "A model",
		"model_version":             version,
		"db_name":                   "synpuf",
		"data_window_start":         "2020-01-01",
		"data_window_end":           "2020-12-31",
		"model_train_datetime":      "2021-01-05T10:00:00",
		"model_run_datetime":        "2021-01-06T10:00:00",
		"training_data_description": "training window",
		"test_data_description":     "test window",
		"score_command":             "python " + ScoreScript + " <start_date> <end_date> <database>",
		"predict_command":           "python " + PredictScript + " <start_date> <end_date> <database>",
		"retrain_command":           "python " + TrainScript + " <start_date> <end_date> <database>",
	}
}

// WriteModelDir writes a submittable model directory under parent and
// returns its path. overrides replace metadata keys; a nil value deletes
// the key.
func WriteModelDir(tb testing.TB, parent, name, version string, overrides map[string]any) string {
	tb.Helper()
	dir := filepath.Join(parent, name+"-"+version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatalf("mkdir model dir: %v", err)
	}
	md := Metadata(name, version)
	for k, v := range overrides {
		if v == nil {
			delete(md, k)
			continue
		}
		md[k] = v
	}
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		tb.Fatalf("encode metadata: %v", err)
	}
	WriteFile(tb, dir, "metadata.json", string(b))
	WriteFile(tb, dir, "scores.csv", ScoresCSV)
	WriteFile(tb, dir, ScoreScript, "print('score')\n")
	return dir
}

func WriteFile(tb testing.TB, dir, name, body string) {
	tb.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
}
