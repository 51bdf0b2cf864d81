package command

import (
	"errors"
	"reflect"
	"testing"
	"time"

	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

func TestBuild(t *testing.T) {
	start := time.Date(2021, 1, 1, 15, 0, 0, 0, time.UTC)
	end := time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)
	db := "omop; rm -rf /"

	tests := []struct {
		name     string
		template string
		params   Params
		want     []string
		wantErr  error
	}{
		{
			name:     "all tokens",
			template: "python score.py <start_date> <end_date> <database>",
			params:   Params{Start: &start, End: &end, Database: &db},
			want:     []string{"python", "score.py", "2021-01-01", "2021-06-30", "omop; rm -rf /"},
		},
		{
			name:     "token inside a flag",
			template: `Rscript run.R --from=<start_date> --db "<database>"`,
			params:   Params{Start: &start, Database: &db},
			want:     []string{"Rscript", "run.R", "--from=2021-01-01", "--db", "omop; rm -rf /"},
		},
		{
			name:     "only some tokens used, others may be nil",
			template: "python score.py <database>",
			params:   Params{Database: &db},
			want:     []string{"python", "score.py", "omop; rm -rf /"},
		},
		{
			name:     "missing parameter",
			template: "python score.py <start_date> <end_date>",
			params:   Params{Start: &start},
			wantErr:  ErrMissingParameter,
		},
		{
			name:     "no placeholders",
			template: "python score.py",
			params:   Params{Start: &start, End: &end, Database: &db},
			wantErr:  ErrNoPlaceholders,
		},
		{
			name:     "unbalanced quote",
			template: `python "score.py <database>`,
			params:   Params{Database: &db},
			wantErr:  ErrBadTemplate,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Build(tc.template, tc.params)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if !errors.Is(err, apperr.ErrConfiguration) {
					t.Fatalf("expected configuration class, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Build = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildMissingParameterNamesToken(t *testing.T) {
	_, err := Build("run <end_date>", Params{})
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TemplateError, got %T", err)
	}
	if te.Token != TokenEndDate {
		t.Fatalf("expected token %s, got %q", TokenEndDate, te.Token)
	}
}

func TestBuildString(t *testing.T) {
	db := "my db"
	got, err := BuildString("python score.py <database>", Params{Database: &db})
	if err != nil {
		t.Fatalf("BuildString: %v", err)
	}
	if got != "python score.py 'my db'" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("python score.py <start_date>"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate("python score.py"); !errors.Is(err, ErrNoPlaceholders) {
		t.Fatalf("expected ErrNoPlaceholders, got %v", err)
	}
}

func TestBuildRejectsShellOperators(t *testing.T) {
	db := "omop"
	_, err := Build("make clean; make DATABASE=<database>", Params{Database: &db})
	if !errors.Is(err, ErrBadTemplate) {
		t.Fatalf("expected ErrBadTemplate, got %v", err)
	}
}
